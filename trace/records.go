package trace

import (
	"github.com/tinylib/msgp/msgp"
)

// Every record body is a small msgpack map, encoded/decoded by hand in
// the same field-by-field style the pack's generated (*_gen.go) code
// uses, just without the code generator: a fixed map header followed
// by short string keys.

type SessionInitBody struct {
	SessionID string
	HostName  string
	Zone      string
}

func (z *SessionInitBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(3); err != nil {
		return
	}
	if err = en.WriteString("id"); err != nil {
		return
	}
	if err = en.WriteString(z.SessionID); err != nil {
		return
	}
	if err = en.WriteString("host"); err != nil {
		return
	}
	if err = en.WriteString(z.HostName); err != nil {
		return
	}
	if err = en.WriteString("zone"); err != nil {
		return
	}
	return en.WriteString(z.Zone)
}

func (z *SessionInitBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "id":
			z.SessionID, err = dc.ReadString()
		case "host":
			z.HostName, err = dc.ReadString()
		case "zone":
			z.Zone, err = dc.ReadString()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type ProcessStartBody struct {
	ProcessID uint32
	Argv0     string
	StartedAt int64 // ticks since header start time, at Header.Frequency
}

func (z *ProcessStartBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(3); err != nil {
		return
	}
	if err = en.WriteString("p"); err != nil {
		return
	}
	if err = en.WriteUint32(z.ProcessID); err != nil {
		return
	}
	if err = en.WriteString("a"); err != nil {
		return
	}
	if err = en.WriteString(z.Argv0); err != nil {
		return
	}
	if err = en.WriteString("t"); err != nil {
		return
	}
	return en.WriteInt64(z.StartedAt)
}

func (z *ProcessStartBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "p":
			z.ProcessID, err = dc.ReadUint32()
		case "a":
			z.Argv0, err = dc.ReadString()
		case "t":
			z.StartedAt, err = dc.ReadInt64()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type ProcessUpdateBody struct {
	ProcessID uint32
	Mode      uint8 // session.ExecutionMode
	Detail    string
}

func (z *ProcessUpdateBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(3); err != nil {
		return
	}
	if err = en.WriteString("p"); err != nil {
		return
	}
	if err = en.WriteUint32(z.ProcessID); err != nil {
		return
	}
	if err = en.WriteString("m"); err != nil {
		return
	}
	if err = en.WriteUint8(z.Mode); err != nil {
		return
	}
	if err = en.WriteString("d"); err != nil {
		return
	}
	return en.WriteString(z.Detail)
}

func (z *ProcessUpdateBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "p":
			z.ProcessID, err = dc.ReadUint32()
		case "m":
			z.Mode, err = dc.ReadUint8()
		case "d":
			z.Detail, err = dc.ReadString()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type ProcessStopBody struct {
	ProcessID uint32
	ExitCode  int32
	Reason    string
	EndedAt   int64
}

func (z *ProcessStopBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(4); err != nil {
		return
	}
	if err = en.WriteString("p"); err != nil {
		return
	}
	if err = en.WriteUint32(z.ProcessID); err != nil {
		return
	}
	if err = en.WriteString("e"); err != nil {
		return
	}
	if err = en.WriteInt32(z.ExitCode); err != nil {
		return
	}
	if err = en.WriteString("r"); err != nil {
		return
	}
	if err = en.WriteString(z.Reason); err != nil {
		return
	}
	if err = en.WriteString("t"); err != nil {
		return
	}
	return en.WriteInt64(z.EndedAt)
}

func (z *ProcessStopBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "p":
			z.ProcessID, err = dc.ReadUint32()
		case "e":
			z.ExitCode, err = dc.ReadInt32()
		case "r":
			z.Reason, err = dc.ReadString()
		case "t":
			z.EndedAt, err = dc.ReadInt64()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type FileTransferBody struct {
	ProcessID uint32
	Path      string
	Bytes     int64
	Done      bool
}

func (z *FileTransferBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(4); err != nil {
		return
	}
	if err = en.WriteString("p"); err != nil {
		return
	}
	if err = en.WriteUint32(z.ProcessID); err != nil {
		return
	}
	if err = en.WriteString("f"); err != nil {
		return
	}
	if err = en.WriteString(z.Path); err != nil {
		return
	}
	if err = en.WriteString("b"); err != nil {
		return
	}
	if err = en.WriteInt64(z.Bytes); err != nil {
		return
	}
	if err = en.WriteString("d"); err != nil {
		return
	}
	return en.WriteBool(z.Done)
}

func (z *FileTransferBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "p":
			z.ProcessID, err = dc.ReadUint32()
		case "f":
			z.Path, err = dc.ReadString()
		case "b":
			z.Bytes, err = dc.ReadInt64()
		case "d":
			z.Done, err = dc.ReadBool()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type CacheResultBody struct {
	ProcessID uint32
	BucketID  string
}

func (z *CacheResultBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(2); err != nil {
		return
	}
	if err = en.WriteString("p"); err != nil {
		return
	}
	if err = en.WriteUint32(z.ProcessID); err != nil {
		return
	}
	if err = en.WriteString("b"); err != nil {
		return
	}
	return en.WriteString(z.BucketID)
}

func (z *CacheResultBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "p":
			z.ProcessID, err = dc.ReadUint32()
		case "b":
			z.BucketID, err = dc.ReadString()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type ActiveCountSampleBody struct {
	Local  uint32
	Remote uint32
	Queued uint32
}

func (z *ActiveCountSampleBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(3); err != nil {
		return
	}
	if err = en.WriteString("l"); err != nil {
		return
	}
	if err = en.WriteUint32(z.Local); err != nil {
		return
	}
	if err = en.WriteString("r"); err != nil {
		return
	}
	if err = en.WriteUint32(z.Remote); err != nil {
		return
	}
	if err = en.WriteString("q"); err != nil {
		return
	}
	return en.WriteUint32(z.Queued)
}

func (z *ActiveCountSampleBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "l":
			z.Local, err = dc.ReadUint32()
		case "r":
			z.Remote, err = dc.ReadUint32()
		case "q":
			z.Queued, err = dc.ReadUint32()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type CpuMemSampleBody struct {
	CPUPercent float64
	MemPercent float64
}

func (z *CpuMemSampleBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(2); err != nil {
		return
	}
	if err = en.WriteString("c"); err != nil {
		return
	}
	if err = en.WriteFloat64(z.CPUPercent); err != nil {
		return
	}
	if err = en.WriteString("m"); err != nil {
		return
	}
	return en.WriteFloat64(z.MemPercent)
}

func (z *CpuMemSampleBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "c":
			z.CPUPercent, err = dc.ReadFloat64()
		case "m":
			z.MemPercent, err = dc.ReadFloat64()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type DriveSampleBody struct {
	Name     string
	ReadBps  float64
	WriteBps float64
	Busy     float64
}

func (z *DriveSampleBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(4); err != nil {
		return
	}
	if err = en.WriteString("n"); err != nil {
		return
	}
	if err = en.WriteString(z.Name); err != nil {
		return
	}
	if err = en.WriteString("r"); err != nil {
		return
	}
	if err = en.WriteFloat64(z.ReadBps); err != nil {
		return
	}
	if err = en.WriteString("w"); err != nil {
		return
	}
	if err = en.WriteFloat64(z.WriteBps); err != nil {
		return
	}
	if err = en.WriteString("b"); err != nil {
		return
	}
	return en.WriteFloat64(z.Busy)
}

func (z *DriveSampleBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "n":
			z.Name, err = dc.ReadString()
		case "r":
			z.ReadBps, err = dc.ReadFloat64()
		case "w":
			z.WriteBps, err = dc.ReadFloat64()
		case "b":
			z.Busy, err = dc.ReadFloat64()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type LogBody struct {
	ProcessID uint32
	Line      string
}

func (z *LogBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(2); err != nil {
		return
	}
	if err = en.WriteString("p"); err != nil {
		return
	}
	if err = en.WriteUint32(z.ProcessID); err != nil {
		return
	}
	if err = en.WriteString("l"); err != nil {
		return
	}
	return en.WriteString(z.Line)
}

func (z *LogBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "p":
			z.ProcessID, err = dc.ReadUint32()
		case "l":
			z.Line, err = dc.ReadString()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type SummaryBody struct {
	TotalProcesses   uint32
	CacheHits        uint32
	LocalExecutions  uint32
	RemoteExecutions uint32
	WallSeconds      float64
}

func (z *SummaryBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(5); err != nil {
		return
	}
	if err = en.WriteString("t"); err != nil {
		return
	}
	if err = en.WriteUint32(z.TotalProcesses); err != nil {
		return
	}
	if err = en.WriteString("c"); err != nil {
		return
	}
	if err = en.WriteUint32(z.CacheHits); err != nil {
		return
	}
	if err = en.WriteString("l"); err != nil {
		return
	}
	if err = en.WriteUint32(z.LocalExecutions); err != nil {
		return
	}
	if err = en.WriteString("r"); err != nil {
		return
	}
	if err = en.WriteUint32(z.RemoteExecutions); err != nil {
		return
	}
	if err = en.WriteString("w"); err != nil {
		return
	}
	return en.WriteFloat64(z.WallSeconds)
}

func (z *SummaryBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "t":
			z.TotalProcesses, err = dc.ReadUint32()
		case "c":
			z.CacheHits, err = dc.ReadUint32()
		case "l":
			z.LocalExecutions, err = dc.ReadUint32()
		case "r":
			z.RemoteExecutions, err = dc.ReadUint32()
		case "w":
			z.WallSeconds, err = dc.ReadFloat64()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type ProgressBody struct {
	Percent float64
}

func (z *ProgressBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(1); err != nil {
		return
	}
	if err = en.WriteString("p"); err != nil {
		return
	}
	return en.WriteFloat64(z.Percent)
}

func (z *ProgressBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "p":
			z.Percent, err = dc.ReadFloat64()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}

type StatusBody struct {
	Text string
}

func (z *StatusBody) EncodeMsg(en *msgp.Writer) (err error) {
	if err = en.WriteMapHeader(1); err != nil {
		return
	}
	if err = en.WriteString("s"); err != nil {
		return
	}
	return en.WriteString(z.Text)
}

func (z *StatusBody) DecodeMsg(dc *msgp.Reader) (err error) {
	var n uint32
	if n, err = dc.ReadMapHeader(); err != nil {
		return
	}
	for ; n > 0; n-- {
		var key string
		if key, err = dc.ReadString(); err != nil {
			return
		}
		switch key {
		case "s":
			z.Text, err = dc.ReadString()
		default:
			err = dc.Skip()
		}
		if err != nil {
			return
		}
	}
	return nil
}
