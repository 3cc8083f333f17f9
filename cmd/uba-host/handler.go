package main

import (
	"encoding/binary"
	"fmt"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/network"
	"github.com/uba-build/uba/scheduler"
	"github.com/uba-build/uba/session"
	"github.com/uba-build/uba/stats"
	"github.com/uba-build/uba/storageproxy"
)

// newHandler demultiplexes inbound requests by service id: storage
// fetches go to the proxy, session messages drive the process queue,
// system messages are answered by handleSystem, and any other service id
// gets an error reply.
func newHandler(proxy *storageproxy.Proxy, host *session.Host, sched *scheduler.Scheduler, tracker *stats.Tracker, store *cas.Store) func(*network.Conn, network.SendHeader, []byte) {
	return func(c *network.Conn, hdr network.SendHeader, body []byte) {
		switch hdr.Service {
		case network.ServiceStorage:
			handleStorage(c, hdr, body, proxy, tracker)
		case network.ServiceSession:
			handleSession(c, hdr, body, host, sched, store)
		case network.ServiceSystem:
			handleSystem(c, hdr, body)
		default:
			_ = c.ReplyError(hdr.MsgID)
		}
	}
}

func handleSystem(c *network.Conn, hdr network.SendHeader, _ []byte) {
	switch hdr.MsgType {
	case network.MsgKeepAlive:
		_ = c.ReplyKeepAlive(hdr.MsgID)
	default:
		_ = c.Reply(hdr.MsgID, nil)
	}
}

func handleStorage(c *network.Conn, hdr network.SendHeader, body []byte, proxy *storageproxy.Proxy, tracker *stats.Tracker) {
	switch hdr.MsgType {
	case network.MsgFetchBegin:
		if len(body) < cas.KeySize {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		var key cas.CasKey
		copy(key[:], body[:cas.KeySize])
		aw := proxy.FetchBegin(key)
		go streamFetch(c, hdr.MsgID, proxy, aw, tracker)
	case network.MsgReportBadProxy:
		proxy.ReportBadProxy(string(body))
		_ = c.Reply(hdr.MsgID, nil)
	default:
		_ = c.Reply(hdr.MsgID, nil)
	}
}

// streamFetch relays segments to the caller as a sequence of replies on
// the same message id; the last reply carries a trailing done marker
// byte so the helper's client code knows to stop reading.
func streamFetch(c *network.Conn, msgID uint16, proxy *storageproxy.Proxy, aw *storageproxy.Awaiter, tracker *stats.Tracker) {
	for seg := range aw.RespCh {
		if seg.Err != nil {
			_ = c.ReplyError(msgID)
			proxy.Disconnect(aw)
			return
		}
		frame := make([]byte, len(seg.Data)+1)
		copy(frame, seg.Data)
		if seg.Done {
			frame[len(frame)-1] = 1
		}
		if err := c.Reply(msgID, frame); err != nil {
			proxy.Disconnect(aw)
			return
		}
		if tracker != nil {
			tracker.Add(stats.CasFetchSize, int64(len(seg.Data)))
		}
		if seg.Done {
			if tracker != nil {
				tracker.Add(stats.CasFetchCount, 1)
			}
			return
		}
	}
}

func handleSession(c *network.Conn, hdr network.SendHeader, body []byte, host *session.Host, sched *scheduler.Scheduler, store *cas.Store) {
	switch hdr.MsgType {
	case network.MsgGetNextProcess:
		p, resp := host.GetNextProcess()
		if resp != session.NextProcessRecord {
			_ = c.Reply(hdr.MsgID, []byte{byte(resp)})
			return
		}
		buf := append([]byte{byte(session.NextProcessRecord)}, session.EncodeStartInfo(p.Info)...)
		_ = c.Reply(hdr.MsgID, buf)
	case network.MsgGetFileFromServer:
		key, ok := host.LookupHashPath(string(body))
		if !ok {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		_ = c.Reply(hdr.MsgID, key[:])
	case network.MsgGetDirectoriesFromServer, network.MsgListDirectory:
		e, ok := host.LookupDirPath(string(body))
		if !ok {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		_ = c.Reply(hdr.MsgID, session.EncodeDirEntry(e))
	case network.MsgGetNameToHashFromServer:
		key, ok := host.LookupHashPath(string(body))
		if !ok {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		_ = c.Reply(hdr.MsgID, key[:])
	case network.MsgDeleteFile:
		host.RecordDelete(string(body))
		_ = c.Reply(hdr.MsgID, nil)
	case network.MsgCopyFile:
		src, dest, err := decodeTwoStrings(body)
		if err != nil {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		if err := host.RecordCopy(src, dest); err != nil {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		_ = c.Reply(hdr.MsgID, nil)
	case network.MsgCreateDirectory:
		host.RecordCreateDirectory(string(body))
		_ = c.Reply(hdr.MsgID, nil)
	case network.MsgRemoveDirectory:
		host.RecordRemoveDirectory(string(body))
		_ = c.Reply(hdr.MsgID, nil)
	case network.MsgGetRoots:
		if len(body) < 4 {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		id := binary.BigEndian.Uint32(body[:4])
		handle, ok := host.Roots.Get(id)
		if !ok {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		_ = c.Reply(hdr.MsgID, session.EncodeRootsHandle(handle))
	case network.MsgProcessAvailable:
		resp := host.PeekNextProcess()
		_ = c.Reply(hdr.MsgID, []byte{byte(resp)})
	case network.MsgProcessInputs:
		if len(body) < 4 {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		processID := binary.BigEndian.Uint32(body[:4])
		inputs, err := decodeOutputKeys(body[4:])
		if err != nil {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		p, ok := host.Procs.Get(processID)
		if !ok {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		p.SetActualInputs(inputs)
		_ = c.Reply(hdr.MsgID, nil)
	case network.MsgSendFileToServer:
		if len(body) < cas.KeySize {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		var key cas.CasKey
		copy(key[:], body[:cas.KeySize])
		if err := store.StoreBytes(key, body[cas.KeySize:]); err != nil {
			nlog.Warningln("session: storing shipped output failed:", err)
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		_ = c.Reply(hdr.MsgID, nil)
	case network.MsgProcessFinished:
		if len(body) < 8 {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		processID := binary.BigEndian.Uint32(body[:4])
		exitCode := int32(binary.BigEndian.Uint32(body[4:8]))
		outputs, err := decodeOutputKeys(body[8:])
		if err != nil {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		p, ok := host.Procs.Get(processID)
		if !ok {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		state := session.StateFinishedSuccess
		if exitCode != 0 {
			state = session.StateFinishedError
		}
		p.Finish(state, int(exitCode), outputs)
		sched.NotifyRemoteFinished(processID)
		_ = c.Reply(hdr.MsgID, nil)
	case network.MsgCommand:
		submitGraph(c, hdr, body, host, sched)
	case network.MsgSummary:
		queued, local, remote, fin := sched.Counters()
		buf := make([]byte, 32)
		binary.BigEndian.PutUint64(buf[0:8], uint64(queued))
		binary.BigEndian.PutUint64(buf[8:16], uint64(local))
		binary.BigEndian.PutUint64(buf[16:24], uint64(remote))
		binary.BigEndian.PutUint64(buf[24:32], uint64(fin))
		_ = c.Reply(hdr.MsgID, buf)
	case network.MsgProcessReturned:
		if len(body) < 4 {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		processID := binary.BigEndian.Uint32(body[:4])
		p, ok := host.Procs.Get(processID)
		if !ok {
			_ = c.ReplyError(hdr.MsgID)
			return
		}
		host.ProcessReturned(p, "helper returned process")
		_ = c.Reply(hdr.MsgID, nil)
	default:
		_ = c.Reply(hdr.MsgID, nil)
	}
}

// submitGraph accepts a whole build graph from the CLI in one message:
// nodes arrive in dependency order (the submitter topo-sorts), so each
// node's dependencies are already registered by the time it is
// enqueued and the index-to-processID remap below always resolves.
func submitGraph(c *network.Conn, hdr network.SendHeader, body []byte, host *session.Host, sched *scheduler.Scheduler) {
	nodes, err := session.DecodeGraphSubmit(body)
	if err != nil {
		_ = c.ReplyError(hdr.MsgID)
		return
	}
	ids := make([]uint32, len(nodes))
	for i, n := range nodes {
		p := host.Procs.Add(n.Info)
		ids[i] = p.Info.ProcessID

		deps := make([]uint32, len(n.Dependencies))
		for j, d := range n.Dependencies {
			if int(d) < i {
				deps[j] = ids[d]
			}
		}
		sched.Enqueue(scheduler.EnqueueInfo{
			Info:               p.Info,
			Dependencies:       deps,
			CacheBucketID:      n.CacheBucketID,
			CanDetour:          n.CanDetour,
			CanExecuteRemotely: n.CanExecRemote,
			WriteToCache:       n.WriteToCache,
			Proc:               p,
		})
	}
	reply := make([]byte, 4+4*len(ids))
	binary.BigEndian.PutUint32(reply, uint32(len(ids)))
	for i, id := range ids {
		binary.BigEndian.PutUint32(reply[4+i*4:], id)
	}
	_ = c.Reply(hdr.MsgID, reply)
}

// decodeOutputKeys parses the trailing [count][count*KeySize-byte key]
// block a helper appends to its ProcessFinished/ProcessInputs reports.
func decodeOutputKeys(b []byte) ([]cas.CasKey, error) {
	if len(b) < 4 {
		return nil, nil
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n*cas.KeySize {
		return nil, fmt.Errorf("session: short output key block")
	}
	keys := make([]cas.CasKey, n)
	for i := uint32(0); i < n; i++ {
		copy(keys[i][:], b[i*cas.KeySize:(i+1)*cas.KeySize])
	}
	return keys, nil
}

// decodeTwoStrings splits a [u32 len][bytes][u32 len][bytes] body into
// its two strings, the wire shape MsgCopyFile uses for source and
// destination path.
func decodeTwoStrings(b []byte) (string, string, error) {
	if len(b) < 4 {
		return "", "", fmt.Errorf("session: short two-string body")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return "", "", fmt.Errorf("session: short first string")
	}
	first := string(b[:n])
	b = b[n:]
	if len(b) < 4 {
		return "", "", fmt.Errorf("session: missing second string length")
	}
	n2 := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n2 {
		return "", "", fmt.Errorf("session: short second string")
	}
	return first, string(b[:n2]), nil
}
