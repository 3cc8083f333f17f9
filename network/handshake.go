package network

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// HandshakeErr enumerates the server's reply byte. Cases 3 and 4 are
// surfaced to the client as a retriable timeout so a plain reconnect
// loop keeps trying without the peer believing the client gave up.
type HandshakeErr uint8

const (
	HandshakeOK HandshakeErr = iota
	HandshakeVersionMismatch
	HandshakeBadClientGUID
	HandshakeNewClientsDisallowed
	HandshakeServerDisconnectedEarly
	HandshakeZeroServerGUID
	HandshakeWrongServerGUID
)

func (e HandshakeErr) RetryLater() bool {
	return e == HandshakeNewClientsDisallowed || e == HandshakeServerDisconnectedEarly
}

func (e HandshakeErr) Error() string {
	switch e {
	case HandshakeOK:
		return "ok"
	case HandshakeVersionMismatch:
		return "version mismatch"
	case HandshakeBadClientGUID:
		return "bad client guid"
	case HandshakeNewClientsDisallowed:
		return "timeout, retry later: new clients disallowed"
	case HandshakeServerDisconnectedEarly:
		return "timeout, retry later: server disconnected early"
	case HandshakeZeroServerGUID:
		return "zero server guid"
	case HandshakeWrongServerGUID:
		return "wrong server guid (retry with new client)"
	default:
		return fmt.Sprintf("unknown handshake error %d", uint8(e))
	}
}

const ProtocolVersion uint32 = 1

// ClientHandshake is what a client writes on connect, preceded on the
// wire by an optional crypto probe blob the caller encrypts separately.
type ClientHandshake struct {
	Version uint32
	GUID    uuid.UUID
}

func WriteClientHandshake(w io.Writer, h ClientHandshake) error {
	if err := binary.Write(w, binary.BigEndian, h.Version); err != nil {
		return err
	}
	_, err := w.Write(h.GUID[:])
	return err
}

func ReadClientHandshake(r io.Reader) (ClientHandshake, error) {
	var h ClientHandshake
	if err := binary.Read(r, binary.BigEndian, &h.Version); err != nil {
		return h, err
	}
	if _, err := io.ReadFull(r, h.GUID[:]); err != nil {
		return h, err
	}
	return h, nil
}

// ServerHandshake is the server's reply: a single error byte followed by
// its own GUID (sixteen bytes, possibly all-zero only when rejecting).
type ServerHandshake struct {
	Err  HandshakeErr
	GUID uuid.UUID
}

func WriteServerHandshake(w io.Writer, h ServerHandshake) error {
	if _, err := w.Write([]byte{byte(h.Err)}); err != nil {
		return err
	}
	_, err := w.Write(h.GUID[:])
	return err
}

func ReadServerHandshake(r io.Reader) (ServerHandshake, error) {
	var h ServerHandshake
	br := bufio.NewReader(r)
	eb, err := br.ReadByte()
	if err != nil {
		return h, err
	}
	h.Err = HandshakeErr(eb)
	if _, err := io.ReadFull(br, h.GUID[:]); err != nil {
		return h, err
	}
	return h, nil
}

func NewGUID() uuid.UUID { return uuid.New() }
