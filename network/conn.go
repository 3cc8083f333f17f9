package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/uba-build/uba/cmn/atomic"
	"github.com/uba-build/uba/cmn/cos"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/crypto"
)

// connection states, mirroring the teacher transport stream's
// inactive/active pair but named for a plain socket rather than an HTTP
// session.
const (
	connDisconnected int32 = iota
	connConnected
)

type pendingCall struct {
	respCh chan Response
}

type Response struct {
	Header RecvHeader
	Body   []byte
	Err    error
}

// Conn wraps one net.Conn plus the per-connection message-id pool and
// in-flight call table. A client's Pool holds several of these; any one
// of them can service any logical request (round-robin selection skips
// a Conn whose state isn't connected).
type Conn struct {
	nc       net.Conn
	state    atomic.Int32
	ids      *idPool
	stream   *crypto.Stream // nil if crypto disabled
	unstream *crypto.Stream

	mtx     sync.Mutex
	pending map[uint16]*pendingCall

	recvTimeout time.Duration
	stopCh      cos.StopCh

	lastActivity atomic.Int64 // unix nanos
}

func NewConn(nc net.Conn, recvTimeout time.Duration) *Conn {
	c := &Conn{
		nc:          nc,
		ids:         newIDPool(),
		pending:     make(map[uint16]*pendingCall),
		recvTimeout: recvTimeout,
	}
	c.stopCh.Init()
	c.state.Store(connConnected)
	c.touch()
	return c
}

// SetCryptoStreams installs the per-direction CTR keystreams negotiated
// during the handshake; bodies are wrapped with send and unwrapped with
// recv from this point on, empty bodies excepted.
func (c *Conn) SetCryptoStreams(send, recv *crypto.Stream) {
	c.stream = send
	c.unstream = recv
}

func (c *Conn) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

func (c *Conn) IdleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func (c *Conn) Connected() bool { return c.state.Load() == connConnected }

func (c *Conn) Close() error {
	if !c.state.CAS(connConnected, connDisconnected) {
		return nil
	}
	c.stopCh.Close()
	c.failAllPending(fmt.Errorf("peer-disconnected"))
	return c.nc.Close()
}

func (c *Conn) failAllPending(err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for id, p := range c.pending {
		p.respCh <- Response{Err: err}
		delete(c.pending, id)
	}
}

// Send writes one framed request and blocks until its matching response
// arrives, the context is cancelled, or the connection drops.
func (c *Conn) Send(ctx context.Context, service, msgType uint8, body []byte) (Response, error) {
	if !c.Connected() {
		return Response{}, fmt.Errorf("peer-disconnected")
	}
	if len(body) > MaxBodySize {
		return Response{}, fmt.Errorf("body size %d exceeds max %d", len(body), MaxBodySize)
	}
	id, ok := c.ids.AcquireBlocking(c.stopCh.Listen())
	if !ok {
		return Response{}, fmt.Errorf("peer-disconnected")
	}
	defer c.ids.Release(id)

	pc := &pendingCall{respCh: make(chan Response, 1)}
	c.mtx.Lock()
	c.pending[id] = pc
	c.mtx.Unlock()

	hdr, err := EncodeSendHeader(SendHeader{Service: service, MsgType: msgType, MsgID: id, BodySize: uint32(len(body))})
	if err != nil {
		c.dropPending(id)
		return Response{}, err
	}
	if c.stream != nil {
		c.stream.XORInPlace(body)
	}
	c.touch()
	if _, err := c.nc.Write(hdr[:]); err != nil {
		c.dropPending(id)
		return Response{}, err
	}
	if len(body) > 0 {
		if _, err := c.nc.Write(body); err != nil {
			c.dropPending(id)
			return Response{}, err
		}
	}

	select {
	case resp := <-pc.respCh:
		return resp, resp.Err
	case <-ctx.Done():
		c.dropPending(id)
		return Response{}, ctx.Err()
	case <-c.stopCh.Listen():
		return Response{}, fmt.Errorf("peer-disconnected")
	}
}

func (c *Conn) dropPending(id uint16) {
	c.mtx.Lock()
	delete(c.pending, id)
	c.mtx.Unlock()
}

// RecvLoop runs on a dedicated goroutine per connection, reading frames
// and dispatching each to its waiting Send call (client side) or handler
// (server side, via onRequest).
func (c *Conn) RecvLoop(onRequest func(hdr SendHeader, body []byte)) {
	defer c.Close()
	for {
		if c.recvTimeout > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(c.recvTimeout))
		}
		if onRequest != nil {
			if err := c.recvRequest(onRequest); err != nil {
				if err.Error() != "EOF" {
					nlog.Warningln("recv loop:", err)
				}
				return
			}
			continue
		}
		if err := c.recvResponse(); err != nil {
			return
		}
	}
}

func (c *Conn) recvResponse() error {
	var hdrBuf [RecvHeaderSize]byte
	if _, err := ioReadFull(c.nc, hdrBuf[:]); err != nil {
		return err
	}
	hdr := DecodeRecvHeader(hdrBuf)
	c.touch()
	var body []byte
	var callErr error
	switch {
	case hdr.IsKeepAlive():
	case hdr.IsError():
		callErr = fmt.Errorf("remote error")
	default:
		body = make([]byte, hdr.BodySize)
		if _, err := ioReadFull(c.nc, body); err != nil {
			return err
		}
		if c.unstream != nil {
			c.unstream.XORInPlace(body)
		}
	}
	c.mtx.Lock()
	pc, ok := c.pending[hdr.MsgID]
	if ok {
		delete(c.pending, hdr.MsgID)
	}
	c.mtx.Unlock()
	if ok {
		pc.respCh <- Response{Header: hdr, Body: body, Err: callErr}
	}
	return nil
}

func (c *Conn) recvRequest(onRequest func(hdr SendHeader, body []byte)) error {
	var hdrBuf [SendHeaderSize]byte
	if _, err := ioReadFull(c.nc, hdrBuf[:]); err != nil {
		return err
	}
	hdr := DecodeSendHeader(hdrBuf)
	c.touch()
	body := make([]byte, hdr.BodySize)
	if hdr.BodySize > 0 {
		if _, err := ioReadFull(c.nc, body); err != nil {
			return err
		}
		if c.unstream != nil {
			c.unstream.XORInPlace(body)
		}
	}
	onRequest(hdr, body)
	return nil
}

// Reply writes a 5-byte-header response frame back to the peer for the
// given message id; used by the server side of a request.
func (c *Conn) Reply(msgID uint16, body []byte) error {
	if c.stream != nil {
		c.stream.XORInPlace(body)
	}
	hdr := EncodeRecvHeader(RecvHeader{MsgID: msgID, BodySize: uint32(len(body))})
	if _, err := c.nc.Write(hdr[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		_, err := c.nc.Write(body)
		return err
	}
	return nil
}

func (c *Conn) ReplyError(msgID uint16) error {
	hdr := EncodeRecvHeader(RecvHeader{MsgID: msgID, BodySize: MessageErrorSize})
	_, err := c.nc.Write(hdr[:])
	return err
}

func (c *Conn) ReplyKeepAlive(msgID uint16) error {
	hdr := EncodeRecvHeader(RecvHeader{MsgID: msgID, BodySize: MessageKeepAliveSize})
	_, err := c.nc.Write(hdr[:])
	return err
}

func ioReadFull(nc net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
