package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/crypto"
)

type ClientConfig struct {
	RecvTimeout      time.Duration
	HandshakeTimeout time.Duration
	KeepAliveIdle    time.Duration
	PoolSize         int
	CryptoKey        *crypto.Key
}

func (c *ClientConfig) setDefaults() {
	if c.RecvTimeout == 0 {
		c.RecvTimeout = 10 * time.Minute
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 20 * time.Second
	}
	if c.KeepAliveIdle == 0 {
		c.KeepAliveIdle = 60 * time.Second
	}
	if c.PoolSize == 0 {
		c.PoolSize = 4
	}
}

// Client is a pool of Conns to one remote host:port, any of which can
// service a given logical Send — round-robin selection skips a Conn
// whose connected flag is clear.
type Client struct {
	addr   string
	cfg    ClientConfig
	mtx    sync.RWMutex
	conns  []*Conn
	cursor uint64
	done   chan struct{}
}

func Dial(addr string, cfg ClientConfig) (*Client, error) {
	cfg.setDefaults()
	cl := &Client{addr: addr, cfg: cfg, done: make(chan struct{})}
	for i := 0; i < cfg.PoolSize; i++ {
		conn, err := cl.dialOne()
		if err != nil {
			cl.Close()
			return nil, err
		}
		cl.conns = append(cl.conns, conn)
	}
	go cl.keepAliveLoop()
	return cl, nil
}

func (cl *Client) dialOne() (*Conn, error) {
	nc, err := net.DialTimeout("tcp", cl.addr, cl.cfg.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect-timeout: %w", err)
	}
	if err := clientHandshake(nc, cl.cfg); err != nil {
		nc.Close()
		return nil, err
	}
	conn := NewConn(nc, cl.cfg.RecvTimeout)
	if cl.cfg.CryptoKey != nil {
		var sendIV, recvIV [16]byte
		sendIV[0], recvIV[0] = 1, 2
		send, err := crypto.NewStream(cl.cfg.CryptoKey, sendIV)
		if err != nil {
			nc.Close()
			return nil, err
		}
		recv, err := crypto.NewStream(cl.cfg.CryptoKey, recvIV)
		if err != nil {
			nc.Close()
			return nil, err
		}
		conn.SetCryptoStreams(send, recv)
	}
	go conn.RecvLoop(nil)
	return conn, nil
}

func clientHandshake(nc net.Conn, cfg ClientConfig) error {
	_ = nc.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	if cfg.CryptoKey != nil {
		var iv [16]byte
		probe, err := cfg.CryptoKey.EncryptProbe(iv)
		if err != nil {
			return err
		}
		if _, err := nc.Write(probe); err != nil {
			return err
		}
	}
	if err := WriteClientHandshake(nc, ClientHandshake{Version: ProtocolVersion, GUID: NewGUID()}); err != nil {
		return err
	}
	resp, err := ReadServerHandshake(nc)
	if err != nil {
		return fmt.Errorf("bad-version: %w", err)
	}
	if resp.Err != HandshakeOK {
		if resp.Err.RetryLater() {
			return fmt.Errorf("server-disallowed: %w", resp.Err)
		}
		return fmt.Errorf("decrypt-failed: %w", resp.Err)
	}
	return nil
}

// Send picks the next connected Conn round-robin and issues the call.
func (cl *Client) Send(ctx context.Context, service, msgType uint8, body []byte) (Response, error) {
	conn, err := cl.pick()
	if err != nil {
		return Response{}, err
	}
	return conn.Send(ctx, service, msgType, body)
}

func (cl *Client) pick() (*Conn, error) {
	cl.mtx.RLock()
	defer cl.mtx.RUnlock()
	n := len(cl.conns)
	if n == 0 {
		return nil, fmt.Errorf("no connections")
	}
	start := atomic.AddUint64(&cl.cursor, 1)
	for i := 0; i < n; i++ {
		c := cl.conns[(int(start)+i)%n]
		if c.Connected() {
			return c, nil
		}
	}
	return nil, fmt.Errorf("peer-disconnected")
}

func (cl *Client) keepAliveLoop() {
	ticker := time.NewTicker(cl.cfg.KeepAliveIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.probeIdle()
		}
	}
}

func (cl *Client) probeIdle() {
	cl.mtx.RLock()
	conns := append([]*Conn(nil), cl.conns...)
	cl.mtx.RUnlock()
	for _, c := range conns {
		if !c.Connected() || c.IdleFor() < cl.cfg.KeepAliveIdle {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), cl.cfg.RecvTimeout)
		_, err := c.Send(ctx, ServiceSystem, MsgSetConnectionCount, nil)
		cancel()
		if err != nil {
			nlog.Warningln("keep-alive probe failed, tearing down connection:", err)
			c.Close()
		}
	}
}

func (cl *Client) Close() {
	select {
	case <-cl.done:
	default:
		close(cl.done)
	}
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	for _, c := range cl.conns {
		c.Close()
	}
}
