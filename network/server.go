package network

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/uba-build/uba/cmn/nlog"
	"github.com/uba-build/uba/crypto"
)

type ServerConfig struct {
	ListenAddr       string
	RecvTimeout      time.Duration
	HandshakeTimeout time.Duration
	CryptoKey        *crypto.Key
	AllowNewClients  bool
}

func (c *ServerConfig) setDefaults() {
	if c.RecvTimeout == 0 {
		c.RecvTimeout = 10 * time.Minute
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 20 * time.Second
	}
}

// Server accepts connections and hands each a fresh *Conn whose requests
// are routed to Handler. One Conn equals one logical peer; multiplexing
// across message ids happens inside RecvLoop.
type Server struct {
	cfg      ServerConfig
	ln       net.Listener
	guid     uuid.UUID
	Handler  func(c *Conn, hdr SendHeader, body []byte)
	stopping chan struct{}
}

func Listen(cfg ServerConfig) (*Server, error) {
	cfg.setDefaults()
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, ln: ln, guid: NewGUID(), stopping: make(chan struct{})}
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopping:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	if err := s.serverHandshake(nc); err != nil {
		nlog.Warningln("handshake failed:", err)
		nc.Close()
		return
	}
	conn := NewConn(nc, s.cfg.RecvTimeout)
	if s.cfg.CryptoKey != nil {
		var sendIV, recvIV [16]byte
		sendIV[0], recvIV[0] = 2, 1 // mirrored vs. the client's IV selection
		send, err := crypto.NewStream(s.cfg.CryptoKey, sendIV)
		if err == nil {
			if recv, rerr := crypto.NewStream(s.cfg.CryptoKey, recvIV); rerr == nil {
				conn.SetCryptoStreams(send, recv)
			}
		}
	}
	conn.RecvLoop(func(hdr SendHeader, body []byte) {
		if s.Handler != nil {
			s.Handler(conn, hdr, body)
		}
	})
}

func (s *Server) serverHandshake(nc net.Conn) error {
	_ = nc.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	if s.cfg.CryptoKey != nil {
		probe := make([]byte, 128)
		if _, err := ioReadFull(nc, probe); err != nil {
			return err
		}
		var iv [16]byte
		ok, err := s.cfg.CryptoKey.VerifyProbe(probe, iv)
		if err != nil || !ok {
			return writeHandshakeErr(nc, HandshakeZeroServerGUID)
		}
	}

	ch, err := ReadClientHandshake(nc)
	if err != nil {
		return err
	}
	if ch.Version != ProtocolVersion {
		return writeHandshakeErr(nc, HandshakeVersionMismatch)
	}
	if ch.GUID == (uuid.UUID{}) {
		return writeHandshakeErr(nc, HandshakeBadClientGUID)
	}
	if !s.cfg.AllowNewClients {
		return writeHandshakeErr(nc, HandshakeNewClientsDisallowed)
	}
	return WriteServerHandshake(nc, ServerHandshake{Err: HandshakeOK, GUID: s.guid})
}

func writeHandshakeErr(nc net.Conn, code HandshakeErr) error {
	_ = WriteServerHandshake(nc, ServerHandshake{Err: code})
	return code
}

func (s *Server) Shutdown() error {
	close(s.stopping)
	return s.ln.Close()
}
