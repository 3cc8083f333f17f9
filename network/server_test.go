package network

import (
	"context"
	"testing"
	"time"
)

func TestListenAndDialRoundTrip(t *testing.T) {
	srv, err := Listen(ServerConfig{ListenAddr: "127.0.0.1:0", AllowNewClients: true})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Shutdown()

	srv.Handler = func(c *Conn, hdr SendHeader, body []byte) {
		_ = c.Reply(hdr.MsgID, append([]byte("echo:"), body...))
	}
	go srv.Serve()

	cl, err := Dial(srv.Addr().String(), ClientConfig{PoolSize: 1})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := cl.Send(ctx, ServiceSession, MsgPing, []byte("hi"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Body) != "echo:hi" {
		t.Fatalf("response body = %q, want %q", resp.Body, "echo:hi")
	}
}

func TestDialRejectedWhenNewClientsDisallowed(t *testing.T) {
	srv, err := Listen(ServerConfig{ListenAddr: "127.0.0.1:0", AllowNewClients: false})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Shutdown()
	go srv.Serve()

	_, err = Dial(srv.Addr().String(), ClientConfig{PoolSize: 1, HandshakeTimeout: time.Second})
	if err == nil {
		t.Fatalf("Dial succeeded against a server with AllowNewClients=false")
	}
}

func TestServerConfigSetDefaults(t *testing.T) {
	var cfg ServerConfig
	cfg.setDefaults()
	if cfg.RecvTimeout != 10*time.Minute {
		t.Fatalf("RecvTimeout default = %v, want 10m", cfg.RecvTimeout)
	}
	if cfg.HandshakeTimeout != 20*time.Second {
		t.Fatalf("HandshakeTimeout default = %v, want 20s", cfg.HandshakeTimeout)
	}
}
