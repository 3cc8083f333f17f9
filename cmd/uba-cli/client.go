package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/uba-build/uba/network"
	"github.com/uba-build/uba/session"
)

type hostSummary struct {
	Queued, Local, Remote, Finished int64
}

// ubaClient is a thin wrapper over network.Client for the two calls the
// CLI needs: submit a whole graph, and poll aggregate counters.
type ubaClient struct {
	cl      *network.Client
	timeout time.Duration
}

func dialHost(addr string, cfg network.ClientConfig, timeout time.Duration) (*ubaClient, error) {
	cl, err := network.Dial(addr, cfg)
	if err != nil {
		return nil, err
	}
	return &ubaClient{cl: cl, timeout: timeout}, nil
}

func (u *ubaClient) close() { u.cl.Close() }

func (u *ubaClient) submit(nodes []session.GraphSubmitNode) ([]uint32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()
	resp, err := u.cl.Send(ctx, network.ServiceSession, network.MsgCommand, session.EncodeGraphSubmit(nodes))
	if err != nil {
		return nil, err
	}
	if resp.Header.IsError() || len(resp.Body) < 4 {
		return nil, fmt.Errorf("host rejected graph submission")
	}
	n := binary.BigEndian.Uint32(resp.Body[:4])
	if uint32(len(resp.Body)) < 4+4*n {
		return nil, fmt.Errorf("short submit reply")
	}
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = binary.BigEndian.Uint32(resp.Body[4+i*4:])
	}
	return ids, nil
}

func (u *ubaClient) summary() (hostSummary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()
	resp, err := u.cl.Send(ctx, network.ServiceSession, network.MsgSummary, nil)
	if err != nil {
		return hostSummary{}, err
	}
	if resp.Header.IsError() || len(resp.Body) < 32 {
		return hostSummary{}, fmt.Errorf("bad summary reply")
	}
	return hostSummary{
		Queued:   int64(binary.BigEndian.Uint64(resp.Body[0:8])),
		Local:    int64(binary.BigEndian.Uint64(resp.Body[8:16])),
		Remote:   int64(binary.BigEndian.Uint64(resp.Body[16:24])),
		Finished: int64(binary.BigEndian.Uint64(resp.Body[24:32])),
	}, nil
}
