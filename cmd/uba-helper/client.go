package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/uba-build/uba/cas"
	"github.com/uba-build/uba/network"
	"github.com/uba-build/uba/session"
)

// netHostCaller implements session.HostCaller over a network.Client
// pool, the live counterpart to the Helper's mirror-table short
// circuit: every call here is a round trip the mirror tables didn't
// already answer.
type netHostCaller struct {
	cl      *network.Client
	timeout time.Duration
}

func newNetHostCaller(cl *network.Client, timeout time.Duration) *netHostCaller {
	return &netHostCaller{cl: cl, timeout: timeout}
}

func (n *netHostCaller) send(msgType uint8, body []byte) (network.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	resp, err := n.cl.Send(ctx, network.ServiceSession, msgType, body)
	if err != nil {
		return network.Response{}, err
	}
	if resp.Header.IsError() {
		return network.Response{}, fmt.Errorf("host returned an error for message type %d", msgType)
	}
	return resp, nil
}

func (n *netHostCaller) GetFileFromServer(path string) (cas.CasKey, error) {
	resp, err := n.send(network.MsgGetFileFromServer, []byte(path))
	if err != nil {
		return cas.CasKey{}, err
	}
	if len(resp.Body) < cas.KeySize {
		return cas.CasKey{}, fmt.Errorf("short key reply for %s", path)
	}
	var key cas.CasKey
	copy(key[:], resp.Body[:cas.KeySize])
	return key, nil
}

func (n *netHostCaller) GetDirectoriesFromServer(path string) (session.DirEntry, error) {
	resp, err := n.send(network.MsgGetDirectoriesFromServer, []byte(path))
	if err != nil {
		return session.DirEntry{}, err
	}
	return session.DecodeDirEntry(resp.Body)
}

func (n *netHostCaller) GetNameToHashFromServer(path string) (cas.CasKey, error) {
	resp, err := n.send(network.MsgGetNameToHashFromServer, []byte(path))
	if err != nil {
		return cas.CasKey{}, err
	}
	if len(resp.Body) < cas.KeySize {
		return cas.CasKey{}, fmt.Errorf("short key reply for %s", path)
	}
	var key cas.CasKey
	copy(key[:], resp.Body[:cas.KeySize])
	return key, nil
}

func (n *netHostCaller) SendFileToServer(localPath string, key cas.CasKey) error {
	raw, err := readFileBytes(localPath)
	if err != nil {
		return err
	}
	body := make([]byte, cas.KeySize+len(raw))
	copy(body, key[:])
	copy(body[cas.KeySize:], raw)
	_, err = n.send(network.MsgSendFileToServer, body)
	return err
}

// getNextProcess pulls one unit of work, decoding the status byte the
// host prefixes every reply with.
func (n *netHostCaller) getNextProcess() (session.StartInfo, session.NextProcessResponse, error) {
	resp, err := n.send(network.MsgGetNextProcess, nil)
	if err != nil {
		return session.StartInfo{}, session.NextProcessDisconnect, err
	}
	if len(resp.Body) == 0 {
		return session.StartInfo{}, session.NextProcessDisconnect, fmt.Errorf("empty GetNextProcess reply")
	}
	status := session.NextProcessResponse(resp.Body[0])
	if status != session.NextProcessRecord {
		return session.StartInfo{}, status, nil
	}
	info, err := session.DecodeStartInfo(resp.Body[1:])
	return info, status, err
}

// reportFinished sends the process outcome plus the CAS keys of every
// output already shipped via SendFileToServer.
func (n *netHostCaller) reportFinished(processID uint32, exitCode int, outputs []cas.CasKey) error {
	body := make([]byte, 8+4+len(outputs)*cas.KeySize)
	binary.BigEndian.PutUint32(body[0:4], processID)
	binary.BigEndian.PutUint32(body[4:8], uint32(int32(exitCode)))
	binary.BigEndian.PutUint32(body[8:12], uint32(len(outputs)))
	for i, k := range outputs {
		copy(body[12+i*cas.KeySize:], k[:])
	}
	_, err := n.send(network.MsgProcessFinished, body)
	return err
}

func (n *netHostCaller) reportReturned(processID uint32) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, processID)
	_, err := n.send(network.MsgProcessReturned, body)
	return err
}
