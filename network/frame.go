// Package network implements the wire framing, handshake, and
// client/server connection pool described for the fabric's transport:
// a 2-bit service id packed with a 6-bit message type in the send
// header, 16-bit multiplexed message ids, and a keep-alive probe on
// idle connections.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package network

import (
	"encoding/binary"
	"fmt"
)

// Service ids, 2 bits.
const (
	ServiceSystem  uint8 = 0
	ServiceStorage uint8 = 1
	ServiceSession uint8 = 2
	ServiceCache   uint8 = 3
)

// System service message types.
const (
	MsgSetConnectionCount uint8 = iota
	MsgKeepAlive
	MsgFetchConfig
)

// Storage service message types.
const (
	MsgFetchBegin uint8 = iota
	MsgFetchSegment
	MsgFetchEnd
	MsgExistsOnServer
	MsgStoreBegin
	MsgStoreSegment
	MsgStoreEnd
	MsgConnect
	MsgProxyFetchBegin
	MsgProxyFetchEnd
	MsgReportBadProxy
)

// Session service message types (subset named in the external
// interfaces; GetSymbols/Custom/Command etc round out the closed set).
const (
	MsgSessionConnect uint8 = iota
	MsgEnsureBinaryFile
	MsgGetApplication
	MsgGetFileFromServer
	MsgGetLongPathName
	MsgSendFileToServer
	MsgDeleteFile
	MsgCopyFile
	MsgCreateDirectory
	MsgRemoveDirectory
	MsgListDirectory
	MsgGetDirectoriesFromServer
	MsgGetNameToHashFromServer
	MsgProcessAvailable
	MsgProcessInputs
	MsgProcessFinished
	MsgProcessReturned
	MsgGetRoots
	MsgVirtualAllocFailed
	MsgGetTraceInformation
	MsgPing
	MsgNotification
	MsgGetNextProcess
	MsgCustom
	MsgUpdateEnvironment
	MsgSummary
	MsgCommand
	MsgSHGetKnownFolderPath
	MsgDebugFileNotFoundError
	MsgHostRun
	MsgGetSymbols
)

const (
	SendHeaderSize = 6
	RecvHeaderSize = 5

	// Reserved body-size sentinels on the recv side.
	MessageErrorSize     = 0xFFFFFF
	MessageKeepAliveSize = 0xFFFFFE

	// Reserved fetch ids.
	FetchIDDone       = 0xFFFF
	FetchIDDisallowed = 0xFFFE

	DefaultSendSize = 256 * 1024
	MaxBodySize     = 256 * 1024
)

// SendHeader is the 6-byte frame a client writes before a request body:
// [1 byte: service<<6|msgType] [1 byte: msgID high] [3 bytes: body size] [1 byte: msgID low].
type SendHeader struct {
	Service  uint8
	MsgType  uint8
	MsgID    uint16
	BodySize uint32
}

func EncodeSendHeader(h SendHeader) ([SendHeaderSize]byte, error) {
	var buf [SendHeaderSize]byte
	if h.Service > 3 {
		return buf, fmt.Errorf("service id %d out of range", h.Service)
	}
	if h.MsgType > 0x3F {
		return buf, fmt.Errorf("message type %d out of range", h.MsgType)
	}
	if h.BodySize > 0xFFFFFF {
		return buf, fmt.Errorf("body size %d exceeds 24 bits", h.BodySize)
	}
	buf[0] = (h.Service << 6) | (h.MsgType & 0x3F)
	buf[1] = byte(h.MsgID >> 8)
	buf[2] = byte(h.BodySize >> 16)
	buf[3] = byte(h.BodySize >> 8)
	buf[4] = byte(h.BodySize)
	buf[5] = byte(h.MsgID)
	return buf, nil
}

func DecodeSendHeader(buf [SendHeaderSize]byte) SendHeader {
	return SendHeader{
		Service:  buf[0] >> 6,
		MsgType:  buf[0] & 0x3F,
		MsgID:    uint16(buf[1])<<8 | uint16(buf[5]),
		BodySize: uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4]),
	}
}

// RecvHeader is the 5-byte frame a peer reads back: [2 bytes msg id][3 bytes body size].
type RecvHeader struct {
	MsgID    uint16
	BodySize uint32
}

func EncodeRecvHeader(h RecvHeader) [RecvHeaderSize]byte {
	var buf [RecvHeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.MsgID)
	buf[2] = byte(h.BodySize >> 16)
	buf[3] = byte(h.BodySize >> 8)
	buf[4] = byte(h.BodySize)
	return buf
}

func DecodeRecvHeader(buf [RecvHeaderSize]byte) RecvHeader {
	return RecvHeader{
		MsgID:    binary.BigEndian.Uint16(buf[0:2]),
		BodySize: uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4]),
	}
}

func (h RecvHeader) IsError() bool     { return h.BodySize == MessageErrorSize }
func (h RecvHeader) IsKeepAlive() bool { return h.BodySize == MessageKeepAliveSize }
