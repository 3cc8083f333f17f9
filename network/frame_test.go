package network

import "testing"

func TestSendHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := SendHeader{Service: ServiceSession, MsgType: MsgGetNextProcess, MsgID: 0x1234, BodySize: 0xABCDEF}
	buf, err := EncodeSendHeader(h)
	if err != nil {
		t.Fatalf("EncodeSendHeader: %v", err)
	}
	got := DecodeSendHeader(buf)
	if got != h {
		t.Fatalf("DecodeSendHeader = %+v, want %+v", got, h)
	}
}

func TestEncodeSendHeaderRejectsOutOfRangeFields(t *testing.T) {
	if _, err := EncodeSendHeader(SendHeader{Service: 4}); err == nil {
		t.Fatalf("EncodeSendHeader accepted a 2-bit-overflowing service id")
	}
	if _, err := EncodeSendHeader(SendHeader{MsgType: 0x40}); err == nil {
		t.Fatalf("EncodeSendHeader accepted a 6-bit-overflowing message type")
	}
	if _, err := EncodeSendHeader(SendHeader{BodySize: 1 << 24}); err == nil {
		t.Fatalf("EncodeSendHeader accepted a 24-bit-overflowing body size")
	}
}

func TestRecvHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := RecvHeader{MsgID: 0xBEEF, BodySize: 0x0203EF}
	buf := EncodeRecvHeader(h)
	got := DecodeRecvHeader(buf)
	if got != h {
		t.Fatalf("DecodeRecvHeader = %+v, want %+v", got, h)
	}
}

func TestRecvHeaderSentinels(t *testing.T) {
	errHdr := RecvHeader{BodySize: MessageErrorSize}
	if !errHdr.IsError() || errHdr.IsKeepAlive() {
		t.Fatalf("RecvHeader{BodySize: MessageErrorSize} IsError/IsKeepAlive = %v/%v", errHdr.IsError(), errHdr.IsKeepAlive())
	}
	kaHdr := RecvHeader{BodySize: MessageKeepAliveSize}
	if !kaHdr.IsKeepAlive() || kaHdr.IsError() {
		t.Fatalf("RecvHeader{BodySize: MessageKeepAliveSize} IsKeepAlive/IsError = %v/%v", kaHdr.IsKeepAlive(), kaHdr.IsError())
	}
	dataHdr := RecvHeader{BodySize: 128}
	if dataHdr.IsError() || dataHdr.IsKeepAlive() {
		t.Fatalf("ordinary RecvHeader reported as error or keep-alive")
	}
}
