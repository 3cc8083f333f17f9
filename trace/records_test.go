package trace

import (
	"bytes"
	"testing"

	"github.com/tinylib/msgp/msgp"
)

func TestProcessStartBodyRoundTrip(t *testing.T) {
	want := ProcessStartBody{ProcessID: 42, Argv0: "cl.exe", StartedAt: 123456789}

	var buf bytes.Buffer
	en := msgp.NewWriter(&buf)
	if err := want.EncodeMsg(en); err != nil {
		t.Fatalf("EncodeMsg: %v", err)
	}
	if err := en.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var got ProcessStartBody
	dc := msgp.NewReader(&buf)
	if err := got.DecodeMsg(dc); err != nil {
		t.Fatalf("DecodeMsg: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestProcessStopBodyRoundTrip(t *testing.T) {
	want := ProcessStopBody{ProcessID: 7, ExitCode: -1, Reason: "OOM", EndedAt: 99}

	var buf bytes.Buffer
	en := msgp.NewWriter(&buf)
	if err := want.EncodeMsg(en); err != nil {
		t.Fatalf("EncodeMsg: %v", err)
	}
	if err := en.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var got ProcessStopBody
	dc := msgp.NewReader(&buf)
	if err := got.DecodeMsg(dc); err != nil {
		t.Fatalf("DecodeMsg: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

// TestDecodeMsgSkipsUnknownKeys covers forward compatibility: a reader
// built against an older field set should tolerate a map with an extra
// key it doesn't recognize rather than failing the whole record.
func TestDecodeMsgSkipsUnknownKeys(t *testing.T) {
	var buf bytes.Buffer
	en := msgp.NewWriter(&buf)
	if err := en.WriteMapHeader(2); err != nil {
		t.Fatalf("WriteMapHeader: %v", err)
	}
	if err := en.WriteString("s"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := en.WriteString("build finished"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := en.WriteString("future_field"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := en.WriteString("unrecognized value"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := en.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var got StatusBody
	dc := msgp.NewReader(&buf)
	if err := got.DecodeMsg(dc); err != nil {
		t.Fatalf("DecodeMsg: %v", err)
	}
	if got.Text != "build finished" {
		t.Fatalf("Text = %q, want %q", got.Text, "build finished")
	}
}
