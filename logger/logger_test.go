package logger

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestSlogSink_DataSentReceivedDisconnected(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&buf, nil)), false, true)
	sink.DataSent([]byte("A000001 NOOP\r\n"))
	sink.DataReceived([]byte("A000001 OK NOOP completed\r\n"))
	sink.Disconnected()

	out := buf.String()
	for _, want := range []string{"data_sent", "data_received", "disconnected", "session_duration"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestNoopSink_DoesNothing(t *testing.T) {
	var s NoopSink
	s.DataSent([]byte("x"))
	s.DataReceived([]byte("x"))
	s.Disconnected()
}

func TestFromEnv_DefaultsToNoop(t *testing.T) {
	t.Setenv("KIMAP2_LOGFILE", "")
	t.Setenv("KIMAP2_TRAFFIC", "")
	t.Setenv("KIMAP2_TIMING", "")
	sink, closer := FromEnv()
	if _, ok := sink.(NoopSink); !ok {
		t.Fatalf("expected NoopSink, got %T", sink)
	}
	if closer != nil {
		t.Fatal("expected no closer for NoopSink")
	}
}
