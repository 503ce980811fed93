package ws

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type countingFlusher struct{ n int }

func (f *countingFlusher) Flush() { f.n++ }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSSEClientFramesNumberedLogEvents(t *testing.T) {
	var buf bytes.Buffer
	flusher := &countingFlusher{}
	c := NewSSEClient(&buf, flusher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := c.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := c.Send([]byte(`{"message":"a"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Send([]byte(`{"message":"b"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := ": ping\n\n" +
		"id: 1\nevent: log\ndata: {\"message\":\"a\"}\n\n" +
		"id: 2\nevent: log\ndata: {\"message\":\"b\"}\n\n"
	if buf.String() != want {
		t.Fatalf("unexpected stream:\n%q\nwant\n%q", buf.String(), want)
	}
	if flusher.n != 3 {
		t.Fatalf("expected 3 flushes, got %d", flusher.n)
	}

	c.Close()
	if err := c.Send([]byte("x")); !errors.Is(err, io.EOF) {
		t.Fatalf("Send after Close = %v, want io.EOF", err)
	}
}

func TestSSEClientStopsAfterWriteFailure(t *testing.T) {
	c := NewSSEClient(failingWriter{}, &countingFlusher{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := c.Heartbeat(); err == nil {
		t.Fatal("expected write error")
	}
	if err := c.Heartbeat(); !errors.Is(err, io.EOF) {
		t.Fatalf("second write = %v, want io.EOF", err)
	}
}
