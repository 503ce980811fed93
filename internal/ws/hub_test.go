package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	messages [][]byte
	fail     bool
	closed   bool
	got      chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{got: make(chan struct{}, 16)}
}

func (f *fakeSubscriber) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.messages = append(f.messages, p)
	f.got <- struct{}{}
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestBroadcastReachesProjectAndWildcard(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	project := newFakeSubscriber()
	all := newFakeSubscriber()
	other := newFakeSubscriber()
	hub.Register("p1", project)
	hub.Register(AllProjects, all)
	hub.Register("p2", other)

	hub.Broadcast("p1", []byte("stage build"))
	waitFor(t, project.got)
	waitFor(t, all.got)

	if hub.Subscribers("p2") != 1 {
		t.Fatal("expected p2 subscriber to remain")
	}
	other.mu.Lock()
	defer other.mu.Unlock()
	if len(other.messages) != 0 {
		t.Fatalf("p2 subscriber received %d messages", len(other.messages))
	}
}

func TestFailingSubscriberIsDropped(t *testing.T) {
	hub := NewHub(0)
	defer hub.Close()

	bad := newFakeSubscriber()
	bad.fail = true
	hub.Register("p1", bad)
	hub.Broadcast("p1", []byte("x"))

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("p1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("failing subscriber not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	bad.mu.Lock()
	defer bad.mu.Unlock()
	if !bad.closed {
		t.Fatal("failing subscriber not closed")
	}
}

func TestBroadcastAfterCloseDoesNotBlock(t *testing.T) {
	hub := NewHub(0)
	hub.Close()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Broadcast("p1", []byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked after Close")
	}
}
