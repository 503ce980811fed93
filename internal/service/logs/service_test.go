package logs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/repository/memory"
	"github.com/Sasha125a/sphere-dev-network/internal/ws"
)

type chanSubscriber chan []byte

func (c chanSubscriber) Send(p []byte) error { c <- p; return nil }
func (c chanSubscriber) Close()              {}

func TestAppendStoresAndBroadcasts(t *testing.T) {
	hub := ws.NewHub(0)
	defer hub.Close()
	sub := make(chanSubscriber, 1)
	hub.Register("p1", sub)

	svc := New(memory.New(10), hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	err := svc.Append(ctx, domain.ProjectLog{
		ProjectID: "p1",
		Source:    "pipeline",
		Level:     "info",
		Message:   "stage build completed",
		Metadata:  []byte(`{"stage":"build"}`),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	select {
	case payload := <-sub:
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if decoded["message"] != "stage build completed" {
			t.Fatalf("unexpected payload %v", decoded)
		}
		meta, _ := decoded["metadata"].(map[string]any)
		if meta["stage"] != "build" {
			t.Fatalf("metadata not embedded as object: %v", decoded["metadata"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}

	stored, err := svc.List(ctx, "p1", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 1 || stored[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected stored logs %+v", stored)
	}
}

func TestAppendWithoutHub(t *testing.T) {
	svc := New(memory.New(10), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := svc.Append(context.Background(), domain.ProjectLog{ProjectID: "p1", Message: "x"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}
