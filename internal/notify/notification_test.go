package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFanout_SkipsActor(t *testing.T) {
	actor := uuid.New()
	a, b := uuid.New(), uuid.New()

	ns := Fanout(KindEventUpdated, []uuid.UUID{a, actor, b}, uuid.New(), "Picnic", actor)
	if len(ns) != 2 {
		t.Fatalf("len = %d, want 2", len(ns))
	}
	for _, n := range ns {
		if n.RecipientID == actor {
			t.Error("actor should not be notified")
		}
		if n.Kind != KindEventUpdated || n.EventTitle != "Picnic" || n.ID == uuid.Nil {
			t.Errorf("unexpected notification %+v", n)
		}
	}
}

func TestDirect_ReportsFailures(t *testing.T) {
	d := &flakyDeliverer{failures: 1}
	m := &countingMetrics{}
	direct := NewDirect(d, m, nil)

	ns := Fanout(KindSignupCreated, []uuid.UUID{uuid.New(), uuid.New()}, uuid.New(), "Picnic", uuid.Nil)
	if err := direct.Notify(context.Background(), ns...); err == nil {
		t.Error("expected first failure to be returned")
	}
	if m.get(ResultDropped) != 1 || m.get(ResultDelivered) != 1 {
		t.Errorf("metrics = %v", m.counts)
	}
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379"
	}
	queue, err := NewQueue(url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer queue.Close()

	ctx := context.Background()
	n := New(KindSignupCreated, uuid.New(), uuid.New(), "Picnic", uuid.New())
	if err := queue.Notify(ctx, n); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	got, err := queue.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID != n.ID || got.RecipientID != n.RecipientID {
		t.Errorf("dequeued %+v, want %+v", got, n)
	}
}
