package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInMemory_PublishConsume(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg, err := NewMessage("session.end", map[string]string{"session_id": "s1"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	select {
	case got := <-ch:
		var body map[string]string
		if err := json.Unmarshal(got.Body, &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if got.Type != "session.end" || body["session_id"] != "s1" {
			t.Errorf("unexpected message: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemory_ConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := q.Consume(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemory_PublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	_ = q.Publish(context.Background(), Message{Type: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, Message{Type: "b"}); err == nil {
		t.Error("expected error publishing to a full queue")
	}
}
