package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type dispatcherFunc func(ctx context.Context, msg Message) error

func (f dispatcherFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *countingRecorder) RecordNotification(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[result]++
}

func (r *countingRecorder) count(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotify_Sent(t *testing.T) {
	rec := &countingRecorder{}
	var got Message
	n := NewNotifier(dispatcherFunc(func(_ context.Context, msg Message) error {
		got = msg
		return nil
	}), discardLogger(), rec, time.Second, time.Second)

	msg := Message{To: "alice@uni.example", Subject: "hello", HTML: "<p>hi</p>"}
	if err := n.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if got != msg {
		t.Errorf("dispatched %+v, want %+v", got, msg)
	}
	if rec.count("sent") != 1 {
		t.Errorf("sent count = %d, want 1", rec.count("sent"))
	}
}

// 送信エラーは記録された上で返されること
func TestNotify_Failure(t *testing.T) {
	rec := &countingRecorder{}
	n := NewNotifier(dispatcherFunc(func(context.Context, Message) error {
		return errors.New("smtp: 550 mailbox unavailable")
	}), discardLogger(), rec, time.Second, time.Second)

	err := n.Notify(context.Background(), Message{To: "alice@uni.example"})
	if err == nil {
		t.Fatal("expected error")
	}
	if Warning(err) != "notification failed" {
		t.Errorf("Warning = %q", Warning(err))
	}
	if rec.count("failed") != 1 {
		t.Errorf("failed count = %d, want 1", rec.count("failed"))
	}
}

// 待機時間を超えた場合はErrDeferredを返し、送信はバックグラウンドで完了すること
func TestNotify_DeferredWhenSlow(t *testing.T) {
	rec := &countingRecorder{}
	release := make(chan struct{})
	done := make(chan struct{})
	n := NewNotifier(dispatcherFunc(func(ctx context.Context, _ Message) error {
		defer close(done)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), discardLogger(), rec, 5*time.Second, 20*time.Millisecond)

	// 呼び出し元のコンテキストがキャンセルされても送信は継続する
	ctx, cancel := context.WithCancel(context.Background())
	err := n.Notify(ctx, Message{To: "alice@uni.example"})
	cancel()
	if !errors.Is(err, ErrDeferred) {
		t.Fatalf("expected ErrDeferred, got %v", err)
	}
	if Warning(err) != "notification deferred" {
		t.Errorf("Warning = %q", Warning(err))
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background send did not finish")
	}
	// recordはSendの戻り後に呼ばれるため少し待つ
	deadline := time.Now().Add(time.Second)
	for rec.count("sent") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count("sent") != 1 {
		t.Errorf("sent count = %d, want 1", rec.count("sent"))
	}
}

func TestNotify_EmptyRecipientIsNoop(t *testing.T) {
	called := false
	n := NewNotifier(dispatcherFunc(func(context.Context, Message) error {
		called = true
		return nil
	}), discardLogger(), nil, 0, 0)

	if err := n.Notify(context.Background(), Message{}); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if called {
		t.Error("dispatcher should not be called without recipient")
	}
	if Warning(nil) != "" {
		t.Error("Warning(nil) should be empty")
	}
}
