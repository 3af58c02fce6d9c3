package ingest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/observability/metrics"
	"live-transcript-service/internal/service/reconcile"
)

// fakeProcessor records applied events per session in order.
type fakeProcessor struct {
	mu      sync.Mutex
	applied map[string][]string
	block   chan struct{}
	panicOn string
	failOn  string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{applied: make(map[string][]string)}
}

func (p *fakeProcessor) Apply(ctx context.Context, ev models.RecognitionEvent) (reconcile.Result, error) {
	if p.block != nil {
		<-p.block
	}
	if ev.RequestID == p.panicOn && p.panicOn != "" {
		panic("boom")
	}
	if ev.RequestID == p.failOn && p.failOn != "" {
		return reconcile.Result{}, errors.New("apply failed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied[ev.SessionID] = append(p.applied[ev.SessionID], ev.RequestID)
	return reconcile.Result{Outcome: reconcile.OutcomeFinalAppended}, nil
}

func (p *fakeProcessor) get(sessionID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied[sessionID]...)
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func TestDispatcher_PreservesPerSessionOrder(t *testing.T) {
	proc := newFakeProcessor()
	d := NewDispatcher(proc, Limits{Workers: 4, QueueSize: 512}, testMetrics())

	sessions := []string{"bot-a", "bot-b", "bot-c", "bot-d"}
	for i := 0; i < 100; i++ {
		for _, s := range sessions {
			ev := models.RecognitionEvent{SessionID: s, RequestID: strconv.Itoa(i)}
			if err := d.Submit(ev); err != nil {
				t.Fatalf("submit failed: %v", err)
			}
		}
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	for _, s := range sessions {
		got := proc.get(s)
		if len(got) != 100 {
			t.Fatalf("%s: expected 100 events, got %d", s, len(got))
		}
		for i, id := range got {
			want := strconv.Itoa(i)
			if id != want {
				t.Fatalf("%s: event %d out of order: got %s want %s", s, i, id, want)
			}
		}
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	proc := newFakeProcessor()
	proc.block = make(chan struct{})
	d := NewDispatcher(proc, Limits{Workers: 1, QueueSize: 1}, testMetrics())

	// The worker takes the first event and blocks; the second fills the queue.
	if err := d.Submit(models.RecognitionEvent{SessionID: "bot-1", RequestID: "1"}); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = d.Submit(models.RecognitionEvent{SessionID: "bot-1", RequestID: "x"}); errors.Is(err, ErrQueueFull) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(proc.block)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestDispatcher_RecoversFromPanicAndErrors(t *testing.T) {
	proc := newFakeProcessor()
	proc.panicOn = "bad"
	proc.failOn = "fail"
	d := NewDispatcher(proc, Limits{Workers: 1, QueueSize: 8}, testMetrics())

	for _, id := range []string{"1", "bad", "fail", "2"} {
		if err := d.Submit(models.RecognitionEvent{SessionID: "bot-1", RequestID: id}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	got := proc.get("bot-1")
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("expected worker to continue after panic, got %v", got)
	}
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := NewDispatcher(newFakeProcessor(), Limits{Workers: 2, QueueSize: 2}, testMetrics())
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := d.Submit(models.RecognitionEvent{SessionID: "bot-1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestDispatcher_CloseTimeout(t *testing.T) {
	proc := newFakeProcessor()
	proc.block = make(chan struct{})
	defer close(proc.block)
	d := NewDispatcher(proc, Limits{Workers: 1, QueueSize: 4}, testMetrics())

	if err := d.Submit(models.RecognitionEvent{SessionID: "bot-1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestDispatcher_DefaultLimits(t *testing.T) {
	d := NewDispatcher(newFakeProcessor(), Limits{}, testMetrics())
	defer d.Close(context.Background())

	if len(d.shards) != DefaultLimits().Workers {
		t.Errorf("expected %d shards, got %d", DefaultLimits().Workers, len(d.shards))
	}
	if cap(d.shards[0]) != DefaultLimits().QueueSize {
		t.Errorf("expected queue size %d, got %d", DefaultLimits().QueueSize, cap(d.shards[0]))
	}
}

func TestDispatcher_ShardIsStable(t *testing.T) {
	d := NewDispatcher(newFakeProcessor(), Limits{Workers: 8, QueueSize: 1}, testMetrics())
	defer d.Close(context.Background())

	first := d.shardFor("bot-123")
	for i := 0; i < 10; i++ {
		if got := d.shardFor("bot-123"); got != first {
			t.Fatalf("shard changed: %d then %d", first, got)
		}
	}
}
