package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/politicai/orderetl/internal/domain"
	"github.com/politicai/orderetl/internal/invoke"
)

type fakeFetcher struct {
	fn    func(ctx context.Context) (*invoke.FetchPayload, error)
	calls int32
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*invoke.FetchPayload, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(ctx)
}

type fakeProcessor struct {
	fn    func(ctx context.Context, req invoke.ProcessRequest) (map[string]any, error)
	calls int32
}

func (p *fakeProcessor) Process(ctx context.Context, req invoke.ProcessRequest) (map[string]any, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.fn(ctx, req)
}

type memRecorder struct {
	mu          sync.Mutex
	transitions []domain.State
	outcomes    []domain.OrderOutcome
	onTransit   func(run *domain.Run) error
}

func (r *memRecorder) RecordTransition(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, run.State)
	if r.onTransit != nil {
		return r.onTransit(run)
	}
	return nil
}

func (r *memRecorder) RecordOutcome(_ context.Context, _ uuid.UUID, o *domain.OrderOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, *o)
	return nil
}

func fetchBody(t *testing.T, v any) *invoke.FetchPayload {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return &invoke.FetchPayload{StatusCode: 200, Body: string(raw)}
}

func staticFetcher(t *testing.T, v any) *fakeFetcher {
	return &fakeFetcher{fn: func(context.Context) (*invoke.FetchPayload, error) {
		return fetchBody(t, v), nil
	}}
}

func okProcessor() *fakeProcessor {
	return &fakeProcessor{fn: func(_ context.Context, req invoke.ProcessRequest) (map[string]any, error) {
		return map[string]any{"order_id": req.OrderID}, nil
	}}
}

func testEngine(f invoke.Fetcher, p invoke.Processor, opts ...func(*Config)) *Engine {
	fast := fastPolicy(3)
	cfg := Config{
		Fetcher:     f,
		Processor:   p,
		FetchPolicy: &fast,
		ItemPolicy:  &fast,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

func TestExecute_NoOrdersKey(t *testing.T) {
	fetcher := staticFetcher(t, map[string]any{
		"bucket_name":        "raw",
		"compiled_file_name": "all.json",
	})
	processor := okProcessor()

	run := domain.NewRun("")
	if err := testEngine(fetcher, processor).Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", run.Status)
	}
	if run.Output["message"] != domain.NoOrdersMessage {
		t.Errorf("output = %v", run.Output)
	}
	if processor.calls != 0 {
		t.Errorf("processor invoked %d times on no-orders branch", processor.calls)
	}
}

func TestExecute_EmptyOrdersObject(t *testing.T) {
	fetcher := staticFetcher(t, map[string]any{"orders": map[string]any{}})
	processor := okProcessor()

	run := domain.NewRun("")
	if err := testEngine(fetcher, processor).Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", run.Status)
	}
	agg, ok := run.Output[domain.CtxProcessOrders].([]any)
	if !ok || len(agg) != 0 {
		t.Errorf("output = %v, want empty aggregate", run.Output)
	}
	if processor.calls != 0 {
		t.Errorf("processor invoked %d times on empty fan-out", processor.calls)
	}
}

func TestExecute_ProcessesAllOrders(t *testing.T) {
	fetcher := staticFetcher(t, map[string]any{
		"bucket_name":        "raw",
		"compiled_file_name": "all.json",
		"orders": map[string]any{
			"NYORDER2": map[string]any{"title": "Second"},
			"NYORDER1": map[string]any{"title": "First"},
			"NYORDER3": map[string]any{"title": "Third"},
		},
	})
	processor := okProcessor()
	rec := &memRecorder{}

	run := domain.NewRun("")
	eng := testEngine(fetcher, processor, func(c *Config) { c.Recorder = rec })
	if err := eng.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunSucceeded {
		t.Fatalf("status = %s, run error: %s", run.Status, run.Error)
	}
	agg := run.Output[domain.CtxProcessOrders].([]any)
	if len(agg) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(agg))
	}
	// объектная форма нормализуется сортировкой по order_id
	wantIDs := []string{"NYORDER1", "NYORDER2", "NYORDER3"}
	for i, want := range wantIDs {
		m := agg[i].(map[string]any)
		if m["order_id"] != want {
			t.Errorf("agg[%d] order_id = %v, want %s", i, m["order_id"], want)
		}
		if m["status"] != string(domain.OutcomeOK) {
			t.Errorf("agg[%d] status = %v", i, m["status"])
		}
	}
	if len(rec.outcomes) != 3 {
		t.Errorf("recorded %d outcomes, want 3", len(rec.outcomes))
	}

	// контекст вырос монотонно: все три ключа на месте
	for _, key := range []string{domain.CtxExtractOrders, domain.CtxParsed, domain.CtxProcessOrders} {
		if _, ok := run.ContextValue(key); !ok {
			t.Errorf("context key %s missing", key)
		}
	}
}

func TestExecute_ItemFailureIsolated(t *testing.T) {
	fetcher := staticFetcher(t, map[string]any{
		"orders": []map[string]any{
			{"order_id": "A"},
			{"order_id": "BROKEN"},
			{"order_id": "C"},
		},
	})
	processor := &fakeProcessor{fn: func(_ context.Context, req invoke.ProcessRequest) (map[string]any, error) {
		if req.OrderID == "BROKEN" {
			return nil, errors.New("pdf is corrupt")
		}
		return map[string]any{"order_id": req.OrderID}, nil
	}}

	run := domain.NewRun("")
	if err := testEngine(fetcher, processor).Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunSucceeded {
		t.Fatalf("item failure must not fail the run: status = %s", run.Status)
	}
	agg := run.Output[domain.CtxProcessOrders].([]any)
	if len(agg) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(agg))
	}

	broken := agg[1].(map[string]any)
	if broken["status"] != string(domain.OutcomeError) {
		t.Fatalf("broken outcome status = %v", broken["status"])
	}
	errInfo := broken["error"].(map[string]any)
	if errInfo["kind"] != string(domain.ErrorClassItem) {
		t.Errorf("error kind = %v", errInfo["kind"])
	}
	for _, i := range []int{0, 2} {
		if m := agg[i].(map[string]any); m["status"] != string(domain.OutcomeOK) {
			t.Errorf("neighbour outcome %d poisoned: %v", i, m)
		}
	}
}

func TestExecute_FetchRetriesThenSucceeds(t *testing.T) {
	var calls int32
	fetcher := &fakeFetcher{fn: func(context.Context) (*invoke.FetchPayload, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection refused")
		}
		return fetchBody(t, map[string]any{"orders": map[string]any{}}), nil
	}}

	run := domain.NewRun("")
	if err := testEngine(fetcher, okProcessor()).Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != domain.RunSucceeded {
		t.Fatalf("status = %s", run.Status)
	}
	if calls != 3 {
		t.Errorf("fetcher called %d times, want 3", calls)
	}
}

func TestExecute_FetchExhaustedFailsRun(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context) (*invoke.FetchPayload, error) {
		return nil, errors.New("connection refused")
	}}
	processor := okProcessor()

	run := domain.NewRun("")
	if err := testEngine(fetcher, processor).Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunFailed {
		t.Fatalf("status = %s, want FAILED", run.Status)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetcher called %d times, want 3", fetcher.calls)
	}
	if processor.calls != 0 {
		t.Errorf("processor invoked after fetch failure")
	}
	if run.Output["error"] != domain.FailureError || run.Output["cause"] != domain.FailureCause {
		t.Errorf("terminal output = %v", run.Output)
	}
	if run.Error == "" {
		t.Error("diagnostic cause not recorded")
	}
}

func TestExecute_FetchTimeoutRetriedThenFails(t *testing.T) {
	// таймаут одного вызова сборщика — дедлайн его дочернего контекста;
	// при живом ctx прогона это временная ошибка: ретраи до исчерпания,
	// затем FAILED, а не CANCELLED
	fetcher := &fakeFetcher{fn: func(context.Context) (*invoke.FetchPayload, error) {
		return nil, fmt.Errorf("fetch orders: %w", context.DeadlineExceeded)
	}}
	processor := okProcessor()

	run := domain.NewRun("")
	if err := testEngine(fetcher, processor).Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunFailed {
		t.Fatalf("status = %s, want FAILED", run.Status)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetcher called %d times, want 3", fetcher.calls)
	}
	if run.Output["error"] != domain.FailureError {
		t.Errorf("terminal output = %v", run.Output)
	}
}

func TestExecute_ItemTimeoutRetriedThenIsolated(t *testing.T) {
	fetcher := staticFetcher(t, map[string]any{
		"orders": []map[string]any{{"order_id": "SLOW"}},
	})
	processor := &fakeProcessor{fn: func(_ context.Context, _ invoke.ProcessRequest) (map[string]any, error) {
		return nil, fmt.Errorf("process order: %w", context.DeadlineExceeded)
	}}
	rec := &memRecorder{}

	run := domain.NewRun("")
	eng := testEngine(fetcher, processor, func(c *Config) { c.Recorder = rec })
	if err := eng.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunSucceeded {
		t.Fatalf("item timeout must not fail the run: status = %s", run.Status)
	}
	if processor.calls != 3 {
		t.Errorf("processor called %d times, want 3", processor.calls)
	}
	if len(rec.outcomes) != 1 {
		t.Fatalf("recorded %d outcomes, want 1", len(rec.outcomes))
	}
	o := rec.outcomes[0]
	if o.Status != domain.OutcomeError || o.Attempts != 3 {
		t.Errorf("outcome status=%s attempts=%d, want ERROR/3", o.Status, o.Attempts)
	}
}

func TestExecute_MalformedBodyFailsWithoutRetry(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(context.Context) (*invoke.FetchPayload, error) {
		return &invoke.FetchPayload{StatusCode: 200, Body: "html, not json"}, nil
	}}

	run := domain.NewRun("")
	if err := testEngine(fetcher, okProcessor()).Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunFailed {
		t.Fatalf("status = %s, want FAILED", run.Status)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetch retried a parse failure: %d calls", fetcher.calls)
	}
}

func TestExecute_ConcurrencyCap(t *testing.T) {
	orders := make([]map[string]any, 30)
	for i := range orders {
		orders[i] = map[string]any{"order_id": fmt.Sprintf("ORD%02d", i)}
	}
	fetcher := staticFetcher(t, map[string]any{"orders": orders})

	var inFlight, peak int32
	processor := &fakeProcessor{fn: func(_ context.Context, req invoke.ProcessRequest) (map[string]any, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return map[string]any{"order_id": req.OrderID}, nil
	}}

	run := domain.NewRun("")
	eng := testEngine(fetcher, processor, func(c *Config) { c.Concurrency = 4 })
	if err := eng.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunSucceeded {
		t.Fatalf("status = %s", run.Status)
	}
	if peak > 4 {
		t.Errorf("peak concurrency = %d, cap is 4", peak)
	}
	if processor.calls != 30 {
		t.Errorf("processed %d orders, want 30", processor.calls)
	}
}

func TestExecute_OutcomeOrderMatchesInput(t *testing.T) {
	// массивная форма сохраняет порядок входа; первый элемент
	// завершается последним
	fetcher := staticFetcher(t, map[string]any{
		"orders": []map[string]any{
			{"order_id": "SLOW"},
			{"order_id": "MID"},
			{"order_id": "FAST"},
		},
	})
	processor := &fakeProcessor{fn: func(_ context.Context, req invoke.ProcessRequest) (map[string]any, error) {
		switch req.OrderID {
		case "SLOW":
			time.Sleep(60 * time.Millisecond)
		case "MID":
			time.Sleep(30 * time.Millisecond)
		}
		return map[string]any{"order_id": req.OrderID}, nil
	}}

	run := domain.NewRun("")
	if err := testEngine(fetcher, processor).Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	agg := run.Output[domain.CtxProcessOrders].([]any)
	want := []string{"SLOW", "MID", "FAST"}
	for i, id := range want {
		if m := agg[i].(map[string]any); m["order_id"] != id {
			t.Errorf("agg[%d] = %v, want %s", i, m["order_id"], id)
		}
	}
}

func TestExecute_NotPending(t *testing.T) {
	run := domain.NewRun("")
	run.MarkRunning()

	err := testEngine(staticFetcher(t, map[string]any{}), okProcessor()).Execute(context.Background(), run)
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("err = %v, want ErrNotPending", err)
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := domain.NewRun("")
	err := testEngine(staticFetcher(t, map[string]any{}), okProcessor()).Execute(ctx, run)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if run.Status != domain.RunCancelled {
		t.Errorf("status = %s, want CANCELLED", run.Status)
	}
}

func TestExecute_CancelDuringFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{fn: func(ctx context.Context) (*invoke.FetchPayload, error) {
		cancel()
		return nil, ctx.Err()
	}}

	run := domain.NewRun("")
	err := testEngine(fetcher, okProcessor()).Execute(ctx, run)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if run.Status != domain.RunCancelled {
		t.Errorf("status = %s, want CANCELLED", run.Status)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times after cancellation", fetcher.calls)
	}
}

func TestExecute_CancelMidFanOutRecordsEveryOutcome(t *testing.T) {
	fetcher := staticFetcher(t, map[string]any{
		"orders": []map[string]any{
			{"order_id": "FIRST"},
			{"order_id": "SECOND"},
			{"order_id": "THIRD"},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	processor := &fakeProcessor{fn: func(ctx context.Context, _ invoke.ProcessRequest) (map[string]any, error) {
		cancel()
		time.Sleep(30 * time.Millisecond)
		return nil, ctx.Err()
	}}
	rec := &memRecorder{}

	run := domain.NewRun("")
	eng := testEngine(fetcher, processor, func(c *Config) {
		c.Recorder = rec
		c.Concurrency = 1
	})
	err := eng.Execute(ctx, run)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if run.Status != domain.RunCancelled {
		t.Errorf("status = %s, want CANCELLED", run.Status)
	}

	// ровно один исход на каждый указ, включая не стартовавшие
	if len(rec.outcomes) != 3 {
		t.Fatalf("recorded %d outcomes, want 3", len(rec.outcomes))
	}
	seen := map[string]bool{}
	for _, o := range rec.outcomes {
		seen[o.OrderID] = true
		if o.Status != domain.OutcomeError {
			t.Errorf("outcome %s status = %s", o.OrderID, o.Status)
		}
	}
	for _, id := range []string{"FIRST", "SECOND", "THIRD"} {
		if !seen[id] {
			t.Errorf("no outcome recorded for %s", id)
		}
	}
}

func TestExecute_RecorderCancelsRun(t *testing.T) {
	rec := &memRecorder{onTransit: func(run *domain.Run) error {
		if run.State == domain.StateCheckForOrders {
			return ErrCancelled
		}
		return nil
	}}

	fetcher := staticFetcher(t, map[string]any{"orders": map[string]any{"A": map[string]any{}}})
	processor := okProcessor()

	run := domain.NewRun("")
	eng := testEngine(fetcher, processor, func(c *Config) { c.Recorder = rec })
	err := eng.Execute(context.Background(), run)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if run.Status != domain.RunCancelled {
		t.Errorf("status = %s, want CANCELLED", run.Status)
	}
	if processor.calls != 0 {
		t.Errorf("fan-out ran after cancellation")
	}
}
