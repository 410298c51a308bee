package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/politicai/orderetl/internal/archive"
	"github.com/politicai/orderetl/internal/engine"
	"github.com/politicai/orderetl/internal/invoke"
	"github.com/politicai/orderetl/internal/mq"
	"github.com/politicai/orderetl/internal/repo"
)

// Config — конфигурация runner.
type Config struct {
	// PollInterval — период опроса БД на PENDING прогоны.
	// По умолчанию: 5s.
	PollInterval time.Duration

	// BatchSize — сколько PENDING прогонов забирать за опрос.
	// По умолчанию: 10.
	BatchSize int

	// Concurrency — потолок fan-out внутри одного прогона.
	// По умолчанию: engine.DefaultConcurrency.
	Concurrency int
}

// Deps — зависимости runner. Conn и Archiver опциональны:
// без брокера остаётся опрос БД, без архива — только записи в БД.
type Deps struct {
	Runs      *repo.RunRepo
	Outcomes  *repo.OutcomeRepo
	Fetcher   invoke.Fetcher
	Processor invoke.Processor
	Conn      *mq.Connection
	Publisher *mq.Publisher
	Archiver  *archive.Archiver
	Logger    *slog.Logger
}

// Runner выполняет прогоны.
type Runner struct {
	cfg    Config
	runs   *repo.RunRepo
	outs   *repo.OutcomeRepo
	conn   *mq.Connection
	pub    *mq.Publisher
	arch   *archive.Archiver
	engine *engine.Engine
	logger *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]struct{}

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	consumer   *mq.Consumer
}

// New создаёт runner с движком внутри.
func New(cfg Config, deps Deps) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := &Runner{
		cfg:    cfg,
		runs:   deps.Runs,
		outs:   deps.Outcomes,
		conn:   deps.Conn,
		pub:    deps.Publisher,
		arch:   deps.Archiver,
		logger: deps.Logger,
		active: make(map[uuid.UUID]struct{}),
	}

	r.engine = engine.New(engine.Config{
		Fetcher:     deps.Fetcher,
		Processor:   deps.Processor,
		Recorder:    &dbRecorder{runner: r},
		Concurrency: cfg.Concurrency,
		Logger:      deps.Logger,
	})

	return r
}

// Start запускает consumer триггеров и цикл опроса БД.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	if r.conn != nil {
		r.consumer = mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsTrigger,
			Handler:  r.handleRunTrigger,
			Prefetch: 1,
		})
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.consumer.Start(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("trigger consumer stopped", "error", err)
			}
		}()
	} else {
		r.logger.Warn("no broker connection, running on DB polling only")
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pollLoop(ctx)
	}()

	r.logger.Info("runner started",
		"poll_interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize)
}

// Stop останавливает runner и дожидается активных прогонов.
func (r *Runner) Stop() {
	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	r.wg.Wait()
	r.logger.Info("runner stopped")
}

// pollLoop подбирает PENDING прогоны из БД.
func (r *Runner) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	runs, err := r.runs.ListPending(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("list pending runs", "error", err)
		return
	}

	for i := range runs {
		runID := runs[i].ID
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.processRun(ctx, runID)
		}()
	}
}

// tryAcquire помечает прогон как выполняющийся в этом процессе.
// Защита от гонки триггера с опросом БД.
func (r *Runner) tryAcquire(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[id]; busy {
		return false
	}
	r.active[id] = struct{}{}
	return true
}

func (r *Runner) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// ActiveRuns возвращает число прогонов в работе.
func (r *Runner) ActiveRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
