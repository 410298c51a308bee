package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/politicai/orderetl/internal/domain"
	"github.com/politicai/orderetl/internal/invoke"
	"github.com/politicai/orderetl/internal/telemetry"
)

// DefaultConcurrency — потолок одновременно обрабатываемых указов.
const DefaultConcurrency = 10

// Recorder получает от движка каждый переход состояния и каждый исход
// указа. Возврат ErrCancelled из RecordTransition сворачивает прогон.
type Recorder interface {
	RecordTransition(ctx context.Context, run *domain.Run) error
	RecordOutcome(ctx context.Context, runID uuid.UUID, outcome *domain.OrderOutcome) error
}

// noopRecorder — заглушка, когда персистентность не нужна (тесты, dry-run).
type noopRecorder struct{}

func (noopRecorder) RecordTransition(context.Context, *domain.Run) error { return nil }
func (noopRecorder) RecordOutcome(context.Context, uuid.UUID, *domain.OrderOutcome) error {
	return nil
}

// Config — конфигурация движка.
type Config struct {
	// Fetcher — сборщик списка указов. Обязателен.
	Fetcher invoke.Fetcher

	// Processor — обработчик одного указа. Обязателен.
	Processor invoke.Processor

	// Recorder — приёмник переходов и исходов. По умолчанию noop.
	Recorder Recorder

	// Concurrency — потолок fan-out. По умолчанию DefaultConcurrency.
	Concurrency int

	// FetchPolicy — политика ретраев вызова сборщика.
	// По умолчанию domain.DefaultRetryPolicy.
	FetchPolicy *domain.RetryPolicy

	// ItemPolicy — политика ретраев обработки одного указа.
	// По умолчанию domain.DefaultRetryPolicy.
	ItemPolicy *domain.RetryPolicy

	// Logger — логгер. По умолчанию slog.Default.
	Logger *slog.Logger
}

// Engine — движок ETL-прогона.
type Engine struct {
	fetcher     invoke.Fetcher
	processor   invoke.Processor
	recorder    Recorder
	concurrency int
	fetchPolicy domain.RetryPolicy
	itemPolicy  domain.RetryPolicy
	logger      *slog.Logger
}

// New создаёт движок, подставляя значения по умолчанию.
func New(cfg Config) *Engine {
	e := &Engine{
		fetcher:     cfg.Fetcher,
		processor:   cfg.Processor,
		recorder:    cfg.Recorder,
		concurrency: cfg.Concurrency,
		fetchPolicy: domain.DefaultRetryPolicy(),
		itemPolicy:  domain.DefaultRetryPolicy(),
		logger:      cfg.Logger,
	}
	if e.recorder == nil {
		e.recorder = noopRecorder{}
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	if cfg.FetchPolicy != nil {
		e.fetchPolicy = *cfg.FetchPolicy
	}
	if cfg.ItemPolicy != nil {
		e.itemPolicy = *cfg.ItemPolicy
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Execute ведёт прогон от PENDING до терминального статуса.
//
// Возвращает ошибку только при отмене (ErrCancelled / ошибка контекста);
// провал ETL — это не ошибка Execute, он зафиксирован на самом прогоне.
func (e *Engine) Execute(ctx context.Context, run *domain.Run) error {
	if run.Status != domain.RunPending {
		return fmt.Errorf("%w: run %s is %s", ErrNotPending, run.ID, run.Status)
	}

	log := telemetry.WithRunID(e.logger, run.ID.String())
	log.Info("run started")

	run.MarkRunning()
	if err := e.record(ctx, run, log); err != nil {
		return e.cancel(ctx, run, log, err)
	}

	for !run.IsFinished() {
		if err := ctx.Err(); err != nil {
			return e.cancel(ctx, run, log, err)
		}

		stepLog := telemetry.WithState(log, string(run.State))
		var err error
		switch run.State {
		case domain.StateFetchOrders:
			err = e.stepFetchOrders(ctx, run, stepLog)
		case domain.StateParseResponse:
			err = e.stepParseResponse(run, stepLog)
		case domain.StateCheckForOrders:
			err = e.stepCheckForOrders(run, stepLog)
		case domain.StateNoOrders:
			run.MarkSucceeded(map[string]any{"message": domain.NoOrdersMessage})
		case domain.StateProcessOrders:
			err = e.stepProcessOrders(ctx, run, stepLog)
		default:
			run.MarkFailed(fmt.Sprintf("unknown state %q", run.State))
		}
		if err != nil {
			return e.cancel(ctx, run, log, err)
		}

		if err := e.record(ctx, run, log); err != nil {
			return e.cancel(ctx, run, log, err)
		}
	}

	e.observeFinished(run, log)
	return nil
}

// stepFetchOrders вызывает сборщик с ретраями и кладёт сырой ответ
// в контекст. Исчерпание попыток — провал прогона.
func (e *Engine) stepFetchOrders(ctx context.Context, run *domain.Run, log *slog.Logger) error {
	retryer := &Retryer{Policy: e.fetchPolicy, OnRetry: retryHook(log)}

	var payload *invoke.FetchPayload
	attempts, err := retryer.Do(ctx, func(ctx context.Context) error {
		p, ferr := e.fetcher.Fetch(ctx)
		if ferr != nil {
			return ferr
		}
		payload = p
		return nil
	})
	if err != nil {
		if isCancellation(ctx, err) {
			return err
		}
		log.Error("fetch failed", "attempts", attempts, "error", err)
		run.MarkFailed(fmt.Sprintf("fetch orders: %v", err))
		return nil
	}

	log.Info("orders fetched", "attempts", attempts, "body_bytes", len(payload.Body))
	run.SetContext(domain.CtxExtractOrders, map[string]any{
		"statusCode": payload.StatusCode,
		"body":       payload.Body,
	})
	run.State = domain.StateParseResponse
	return nil
}

// stepParseResponse разбирает body из extractOrdersOutput.
// Испорченное тело фатально: fetch уже прошёл, повтор его не починит.
func (e *Engine) stepParseResponse(run *domain.Run, log *slog.Logger) error {
	body, err := rawBody(run)
	if err == nil {
		var fr domain.FetchResult
		if uerr := json.Unmarshal([]byte(body), &fr); uerr != nil {
			err = fmt.Errorf("%w: %v", ErrParse, uerr)
		} else {
			run.SetContext(domain.CtxParsed, fr)
			run.State = domain.StateCheckForOrders
			log.Info("response parsed",
				"bucket", fr.BucketName,
				"has_orders", fr.HasOrders,
				"orders", len(fr.Orders))
			return nil
		}
	}

	log.Error("parse failed", "error", err)
	run.MarkFailed(err.Error())
	return nil
}

// stepCheckForOrders ветвится по присутствию ключа orders.
// Присутствие, не непустота: пустой список уходит в fan-out и
// завершается успехом с пустым агрегатом.
func (e *Engine) stepCheckForOrders(run *domain.Run, log *slog.Logger) error {
	fr, err := parsedResult(run)
	if err != nil {
		run.MarkFailed(err.Error())
		return nil
	}
	if fr.HasOrders {
		run.State = domain.StateProcessOrders
	} else {
		log.Info("no orders key in response")
		run.State = domain.StateNoOrders
	}
	return nil
}

// stepProcessOrders запускает fan-out и собирает агрегат исходов.
func (e *Engine) stepProcessOrders(ctx context.Context, run *domain.Run, log *slog.Logger) error {
	fr, err := parsedResult(run)
	if err != nil {
		run.MarkFailed(err.Error())
		return nil
	}

	outcomes, err := e.fanOut(ctx, run, fr, log)
	if err != nil {
		if isCancellation(ctx, err) {
			return err
		}
		log.Error("fan-out failed", "error", err)
		run.MarkFailed(err.Error())
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	agg := make([]any, len(outcomes))
	for i := range outcomes {
		agg[i] = outcomes[i].AsMap()
	}
	run.SetContext(domain.CtxProcessOrders, agg)
	run.MarkSucceeded(map[string]any{domain.CtxProcessOrders: agg})
	return nil
}

// cancel сворачивает прогон по отмене и фиксирует финальное состояние.
func (e *Engine) cancel(ctx context.Context, run *domain.Run, log *slog.Logger, cause error) error {
	run.MarkCancelled()
	// best effort: контекст уже может быть отменён
	if err := e.recordDetached(run); err != nil {
		log.Warn("record cancelled run", "error", err)
	}
	log.Info("run cancelled", "cause", cause.Error())
	e.observeFinished(run, log)
	if isCancellation(ctx, cause) {
		return ErrCancelled
	}
	return cause
}

// record отдаёт переход рекордеру. ErrCancelled пробрасывается наверх,
// прочие ошибки персистентности не останавливают прогон.
func (e *Engine) record(ctx context.Context, run *domain.Run, log *slog.Logger) error {
	err := e.recorder.RecordTransition(ctx, run)
	if err == nil {
		return nil
	}
	if isCancellation(ctx, err) {
		return err
	}
	log.Warn("record transition", "state", run.State, "error", err)
	return nil
}

func (e *Engine) recordDetached(run *domain.Run) error {
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()
	return e.recorder.RecordTransition(ctx, run)
}

// recordOutcomeDetached персистит исход на отдельном контексте: ctx
// прогона к этому моменту мог быть уже отменён, а исход терять нельзя.
func (e *Engine) recordOutcomeDetached(runID uuid.UUID, o *domain.OrderOutcome) error {
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()
	return e.recorder.RecordOutcome(ctx, runID, o)
}

func (e *Engine) observeFinished(run *domain.Run, log *slog.Logger) {
	telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	telemetry.RunDurationSeconds.Observe(run.Duration().Seconds())
	log.Info("run finished",
		"status", run.Status,
		"state", run.State,
		"duration_ms", run.Duration().Milliseconds())
}

// rawBody достаёт строку body из extractOrdersOutput.
func rawBody(run *domain.Run) (string, error) {
	v, ok := run.ContextValue(domain.CtxExtractOrders)
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrParse, domain.CtxExtractOrders)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: %s is not an object", ErrParse, domain.CtxExtractOrders)
	}
	body, ok := m["body"].(string)
	if !ok {
		return "", fmt.Errorf("%w: body is not a string", ErrParse)
	}
	return body, nil
}

// parsedResult достаёт разобранный ответ из контекста. Контекст мог
// приехать из БД как map, поэтому при необходимости пересобираем.
func parsedResult(run *domain.Run) (*domain.FetchResult, error) {
	v, ok := run.ContextValue(domain.CtxParsed)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrParse, domain.CtxParsed)
	}
	switch fr := v.(type) {
	case domain.FetchResult:
		return &fr, nil
	case *domain.FetchResult:
		return fr, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: remarshal %s: %v", ErrParse, domain.CtxParsed, err)
		}
		var out domain.FetchResult
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return &out, nil
	}
}

// retryHook логирует повтор и считает метрику.
func retryHook(log *slog.Logger) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		telemetry.RetryAttemptsTotal.Inc()
		log.Warn("attempt failed, retrying",
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err)
	}
}
