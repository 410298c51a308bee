package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/politicai/orderetl/internal/domain"
	"github.com/politicai/orderetl/internal/invoke"
	"github.com/politicai/orderetl/internal/telemetry"
)

// fanOut обрабатывает указы параллельно с потолком e.concurrency.
//
// На каждый указ — ровно один исход, записанный в слот его входного
// индекса: порядок агрегата совпадает с порядком входа независимо от
// того, кто закончил первым. Провал указа остаётся в его исходе и
// не прерывает остальных.
func (e *Engine) fanOut(ctx context.Context, run *domain.Run, fr *domain.FetchResult, log *slog.Logger) ([]domain.OrderOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(fr.Orders) == 0 {
		log.Info("orders key present but empty, nothing to fan out")
		return []domain.OrderOutcome{}, nil
	}

	log.Info("fan-out started", "orders", len(fr.Orders), "concurrency", e.concurrency)

	outcomes := make([]domain.OrderOutcome, len(fr.Orders))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i := range fr.Orders {
		wg.Add(1)
		go func(idx int, rec domain.OrderRecord) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[idx] = skippedOutcome(idx, rec)
				if err := e.recordOutcomeDetached(run.ID, &outcomes[idx]); err != nil {
					log.Warn("record skipped outcome", "order_id", rec.OrderID, "error", err)
				}
				return
			}

			outcomes[idx] = e.processOne(ctx, rec, idx, fr, log)
			if err := e.recorder.RecordOutcome(ctx, run.ID, &outcomes[idx]); err != nil {
				if !isCancellation(ctx, err) {
					log.Warn("record outcome", "order_id", rec.OrderID, "error", err)
				} else if derr := e.recordOutcomeDetached(run.ID, &outcomes[idx]); derr != nil {
					log.Warn("record outcome", "order_id", rec.OrderID, "error", derr)
				}
			}
		}(i, fr.Orders[i])
	}
	wg.Wait()

	return outcomes, nil
}

// processOne обрабатывает один указ с его политикой ретраев.
// Никогда не возвращает ошибку: провал капсулируется в исходе.
func (e *Engine) processOne(ctx context.Context, rec domain.OrderRecord, idx int, fr *domain.FetchResult, log *slog.Logger) domain.OrderOutcome {
	itemLog := telemetry.WithOrderID(log, rec.OrderID)
	started := time.Now()

	req := invoke.ProcessRequest{
		OrderID:          rec.OrderID,
		OrderData:        rec.Data,
		BucketName:       fr.BucketName,
		CompiledFileName: fr.CompiledFileName,
	}

	retryer := &Retryer{Policy: e.itemPolicy, OnRetry: retryHook(itemLog)}

	var out map[string]any
	attempts, err := retryer.Do(ctx, func(ctx context.Context) error {
		o, perr := e.processor.Process(ctx, req)
		if perr != nil {
			return perr
		}
		out = o
		return nil
	})

	finished := time.Now()
	outcome := domain.OrderOutcome{
		OrderID:    rec.OrderID,
		Index:      idx,
		Attempts:   attempts,
		StartedAt:  &started,
		FinishedAt: &finished,
	}

	if err != nil {
		outcome.Status = domain.OutcomeError
		outcome.ErrorKind = string(domain.ErrorClassItem)
		outcome.Error = err.Error()
		itemLog.Error("order processing failed", "attempts", attempts, "error", err)
	} else {
		outcome.Status = domain.OutcomeOK
		outcome.Output = out
		itemLog.Info("order processed", "attempts", attempts)
	}
	telemetry.OrdersProcessedTotal.WithLabelValues(string(outcome.Status)).Inc()
	return outcome
}

// skippedOutcome — исход указа, до которого fan-out не дошёл из-за отмены.
func skippedOutcome(idx int, rec domain.OrderRecord) domain.OrderOutcome {
	now := time.Now()
	return domain.OrderOutcome{
		OrderID:    rec.OrderID,
		Index:      idx,
		Status:     domain.OutcomeError,
		ErrorKind:  string(domain.ErrorClassItem),
		Error:      "run cancelled before processing",
		FinishedAt: &now,
	}
}
