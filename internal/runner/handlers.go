package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/politicai/orderetl/internal/domain"
	"github.com/politicai/orderetl/internal/engine"
	"github.com/politicai/orderetl/internal/mq"
	"github.com/politicai/orderetl/internal/repo"
	"github.com/politicai/orderetl/internal/telemetry"
)

// handleRunTrigger — обработчик события run.trigger.
func (r *Runner) handleRunTrigger(ctx context.Context, d *mq.Delivery) error {
	if d.Message.Type != mq.MessageTypeRunTrigger {
		r.logger.Warn("unexpected message type", "type", d.Message.Type)
		return nil
	}

	payload, err := mq.ParsePayload[mq.RunTriggerPayload](&d.Message)
	if err != nil {
		// испорченный payload ретраить бессмысленно
		r.logger.Error("bad trigger payload", "error", err)
		return fmt.Errorf("%w: %v", mq.ErrDrop, err)
	}

	return r.processRun(ctx, payload.RunID)
}

// processRun выполняет один прогон от PENDING до терминального статуса.
//
// Шаги:
//  1. Захватываем прогон в этом процессе (гонка триггера и опроса БД).
//  2. Проверяем, что прогон всё ещё PENDING.
//  3. Отдаём прогон движку; переходы и исходы персистит dbRecorder.
//  4. Финализируем: архив, событие run.completed.
func (r *Runner) processRun(ctx context.Context, runID uuid.UUID) error {
	if !r.tryAcquire(runID) {
		return nil
	}
	defer r.release(runID)

	log := telemetry.WithRunID(r.logger, runID.String())

	// 2. Загружаем и проверяем статус
	run, err := r.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn("triggered run not found")
			return nil
		}
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status != domain.RunPending {
		log.Debug("run already picked up", "status", run.Status)
		return nil
	}

	// 3. Выполняем
	err = r.engine.Execute(ctx, run)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrCancelled):
		log.Info("run cancelled")
	case errors.Is(err, engine.ErrNotPending):
		return nil
	default:
		return fmt.Errorf("execute run: %w", err)
	}

	// 4. Финализация
	r.finalize(ctx, run, log)
	return nil
}

// finalize архивирует терминальный прогон и публикует run.completed.
// Ошибки здесь не фатальны: прогон уже завершён и записан в БД.
func (r *Runner) finalize(ctx context.Context, run *domain.Run, log *slog.Logger) {
	outcomes, err := r.outs.ListByRun(ctx, run.ID)
	if err != nil {
		log.Warn("list outcomes for finalize", "error", err)
	}

	failed := 0
	for i := range outcomes {
		if outcomes[i].Status == domain.OutcomeError {
			failed++
		}
	}

	if r.arch != nil {
		if key, err := r.arch.Archive(ctx, run, outcomes); err != nil {
			log.Warn("archive run", "error", err)
		} else {
			log.Info("run archived", "key", key)
		}
	}

	if r.pub != nil {
		err := r.pub.PublishRunCompleted(ctx, mq.RunCompletedPayload{
			RunID:        run.ID,
			Status:       run.Status,
			Error:        run.Error,
			OrdersTotal:  len(outcomes),
			OrdersFailed: failed,
		})
		if err != nil {
			log.Warn("publish run.completed", "error", err)
		}
	}
}

// dbRecorder персистит переходы и исходы, а заодно замечает отмену:
// если оператор уже поставил CANCELLED в БД, движку возвращается
// ErrCancelled и прогон сворачивается.
type dbRecorder struct {
	runner *Runner
}

func (rec *dbRecorder) RecordTransition(ctx context.Context, run *domain.Run) error {
	r := rec.runner

	status, err := r.runs.GetStatus(ctx, run.ID)
	if err != nil {
		return err
	}
	if status == domain.RunCancelled {
		if !run.Status.IsTerminal() {
			return engine.ErrCancelled
		}
		if run.Status != domain.RunCancelled {
			// оператор успел отменить: его решение не перетираем
			return nil
		}
	}

	return r.runs.Update(ctx, run)
}

func (rec *dbRecorder) RecordOutcome(ctx context.Context, runID uuid.UUID, o *domain.OrderOutcome) error {
	return rec.runner.outs.Save(ctx, runID, o)
}
