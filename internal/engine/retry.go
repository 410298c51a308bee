package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/politicai/orderetl/internal/domain"
)

// Retryer выполняет операцию с повторами по политике.
//
// Повторяется только ошибка, чей класс матчится политикой;
// остальные возвращаются сразу. Пауза между попытками растёт
// экспоненциально и прерывается отменой контекста.
type Retryer struct {
	// Policy — политика повторов.
	Policy domain.RetryPolicy

	// OnRetry — хук перед паузой: номер неудачной попытки,
	// длительность паузы и ошибка. Для логов и метрик.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do выполняет op и возвращает число сделанных попыток.
//
// Успех — (attempts, nil). Ошибка вне политики возвращается как есть.
// Исчерпание попыток возвращает последнюю ошибку, завёрнутую с их числом.
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	for {
		attempts++
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}
		if isCancellation(ctx, err) {
			return attempts, err
		}
		if !r.Policy.Matches(Classify(err)) {
			return attempts, err
		}
		if attempts >= r.Policy.MaxAttempts {
			return attempts, fmt.Errorf("after %d attempts: %w", attempts, err)
		}

		delay := r.Policy.Delay(attempts)
		if r.OnRetry != nil {
			r.OnRetry(attempts, delay, err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempts, ctx.Err()
		}
	}
}
