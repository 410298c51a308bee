package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/politicai/orderetl/internal/domain"
)

func fastPolicy(maxAttempts int) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		BackoffRate:     2.0,
		On:              []domain.ErrorClass{domain.ErrorClassAll},
	}
}

func TestRetryer_FirstTrySuccess(t *testing.T) {
	r := &Retryer{Policy: fastPolicy(3)}

	calls := 0
	attempts, err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d, want 1/1", attempts, calls)
	}
}

func TestRetryer_RetriesThenSucceeds(t *testing.T) {
	r := &Retryer{Policy: fastPolicy(3)}

	calls := 0
	attempts, err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryer_Exhausted(t *testing.T) {
	r := &Retryer{Policy: fastPolicy(3)}

	sentinel := errors.New("always down")
	attempts, err := r.Do(context.Background(), func(context.Context) error {
		return sentinel
	})
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapped sentinel", err)
	}
}

func TestRetryer_NonMatchingClassNoRetry(t *testing.T) {
	r := &Retryer{Policy: domain.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		BackoffRate:     2.0,
		On:              []domain.ErrorClass{domain.ErrorClassTransient},
	}}

	calls := 0
	attempts, err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("%w: bad json", ErrParse)
	})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d, want no retry", attempts, calls)
	}
}

func TestRetryer_ChildDeadlineIsRetryable(t *testing.T) {
	// дедлайн дочернего контекста одного вызова — временная ошибка,
	// а не отмена: внешний ctx жив, попытки идут до исчерпания
	r := &Retryer{Policy: fastPolicy(3)}

	calls := 0
	attempts, err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("do request: %w", context.DeadlineExceeded)
	})
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts=%d calls=%d, want 3/3", attempts, calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped deadline error", err)
	}
}

func TestRetryer_OuterCancelNoRetry(t *testing.T) {
	r := &Retryer{Policy: fastPolicy(3)}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d, want 1/1", attempts, calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetryer_CancelDuringBackoff(t *testing.T) {
	r := &Retryer{Policy: domain.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		BackoffRate:     2.0,
		On:              []domain.ErrorClass{domain.ErrorClassAll},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Do(ctx, func(context.Context) error {
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("backoff ignored cancellation, took %s", elapsed)
	}
}

func TestRetryer_OnRetryHook(t *testing.T) {
	var delays []time.Duration
	r := &Retryer{
		Policy: fastPolicy(3),
		OnRetry: func(_ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}

	_, _ = r.Do(context.Background(), func(context.Context) error {
		return errors.New("down")
	})
	// 3 попытки — 2 паузы, экспонента 2.0
	if len(delays) != 2 {
		t.Fatalf("got %d retries, want 2", len(delays))
	}
	if delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("delays = %v", delays)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorClass
	}{
		{"parse", fmt.Errorf("%w: garbage", ErrParse), domain.ErrorClassParse},
		{"fanout", fmt.Errorf("%w: boom", ErrFanOut), domain.ErrorClassFanOut},
		{"anything else", errors.New("connection refused"), domain.ErrorClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}
