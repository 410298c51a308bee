package engine

import (
	"context"
	"errors"

	"github.com/politicai/orderetl/internal/domain"
)

// Ошибки движка.
var (
	// ErrNotPending — прогон уже выполнялся или завершён.
	ErrNotPending = errors.New("run is not pending")

	// ErrParse — ответ сборщика не разбирается.
	ErrParse = errors.New("parse fetch response")

	// ErrFanOut — развалился сам fan-out, а не отдельный указ.
	ErrFanOut = errors.New("fan-out failed")

	// ErrCancelled — прогон отменён. Recorder возвращает эту ошибку,
	// когда оператор снял прогон; движок сворачивается кооперативно.
	ErrCancelled = errors.New("run cancelled")
)

// Classify определяет класс ошибки для матчинга в политике ретраев.
// Всё, что не разметка и не развал fan-out — временная ошибка вызова.
func Classify(err error) domain.ErrorClass {
	switch {
	case errors.Is(err, ErrParse):
		return domain.ErrorClassParse
	case errors.Is(err, ErrFanOut):
		return domain.ErrorClassFanOut
	default:
		return domain.ErrorClassTransient
	}
}

// isCancellation возвращает true, если ошибка означает отмену прогона:
// явный ErrCancelled либо ошибка контекста при уже отменённом ctx самого
// прогона. Дедлайн дочернего контекста (таймаут одного вызова сборщика
// или обработчика) отменой не считается: ctx прогона жив, и такая ошибка
// уходит в ретраи как обычная временная.
func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(err, ErrCancelled) {
		return true
	}
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
