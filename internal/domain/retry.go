package domain

import "time"

// ErrorClass — класс ошибки для матчинга в политике ретраев.
type ErrorClass string

const (
	// ErrorClassAll — матчит любую ошибку.
	ErrorClassAll ErrorClass = "ALL"

	// ErrorClassTransient — временная ошибка вызова (сеть, 5xx, timeout).
	ErrorClassTransient ErrorClass = "TransientTaskError"

	// ErrorClassParse — ответ сборщика не разбирается. Не ретраится:
	// fetch уже прошёл, повтор не починит испорченное тело.
	ErrorClassParse ErrorClass = "ParseError"

	// ErrorClassFanOut — развал самого fan-out, а не отдельного указа.
	ErrorClassFanOut ErrorClass = "FanOutError"

	// ErrorClassItem — провал обработки одного указа после всех ретраев.
	ErrorClassItem ErrorClass = "ItemError"
)

// RetryPolicy — политика повторов для вызова коллаборатора.
type RetryPolicy struct {
	// MaxAttempts — максимум попыток, включая первую.
	MaxAttempts int `json:"max_attempts"`

	// InitialInterval — пауза перед первым повтором.
	InitialInterval time.Duration `json:"initial_interval"`

	// BackoffRate — множитель паузы между повторами.
	BackoffRate float64 `json:"backoff_rate"`

	// On — классы ошибок, при которых повторяем.
	// ErrorClassAll в списке матчит всё.
	On []ErrorClass `json:"on,omitempty"`
}

// DefaultRetryPolicy — политика всех вызовов конвейера:
// 3 попытки, 2s стартовая пауза, удвоение, ловим все классы.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		BackoffRate:     2.0,
		On:              []ErrorClass{ErrorClassAll},
	}
}

// Matches возвращает true, если политика ловит данный класс ошибки.
func (p RetryPolicy) Matches(class ErrorClass) bool {
	for _, c := range p.On {
		if c == ErrorClassAll || c == class {
			return true
		}
	}
	return false
}

// Delay возвращает паузу перед повтором после попытки attempt (с единицы).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialInterval
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffRate)
	}
	return d
}
