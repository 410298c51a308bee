// Package invoke содержит клиентов к вычислительным узлам конвейера:
// сборщику списка указов и обработчику одного указа. Оба развёрнуты
// как HTTP function endpoints; их внутренняя логика (скрейпинг,
// извлечение текста) для движка непрозрачна.
package invoke

import (
	"context"
	"errors"
	"time"
)

// Таймауты вызовов. Сборщик собирает весь список за один вызов,
// обработчик тянет и разбирает PDF одного указа.
const (
	// FetchTimeout — таймаут вызова сборщика.
	FetchTimeout = 330 * time.Second

	// ProcessTimeout — таймаут обработки одного указа.
	ProcessTimeout = 900 * time.Second
)

// Ошибки вызовов.
var (
	// ErrBadStatus — endpoint ответил не-2xx статусом.
	ErrBadStatus = errors.New("endpoint returned error status")

	// ErrBadPayload — тело ответа не разбирается.
	ErrBadPayload = errors.New("endpoint returned malformed payload")
)

// FetchPayload — конверт ответа сборщика.
// Body — JSON-строка с bucket_name, compiled_file_name и orders;
// её разбор — отдельное состояние машины, не забота клиента.
type FetchPayload struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// ProcessRequest — вход обработчика одного указа.
type ProcessRequest struct {
	// OrderID — идентификатор указа.
	OrderID string `json:"order_id"`

	// OrderData — поля указа как их отдал сборщик.
	OrderData map[string]any `json:"order_data"`

	// BucketName — bucket с сырьём текущего прогона.
	BucketName string `json:"bucket_name,omitempty"`

	// CompiledFileName — собранный файл текущего прогона.
	CompiledFileName string `json:"compiled_file_name,omitempty"`
}

// Fetcher — сборщик списка указов.
type Fetcher interface {
	// Fetch вызывает сборщик без входных данных.
	Fetch(ctx context.Context) (*FetchPayload, error)
}

// Processor — обработчик одного указа.
type Processor interface {
	// Process обрабатывает один указ и возвращает вывод обработчика.
	Process(ctx context.Context, req ProcessRequest) (map[string]any, error)
}
