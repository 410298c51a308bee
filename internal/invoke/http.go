package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher — Fetcher поверх HTTP function endpoint.
type HTTPFetcher struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPFetcher создаёт клиента сборщика.
// Нулевой timeout заменяется на FetchTimeout.
func NewHTTPFetcher(endpoint string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = FetchTimeout
	}
	return &HTTPFetcher{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

// Fetch вызывает сборщик. Входных данных у вызова нет — POST пустого объекта.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*FetchPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := post(ctx, f.client, f.endpoint, []byte("{}"))
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}

	var payload FetchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("fetch orders: %w: %v", ErrBadPayload, err)
	}
	// Lambda-стиль: код ошибки может приехать внутри конверта.
	if payload.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch orders: %w: envelope status %d: %s",
			ErrBadStatus, payload.StatusCode, truncate(payload.Body, 200))
	}
	return &payload, nil
}

// HTTPProcessor — Processor поверх HTTP function endpoint.
type HTTPProcessor struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPProcessor создаёт клиента обработчика.
// Нулевой timeout заменяется на ProcessTimeout.
func NewHTTPProcessor(endpoint string, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = ProcessTimeout
	}
	return &HTTPProcessor{
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

// Process отправляет один указ обработчику и возвращает его вывод.
func (p *HTTPProcessor) Process(ctx context.Context, req ProcessRequest) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("process order %s: marshal request: %w", req.OrderID, err)
	}

	body, err := post(ctx, p.client, p.endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("process order %s: %w", req.OrderID, err)
	}

	// Вывод обработчика: JSON-объект, иначе заворачиваем строкой.
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		out = map[string]any{"body": string(body)}
	}
	return out, nil
}

// post выполняет POST с JSON-телом и возвращает тело ответа.
// HTTP >= 400 — ошибка с обрезанным телом в сообщении.
func post(ctx context.Context, client *http.Client, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrBadStatus, resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
