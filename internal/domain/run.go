package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ключи контекста прогона. Контекст растёт монотонно:
// каждое состояние дописывает свой ключ и никогда не стирает чужие.
const (
	// CtxExtractOrders — сырой ответ сборщика указов.
	CtxExtractOrders = "extractOrdersOutput"

	// CtxParsed — разобранный ответ (bucket, файл, указы).
	CtxParsed = "parsedOutput"

	// CtxProcessOrders — результаты fan-out в порядке входа.
	CtxProcessOrders = "processOrdersOutput"
)

// Терминальная запись об ошибке прогона.
const (
	// FailureError — тип ошибки в терминальном выводе.
	FailureError = "ETLFailure"

	// FailureCause — причина в терминальном выводе.
	FailureCause = "One of the ETL steps failed."

	// NoOrdersMessage — вывод терминальной ветки без указов.
	NoOrdersMessage = "No orders found to process"
)

// Run — один прогон ETL-конвейера указов.
//
// Жизненный цикл: PENDING -> RUNNING -> SUCCEEDED | FAILED | CANCELLED.
// Пока прогон идёт, State показывает текущее состояние машины,
// а Context накапливает выводы пройденных состояний.
type Run struct {
	// ID — уникальный идентификатор прогона.
	ID uuid.UUID `json:"id"`

	// Status — текущий статус.
	Status RunStatus `json:"status"`

	// State — текущее состояние машины прогона.
	State State `json:"state,omitempty"`

	// Context — накопленный контекст прогона.
	// Ключи: extractOrdersOutput, parsedOutput, processOrdersOutput.
	Context map[string]any `json:"context,omitempty"`

	// Output — терминальный вывод прогона.
	// Успех без указов: {"message": "No orders found to process"}.
	// Успех с указами: {"processOrdersOutput": [...]}.
	// Ошибка: {"error": "ETLFailure", "cause": "One of the ETL steps failed."}.
	Output map[string]any `json:"output,omitempty"`

	// Error — конкретная причина провала для диагностики
	// (например "fetch failed after 3 attempts"). В терминальном
	// выводе причина всегда обобщается до FailureCause.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ дедупликации (scheduler, API).
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания записи.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт прогон в статусе PENDING.
func NewRun(idempotencyKey string) *Run {
	return &Run{
		ID:             uuid.New(),
		Status:         RunPending,
		Context:        make(map[string]any),
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now(),
	}
}

// SetContext дописывает ключ в контекст прогона.
// Существующие ключи не перезаписываются: контекст монотонный.
func (r *Run) SetContext(key string, value any) {
	if r.Context == nil {
		r.Context = make(map[string]any)
	}
	if _, ok := r.Context[key]; ok {
		return
	}
	r.Context[key] = value
}

// ContextValue возвращает значение ключа контекста.
func (r *Run) ContextValue(key string) (any, bool) {
	v, ok := r.Context[key]
	return v, ok
}

// MarkRunning переводит прогон в RUNNING и ставит начальное состояние.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunRunning
	r.State = StateFetchOrders
	r.StartedAt = &now
}

// MarkSucceeded завершает прогон успехом с терминальным выводом.
// Повторный вызов на финальном прогоне игнорируется.
func (r *Run) MarkSucceeded(output map[string]any) {
	if r.Status.IsTerminal() {
		return
	}
	now := time.Now()
	r.Status = RunSucceeded
	r.State = StateCompleted
	r.Output = output
	r.FinishedAt = &now
}

// MarkFailed завершает прогон провалом. В Output попадает
// обобщённая терминальная запись, в Error — конкретная причина.
func (r *Run) MarkFailed(cause string) {
	if r.Status.IsTerminal() {
		return
	}
	now := time.Now()
	r.Status = RunFailed
	r.State = StateFailed
	r.Error = cause
	r.Output = map[string]any{
		"error": FailureError,
		"cause": FailureCause,
	}
	r.FinishedAt = &now
}

// MarkCancelled завершает прогон отменой.
func (r *Run) MarkCancelled() {
	if r.Status.IsTerminal() {
		return
	}
	now := time.Now()
	r.Status = RunCancelled
	r.Error = "cancelled by operator"
	r.FinishedAt = &now
}

// IsFinished возвращает true, если прогон завершён.
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает длительность выполнения.
// Для незавершённого прогона — время с момента старта.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(*r.StartedAt)
	}
	return time.Since(*r.StartedAt)
}
