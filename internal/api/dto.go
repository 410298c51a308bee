package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/politicai/orderetl/internal/domain"
)

// Run DTOs

// CreateRunRequest — запрос на запуск прогона.
type CreateRunRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RunResponse — ответ с прогоном.
type RunResponse struct {
	ID             uuid.UUID      `json:"id"`
	Status         string         `json:"status"`
	State          string         `json:"state,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	Error          string         `json:"error,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		Status:         string(r.Status),
		State:          string(r.State),
		Output:         r.Output,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		CreatedAt:      r.CreatedAt,
	}
}

// RunDetailResponse — ответ с прогоном и его накопленным контекстом.
type RunDetailResponse struct {
	RunResponse
	Context map[string]any `json:"context,omitempty"`
}

// RunDetailFromDomain конвертирует domain.Run в RunDetailResponse.
func RunDetailFromDomain(r domain.Run) RunDetailResponse {
	return RunDetailResponse{
		RunResponse: RunFromDomain(r),
		Context:     r.Context,
	}
}

// Outcome DTOs

// OutcomeResponse — ответ с исходом обработки указа.
type OutcomeResponse struct {
	Index      int            `json:"index"`
	OrderID    string         `json:"order_id"`
	Status     string         `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// OutcomeFromDomain конвертирует domain.OrderOutcome в OutcomeResponse.
func OutcomeFromDomain(o domain.OrderOutcome) OutcomeResponse {
	return OutcomeResponse{
		Index:      o.Index,
		OrderID:    o.OrderID,
		Status:     string(o.Status),
		Output:     o.Output,
		ErrorKind:  o.ErrorKind,
		Error:      o.Error,
		Attempts:   o.Attempts,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание расписания.
type CreateScheduleRequest struct {
	Name        string `json:"name,omitempty"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение расписания.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с расписанием.
type ScheduleResponse struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name,omitempty"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s domain.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:          s.ID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		CreatedAt:   s.CreatedAt,
	}
}
