package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/politicai/orderetl/internal/domain"
)

// OutcomeRepo — репозиторий исходов обработки указов.
type OutcomeRepo struct {
	pool *pgxpool.Pool
}

// NewOutcomeRepo создаёт новый OutcomeRepo.
func NewOutcomeRepo(pool *pgxpool.Pool) *OutcomeRepo {
	return &OutcomeRepo{pool: pool}
}

// Save записывает исход указа. Слот (run_id, idx) уникален:
// повторная запись перетирает предыдущую, исход на указ всегда один.
func (r *OutcomeRepo) Save(ctx context.Context, runID uuid.UUID, o *domain.OrderOutcome) error {
	var outputJSON []byte
	if o.Output != nil {
		var err error
		if outputJSON, err = json.Marshal(o.Output); err != nil {
			return fmt.Errorf("marshal outcome output: %w", err)
		}
	}

	query := `
		INSERT INTO order_outcomes (run_id, idx, order_id, status, output,
		                            error_kind, error, attempts, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, idx) DO UPDATE
		SET status = EXCLUDED.status, output = EXCLUDED.output,
		    error_kind = EXCLUDED.error_kind, error = EXCLUDED.error,
		    attempts = EXCLUDED.attempts, finished_at = EXCLUDED.finished_at
	`
	_, err := r.pool.Exec(ctx, query,
		runID,
		o.Index,
		o.OrderID,
		o.Status,
		outputJSON,
		nullString(o.ErrorKind),
		nullString(o.Error),
		o.Attempts,
		o.StartedAt,
		o.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

// ListByRun возвращает исходы прогона в порядке входного списка.
func (r *OutcomeRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.OrderOutcome, error) {
	query := `
		SELECT idx, order_id, status, output, error_kind, error,
		       attempts, started_at, finished_at
		FROM order_outcomes
		WHERE run_id = $1
		ORDER BY idx ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.OrderOutcome
	for rows.Next() {
		var o domain.OrderOutcome
		var outputJSON []byte
		var errorKind, errorCause *string

		err := rows.Scan(
			&o.Index,
			&o.OrderID,
			&o.Status,
			&outputJSON,
			&errorKind,
			&errorCause,
			&o.Attempts,
			&o.StartedAt,
			&o.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}

		if outputJSON != nil {
			if err := json.Unmarshal(outputJSON, &o.Output); err != nil {
				return nil, fmt.Errorf("unmarshal outcome output: %w", err)
			}
		}
		if errorKind != nil {
			o.ErrorKind = *errorKind
		}
		if errorCause != nil {
			o.Error = *errorCause
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// CountByStatus возвращает число исходов прогона по статусам.
func (r *OutcomeRepo) CountByStatus(ctx context.Context, runID uuid.UUID) (map[domain.OutcomeStatus]int, error) {
	query := `
		SELECT status, count(*)
		FROM order_outcomes
		WHERE run_id = $1
		GROUP BY status
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OutcomeStatus]int)
	for rows.Next() {
		var status domain.OutcomeStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
