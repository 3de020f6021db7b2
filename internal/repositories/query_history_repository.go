package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"sqlgateway/internal/models"
)

type QueryHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewQueryHistoryRepository(pool *pgxpool.Pool) *QueryHistoryRepository {
	return &QueryHistoryRepository{pool: pool}
}

func (r *QueryHistoryRepository) Create(ctx context.Context, queryHistory *models.QueryHistory) error {
	queryHistory.Prepare()

	query := `
		INSERT INTO query_history (id, target_id, caller_id, query_text, executed_at, success, execution_time_ms, error_kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		queryHistory.ID,
		queryHistory.TargetID,
		queryHistory.CallerID,
		queryHistory.QueryText,
		queryHistory.ExecutedAt,
		queryHistory.Success,
		queryHistory.ExecutionTimeMs,
		queryHistory.ErrorKind,
	)

	return err
}

func (r *QueryHistoryRepository) GetByCallerID(ctx context.Context, callerID string, limit int) ([]models.QueryHistory, error) {
	if limit <= 0 {
		limit = 100 // Default limit
	}

	query := `
		SELECT id, target_id, caller_id, query_text, executed_at, success, execution_time_ms, error_kind
		FROM query_history WHERE caller_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, callerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queries []models.QueryHistory
	for rows.Next() {
		var qh models.QueryHistory
		err := rows.Scan(
			&qh.ID,
			&qh.TargetID,
			&qh.CallerID,
			&qh.QueryText,
			&qh.ExecutedAt,
			&qh.Success,
			&qh.ExecutionTimeMs,
			&qh.ErrorKind,
		)
		if err != nil {
			return nil, err
		}
		queries = append(queries, qh)
	}

	return queries, rows.Err()
}
