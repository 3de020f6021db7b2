package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sqlgateway/internal/logger"
	"sqlgateway/internal/models"
	"sqlgateway/internal/utils"
)

type Authorizer interface {
	Authorize(ctx context.Context, callerID, targetID string) (Decision, error)
}

type HandleProvider interface {
	AcquireHandle(ctx context.Context, id string) (*Handle, error)
}

// HistoryStore records executions. Optional.
type HistoryStore interface {
	Create(ctx context.Context, queryHistory *models.QueryHistory) error
	GetByCallerID(ctx context.Context, callerID string, limit int) ([]models.QueryHistory, error)
}

type QueryService struct {
	validator *StatementValidator
	access    Authorizer
	handles   HandleProvider
	history   HistoryStore
	timeout   time.Duration
	log       *logger.Logger
}

func NewQueryService(validator *StatementValidator, access Authorizer, handles HandleProvider, history HistoryStore, timeout time.Duration, log *logger.Logger) *QueryService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QueryService{
		validator: validator,
		access:    access,
		handles:   handles,
		history:   history,
		timeout:   timeout,
		log:       log,
	}
}

type QueryResult struct {
	Columns       []string                 `json:"columns"`
	Rows          []map[string]interface{} `json:"rows"`
	RowCount      int                      `json:"row_count"`
	RowsAffected  int64                    `json:"rows_affected,omitempty"`
	ExecutionTime int64                    `json:"execution_time_ms"`
}

type ExecuteQueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// Execute runs admission control, authorization, handle acquisition and the
// statement itself, in that order, under one deadline.
func (s *QueryService) Execute(ctx context.Context, callerID, targetID, query string) (*QueryResult, error) {
	startTime := time.Now()

	verdict := s.validator.Validate(query)
	if !verdict.Valid {
		err := newError(ErrQueryRejected, "%s", verdict.Reason)
		s.record(ctx, callerID, targetID, query, startTime, err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.execute(ctx, callerID, targetID, query, verdict.Keyword)
	if err != nil {
		err = deadlineError(ctx, err)
		s.record(ctx, callerID, targetID, query, startTime, err)
		return nil, err
	}

	result.ExecutionTime = time.Since(startTime).Milliseconds()
	s.record(ctx, callerID, targetID, query, startTime, nil)
	return result, nil
}

func (s *QueryService) execute(ctx context.Context, callerID, targetID, query, keyword string) (*QueryResult, error) {
	decision, err := s.authorize(ctx, callerID, targetID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, newError(ErrAccessDenied, "%s", decision.Reason)
	}

	handle, err := s.handles.AcquireHandle(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if keyword == "SELECT" {
		return s.executeSelectQuery(ctx, handle, query)
	}
	return s.executeNonSelectQuery(ctx, handle, query)
}

type authResult struct {
	decision Decision
	err      error
}

// authorize bounds the membership lookup by ctx even when the oracle ignores
// its context.
func (s *QueryService) authorize(ctx context.Context, callerID, targetID string) (Decision, error) {
	ch := make(chan authResult, 1)
	go func() {
		decision, err := s.access.Authorize(ctx, callerID, targetID)
		ch <- authResult{decision: decision, err: err}
	}()

	select {
	case res := <-ch:
		return res.decision, res.err
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// executeSelectQuery executes a SELECT query
func (s *QueryService) executeSelectQuery(ctx context.Context, handle *Handle, query string) (*QueryResult, error) {
	rows, err := handle.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, s.executionError(ctx, handle, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, s.executionError(ctx, handle, err)
	}

	resultRows := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, s.executionError(ctx, handle, err)
		}

		rowMap := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				rowMap[col] = string(v)
			case time.Time:
				rowMap[col] = v.Format(time.RFC3339)
			default:
				rowMap[col] = v
			}
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, s.executionError(ctx, handle, err)
	}

	return &QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// executeNonSelectQuery executes INSERT and UPDATE statements
func (s *QueryService) executeNonSelectQuery(ctx context.Context, handle *Handle, query string) (*QueryResult, error) {
	result, err := handle.DB.ExecContext(ctx, query)
	if err != nil {
		return nil, s.executionError(ctx, handle, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, s.executionError(ctx, handle, err)
	}

	return &QueryResult{
		Columns:      []string{},
		Rows:         []map[string]interface{}{},
		RowsAffected: rowsAffected,
	}, nil
}

func (s *QueryService) executionError(ctx context.Context, handle *Handle, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, sql.ErrConnDone) {
		return newError(ErrExecutionFailed, "connection closed")
	}
	return newError(ErrExecutionFailed, "%s", utils.SanitizeError(err.Error(), handle.uri))
}

// deadlineError maps an expired or cancelled call onto ExecutionFailed.
func deadlineError(ctx context.Context, err error) error {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(ErrExecutionFailed, "timeout")
	case errors.Is(err, context.Canceled):
		return newError(ErrExecutionFailed, "canceled")
	default:
		return err
	}
}

func (s *QueryService) record(ctx context.Context, callerID, targetID, query string, startTime time.Time, execErr error) {
	if s.history == nil {
		return
	}

	success := execErr == nil
	elapsed := int(time.Since(startTime).Milliseconds())
	entry := &models.QueryHistory{
		TargetID:        targetID,
		CallerID:        callerID,
		QueryText:       query,
		ExecutedAt:      startTime,
		Success:         &success,
		ExecutionTimeMs: &elapsed,
	}

	var ge *GatewayError
	if errors.As(execErr, &ge) {
		kind := ge.Kind.Error()
		entry.ErrorKind = &kind
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.history.Create(recordCtx, entry); err != nil {
		s.log.Warn("failed to record query history", "target_id", targetID, "error", err)
	}
}

// GetQueryHistory returns query execution history for a caller
func (s *QueryService) GetQueryHistory(ctx context.Context, callerID string, limit int) ([]models.QueryHistory, error) {
	if s.history == nil {
		return []models.QueryHistory{}, nil
	}
	return s.history.GetByCallerID(ctx, callerID, limit)
}
