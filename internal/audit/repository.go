package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles request_audit_logs PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single audit entry.
func (r *Repository) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	request := e.Request
	if len(request) == 0 {
		request = json.RawMessage(`{}`)
	}
	response := e.Response
	if len(response) == 0 {
		response = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO request_audit_logs
		   (id, user_id, capability, request, response, success, error_message, origin, client_id, response_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.UserID, e.Capability, request, response, e.Success,
		nullable(e.ErrorMessage), e.Origin, e.ClientID, e.ResponseTimeMs)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns paginated audit entries with optional filters, newest first.
func (r *Repository) List(ctx context.Context, params ListParams) ([]Entry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	var conditions []string
	var args []any
	argIdx := 1

	if params.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, *params.UserID)
		argIdx++
	}

	if params.Capability != "" {
		conditions = append(conditions, fmt.Sprintf("capability = $%d", argIdx))
		args = append(args, params.Capability)
		argIdx++
	}

	if params.Success != nil {
		conditions = append(conditions, fmt.Sprintf("success = $%d", argIdx))
		args = append(args, *params.Success)
		argIdx++
	}

	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}

	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "TRUE"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	// Count query
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM request_audit_logs WHERE %s", where)
	var totalCount int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	// Data query
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, user_id, capability, request, response, success, error_message, origin, client_id, response_time_ms, created_at
		   FROM request_audit_logs WHERE %s
		  ORDER BY created_at DESC
		  LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errMsg *string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Capability, &e.Request, &e.Response,
			&e.Success, &errMsg, &e.Origin, &e.ClientID, &e.ResponseTimeMs, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning audit entry: %w", err)
		}
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		entries = append(entries, e)
	}

	return entries, totalCount, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
