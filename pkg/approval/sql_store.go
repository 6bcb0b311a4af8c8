package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// casRetries bounds how often Update replays its closure after losing a
// version race.
const casRetries = 5

// SQLRequestStore implements RequestStore on database/sql. It works against
// both Postgres and SQLite through standard drivers; per-request
// serialization uses an optimistic compare-and-swap on the version column.
type SQLRequestStore struct {
	db *sql.DB
}

// NewSQLRequestStore wraps an open database handle and ensures the schema.
func NewSQLRequestStore(ctx context.Context, db *sql.DB) (*SQLRequestStore, error) {
	s := &SQLRequestStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate approval_requests: %w", err)
	}
	return s, nil
}

func (s *SQLRequestStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS approval_requests (
		request_id TEXT PRIMARY KEY,
		action_type TEXT NOT NULL,
		asset_id TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		metadata_hash TEXT NOT NULL,
		required_approvers TEXT NOT NULL,
		min_approvals INTEGER NOT NULL,
		decisions TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approval_requests_status ON approval_requests (status);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLRequestStore) Insert(ctx context.Context, req *contracts.ApprovalRequest) error {
	approversJSON, err := json.Marshal(req.RequiredApprovers)
	if err != nil {
		return fmt.Errorf("encode approvers: %w", err)
	}
	decisionsJSON, err := json.Marshal(req.Decisions)
	if err != nil {
		return fmt.Errorf("encode decisions: %w", err)
	}

	query := `
		INSERT INTO approval_requests (
			request_id, action_type, asset_id, content_hash, metadata_hash,
			required_approvers, min_approvals, decisions, status,
			created_at, expires_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.db.ExecContext(ctx, query,
		req.RequestID, string(req.ActionType), req.AssetID, req.ContentHash, req.MetadataHash,
		string(approversJSON), req.MinApprovals, string(decisionsJSON), string(req.Status),
		req.CreatedAt.UTC().Format(time.RFC3339Nano), req.ExpiresAt.UTC().Format(time.RFC3339Nano), req.Version,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *SQLRequestStore) Get(ctx context.Context, requestID string) (*contracts.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE request_id = $1`, requestID)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	return req, err
}

func (s *SQLRequestStore) Update(ctx context.Context, requestID string, mutate func(*contracts.ApprovalRequest) error) (*contracts.ApprovalRequest, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		req, err := s.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}

		prev := req.Version
		if err := mutate(req); err != nil {
			return nil, err
		}
		req.Version = prev + 1

		decisionsJSON, err := json.Marshal(req.Decisions)
		if err != nil {
			return nil, fmt.Errorf("encode decisions: %w", err)
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE approval_requests SET decisions = $1, status = $2, version = $3
			 WHERE request_id = $4 AND version = $5`,
			string(decisionsJSON), string(req.Status), req.Version, requestID, prev,
		)
		if err != nil {
			return nil, fmt.Errorf("update request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if n == 1 {
			return req, nil
		}
		// Version moved underneath us; replay against fresh state.
	}
	return nil, fmt.Errorf("request %s: version conflict after %d attempts", requestID, casRetries)
}

func (s *SQLRequestStore) ListByStatus(ctx context.Context, status contracts.ApprovalStatus) ([]*contracts.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+` WHERE status = $1 ORDER BY created_at, request_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const selectRequest = `
	SELECT request_id, action_type, asset_id, content_hash, metadata_hash,
	       required_approvers, min_approvals, decisions, status,
	       created_at, expires_at, version
	FROM approval_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*contracts.ApprovalRequest, error) {
	var (
		req           contracts.ApprovalRequest
		actionType    string
		approversJSON string
		decisionsJSON string
		status        string
		createdAt     string
		expiresAt     string
	)
	err := row.Scan(
		&req.RequestID, &actionType, &req.AssetID, &req.ContentHash, &req.MetadataHash,
		&approversJSON, &req.MinApprovals, &decisionsJSON, &status,
		&createdAt, &expiresAt, &req.Version,
	)
	if err != nil {
		return nil, err
	}

	req.ActionType = contracts.ActionType(actionType)
	req.Status = contracts.ApprovalStatus(status)
	if err := json.Unmarshal([]byte(approversJSON), &req.RequiredApprovers); err != nil {
		return nil, fmt.Errorf("decode approvers: %w", err)
	}
	if err := json.Unmarshal([]byte(decisionsJSON), &req.Decisions); err != nil {
		return nil, fmt.Errorf("decode decisions: %w", err)
	}
	req.CreatedAt = parseStoredTime(createdAt)
	req.ExpiresAt = parseStoredTime(expiresAt)
	return &req, nil
}

func parseStoredTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
