package tokenledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// SQLTokenStore implements TokenStore on database/sql. It works against both
// Postgres and SQLite; lineage traversal uses a recursive CTE, which both
// support.
type SQLTokenStore struct {
	db *sql.DB
}

// NewSQLTokenStore wraps an open database handle and ensures the schema.
func NewSQLTokenStore(ctx context.Context, db *sql.DB) (*SQLTokenStore, error) {
	s := &SQLTokenStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate tokens: %w", err)
	}
	return s, nil
}

func (s *SQLTokenStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tokens (
		token_id TEXT PRIMARY KEY,
		token_type TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		metadata_hash TEXT NOT NULL,
		issuer TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		expires_at TEXT,
		attributes TEXT NOT NULL DEFAULT '{}',
		sequence INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS token_parents (
		token_id TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (token_id, parent_id)
	);
	CREATE INDEX IF NOT EXISTS idx_token_parents_parent ON token_parents (parent_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tokens_sequence ON tokens (sequence);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLTokenStore) Insert(ctx context.Context, token *contracts.AuditToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mint: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, parent := range token.ParentTokenIDs {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tokens WHERE token_id = $1`, parent).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("token %s parent %s: %w", token.TokenID, parent, ErrDanglingParent)
		}
		if err != nil {
			return fmt.Errorf("check parent: %w", err)
		}
	}

	// Sequence has a unique index; concurrent minters conflict at commit
	// instead of sharing a slot.
	var seq uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM tokens`).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	token.Sequence = seq

	attrs := token.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	var expiresAt any
	if token.ExpiresAt != nil {
		expiresAt = token.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tokens (
			token_id, token_type, content_hash, metadata_hash,
			issuer, recipient, created_at, expires_at, attributes, sequence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		token.TokenID, string(token.TokenType), token.ContentHash, token.MetadataHash,
		token.Issuer, token.Recipient, token.CreatedAt.UTC().Format(time.RFC3339Nano),
		expiresAt, string(attrsJSON), token.Sequence,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}

	for i, parent := range token.ParentTokenIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO token_parents (token_id, parent_id, position) VALUES ($1, $2, $3)`,
			token.TokenID, parent, i,
		)
		if err != nil {
			return fmt.Errorf("insert parent edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mint: %w", err)
	}
	return nil
}

const selectToken = `
	SELECT token_id, token_type, content_hash, metadata_hash,
	       issuer, recipient, created_at, expires_at, attributes, sequence
	FROM tokens`

func (s *SQLTokenStore) Get(ctx context.Context, tokenID string) (*contracts.AuditToken, error) {
	row := s.db.QueryRowContext(ctx, selectToken+` WHERE token_id = $1`, tokenID)
	token, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token %s: %w", tokenID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadParents(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *SQLTokenStore) Ancestors(ctx context.Context, tokenID string) ([]*contracts.AuditToken, error) {
	if _, err := s.Get(ctx, tokenID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE lineage(token_id) AS (
			SELECT parent_id FROM token_parents WHERE token_id = $1
			UNION
			SELECT tp.parent_id FROM token_parents tp
			JOIN lineage l ON tp.token_id = l.token_id
		)
		`+selectToken+`
		WHERE token_id IN (SELECT token_id FROM lineage)
		ORDER BY sequence`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query ancestors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AuditToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ancestors: %w", err)
	}
	for _, token := range out {
		if err := s.loadParents(ctx, token); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLTokenStore) Children(ctx context.Context, tokenID string) ([]*contracts.AuditToken, error) {
	if _, err := s.Get(ctx, tokenID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectToken+`
		WHERE token_id IN (SELECT token_id FROM token_parents WHERE parent_id = $1)
		ORDER BY sequence`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.AuditToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	for _, token := range out {
		if err := s.loadParents(ctx, token); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLTokenStore) loadParents(ctx context.Context, token *contracts.AuditToken) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT parent_id FROM token_parents WHERE token_id = $1 ORDER BY position`, token.TokenID)
	if err != nil {
		return fmt.Errorf("query parents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	token.ParentTokenIDs = nil
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return fmt.Errorf("scan parent: %w", err)
		}
		token.ParentTokenIDs = append(token.ParentTokenIDs, parent)
	}
	return rows.Err()
}

func scanToken(row interface{ Scan(...any) error }) (*contracts.AuditToken, error) {
	var (
		token     contracts.AuditToken
		tokenType string
		createdAt string
		expiresAt sql.NullString
		attrsJSON string
	)
	err := row.Scan(
		&token.TokenID, &tokenType, &token.ContentHash, &token.MetadataHash,
		&token.Issuer, &token.Recipient, &createdAt, &expiresAt, &attrsJSON, &token.Sequence,
	)
	if err != nil {
		return nil, err
	}
	token.TokenType = contracts.TokenType(tokenType)

	token.CreatedAt, err = parseTokenTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if expiresAt.Valid && expiresAt.String != "" {
		exp, err := parseTokenTime(expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		token.ExpiresAt = &exp
	}
	if err := json.Unmarshal([]byte(attrsJSON), &token.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if len(token.Attributes) == 0 {
		token.Attributes = nil
	}
	return &token, nil
}

func parseTokenTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}
