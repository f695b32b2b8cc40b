package scan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PostgresStore persists scan results in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed scan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the scans table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scans (
			id            VARCHAR(64) PRIMARY KEY,
			address       VARCHAR(42) NOT NULL,
			chain_id      BIGINT NOT NULL,
			scan_type     VARCHAR(10) NOT NULL CHECK (scan_type IN ('contract', 'token', 'wallet')),
			risk_score    INT NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
			risk_level    VARCHAR(10) NOT NULL,
			findings      JSONB NOT NULL DEFAULT '[]',
			contract_data JSONB,
			token_data    JSONB,
			wallet_data   JSONB,
			analysis      JSONB,
			degraded      JSONB,
			scanned_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			duration_ms   BIGINT NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_scans_address
			ON scans (address, scanned_at DESC);
	`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, result *Result) error {
	findings, err := json.Marshal(result.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}
	contract := marshalOrNull(result.Contract)
	token := marshalOrNull(result.Token)
	wallet := marshalOrNull(result.Wallet)
	analysis := marshalOrNull(result.Analysis)
	degraded := marshalOrNull(result.Degraded)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (id, address, chain_id, scan_type, risk_score, risk_level,
			findings, contract_data, token_data, wallet_data, analysis, degraded,
			scanned_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		result.ID,
		strings.ToLower(result.Address),
		result.ChainID,
		string(result.Type),
		result.RiskScore,
		string(result.RiskLevel),
		findings,
		contract,
		token,
		wallet,
		analysis,
		degraded,
		result.Timestamp,
		result.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to save scan: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, chain_id, scan_type, risk_score, risk_level,
			findings, contract_data, token_data, wallet_data, analysis, degraded,
			scanned_at, duration_ms
		FROM scans WHERE id = $1
	`, id)

	result, err := scanRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) ListByAddress(ctx context.Context, address string, limit int, opts ...ListOption) ([]*Result, error) {
	o := applyListOpts(opts)

	query := `
		SELECT id, address, chain_id, scan_type, risk_score, risk_level,
			findings, contract_data, token_data, wallet_data, analysis, degraded,
			scanned_at, duration_ms
		FROM scans
		WHERE address = $1`
	args := []any{strings.ToLower(address)}

	// Keyset pagination: resume strictly after the cursor position in
	// the newest-first ordering.
	if o.cursor != nil {
		query += ` AND (scanned_at, id) < ($2, $3)`
		args = append(args, o.cursor.Timestamp, o.cursor.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY scanned_at DESC, id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Result
	for rows.Next() {
		result, err := scanRow(rows.Scan)
		if err != nil {
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func scanRow(scanFn func(dest ...any) error) (*Result, error) {
	var r Result
	var findings []byte
	var contract, token, wallet, analysis, degraded sql.NullString
	var scannedAt time.Time

	err := scanFn(&r.ID, &r.Address, &r.ChainID, &r.Type, &r.RiskScore, &r.RiskLevel,
		&findings, &contract, &token, &wallet, &analysis, &degraded,
		&scannedAt, &r.DurationMS)
	if err != nil {
		return nil, err
	}

	r.Timestamp = scannedAt
	r.Findings = []Finding{}
	_ = json.Unmarshal(findings, &r.Findings)
	if contract.Valid {
		r.Contract = &ContractData{}
		_ = json.Unmarshal([]byte(contract.String), r.Contract)
	}
	if token.Valid {
		r.Token = &TokenData{}
		_ = json.Unmarshal([]byte(token.String), r.Token)
	}
	if wallet.Valid {
		r.Wallet = &WalletData{}
		_ = json.Unmarshal([]byte(wallet.String), r.Wallet)
	}
	if analysis.Valid {
		r.Analysis = &Interpretation{}
		_ = json.Unmarshal([]byte(analysis.String), r.Analysis)
	}
	if degraded.Valid {
		_ = json.Unmarshal([]byte(degraded.String), &r.Degraded)
	}
	return &r, nil
}

func marshalOrNull(v any) any {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case *ContractData:
		if t == nil {
			return nil
		}
	case *TokenData:
		if t == nil {
			return nil
		}
	case *WalletData:
		if t == nil {
			return nil
		}
	case *Interpretation:
		if t == nil {
			return nil
		}
	case []string:
		if len(t) == 0 {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
