package patternstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/katoml/kato/internal/katoerr"
)

// Postgres is the durable, pgx-backed Store. node_id partitioning is a
// column, not a schema or database, so
// a single connection pool serves every tenant.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an already-connected, already-migrated *sql.DB (see
// internal/database.NewClient) as a pattern Store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, nodeID, name string) (*Pattern, bool, error) {
	var (
		p  *Pattern
		ok bool
	)
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT sequence, length, frequency, token_set, token_count,
			       first_token, last_token, minhash_sig, co_occur, metadata, emotives
			FROM patterns WHERE node_id = $1 AND name = $2`, nodeID, name)

		scanned, scanErr := scanPattern(name, row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			p, ok = nil, false
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		p, ok = scanned, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("patternstore: get %s/%s: %w", nodeID, name, err)
	}
	return p, ok, nil
}

// Upsert writes a fresh pattern row or, on a pre-existing name, verifies
// sequence equality under a row lock before incrementing frequency and
// merging metadata/emotives. A sequence mismatch
// aborts the transaction and returns a *katoerr.CollisionError, leaving the
// stored row untouched: a hash collision is fatal, never merged over.
func (s *Postgres) Upsert(ctx context.Context, nodeID string, p *Pattern) (*Pattern, error) {
	var result *Pattern
	err := withRetry(ctx, func() error {
		written, upsertErr := s.upsertOnce(ctx, nodeID, p)
		if upsertErr != nil {
			return upsertErr
		}
		result = written
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// upsertOnce is a single, non-retried attempt at Upsert's transaction. A
// HashCollisionConflict from here is permanent (isTransient rejects it);
// connection failures mid-transaction are transient and withRetry opens a
// fresh transaction on the next attempt, since a rolled-back tx leaves no
// partial state behind.
func (s *Postgres) upsertOnce(ctx context.Context, nodeID string, p *Pattern) (*Pattern, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("patternstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT sequence, length, frequency, token_set, token_count,
		       first_token, last_token, minhash_sig, co_occur, metadata, emotives
		FROM patterns WHERE node_id = $1 AND name = $2 FOR UPDATE`, nodeID, p.Name)

	existing, err := scanPattern(p.Name, row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		seqJSON, tokJSON, sigJSON, metaJSON, emoJSON, encErr := encodePattern(p)
		if encErr != nil {
			return nil, fmt.Errorf("patternstore: encode %s: %w", p.Name, encErr)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patterns (node_id, name, sequence, length, frequency,
				token_set, token_count, first_token, last_token, minhash_sig,
				co_occur, metadata, emotives)
			VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $9, $10, $11, $12)`,
			nodeID, p.Name, seqJSON, p.Length, tokJSON, p.TokenCount,
			p.FirstToken, p.LastToken, sigJSON, p.CoOccur, metaJSON, emoJSON)
		if err != nil {
			return nil, fmt.Errorf("patternstore: insert %s: %w", p.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("patternstore: commit insert %s: %w", p.Name, err)
		}
		fresh := p.Clone()
		fresh.Frequency = 1
		return fresh, nil

	case err != nil:
		return nil, fmt.Errorf("patternstore: lock %s/%s: %w", nodeID, p.Name, err)
	}

	if !sequenceEqual(existing.Sequence, p.Sequence) {
		return nil, katoerr.NewCollisionError(nodeID, p.Name)
	}

	unionMetadata(existing.Metadata, p.Metadata)
	existing.Emotives = append(existing.Emotives, p.Emotives...)
	existing.Frequency++

	metaJSON, emoJSON, err := encodeMergeFields(existing)
	if err != nil {
		return nil, fmt.Errorf("patternstore: encode merge %s: %w", p.Name, err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE patterns
		SET frequency = $3, metadata = $4, emotives = $5, updated_at = now()
		WHERE node_id = $1 AND name = $2`,
		nodeID, p.Name, existing.Frequency, metaJSON, emoJSON)
	if err != nil {
		return nil, fmt.Errorf("patternstore: update %s: %w", p.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("patternstore: commit update %s: %w", p.Name, err)
	}
	return existing.Clone(), nil
}

func (s *Postgres) Count(ctx context.Context, nodeID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM patterns WHERE node_id = $1`, nodeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("patternstore: count %s: %w", nodeID, err)
	}
	return count, nil
}

func (s *Postgres) TotalFrequency(ctx context.Context, nodeID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT sum(frequency) FROM patterns WHERE node_id = $1`, nodeID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("patternstore: total frequency %s: %w", nodeID, err)
	}
	return total.Int64, nil
}

func (s *Postgres) BumpCoOccur(ctx context.Context, nodeID, name string, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE patterns SET co_occur = co_occur + $3, updated_at = now()
		WHERE node_id = $1 AND name = $2`, nodeID, name, delta)
	if err != nil {
		return fmt.Errorf("patternstore: bump co_occur %s/%s: %w", nodeID, name, err)
	}
	return nil
}

// IterByToken queries the GIN index on token_set for containment,
// returning every pattern of nodeID whose token set holds token.
func (s *Postgres) IterByToken(ctx context.Context, nodeID, token string) (iter.Seq[*Pattern], error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, sequence, length, frequency, token_set, token_count,
		       first_token, last_token, minhash_sig, co_occur, metadata, emotives
		FROM patterns WHERE node_id = $1 AND token_set ? $2`,
		nodeID, token)
	if err != nil {
		return nil, fmt.Errorf("patternstore: iter by token %s/%s: %w", nodeID, token, err)
	}
	return scanAllClosing(rows), nil
}

// Nodes returns every distinct node_id with at least one stored pattern.
func (s *Postgres) Nodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT node_id FROM patterns ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("patternstore: list nodes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var nodeID string
		if err := rows.Scan(&nodeID); err != nil {
			return nil, fmt.Errorf("patternstore: scan node: %w", err)
		}
		out = append(out, nodeID)
	}
	return out, rows.Err()
}

func (s *Postgres) All(ctx context.Context, nodeID string) (iter.Seq[*Pattern], error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, sequence, length, frequency, token_set, token_count,
		       first_token, last_token, minhash_sig, co_occur, metadata, emotives
		FROM patterns WHERE node_id = $1`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("patternstore: all %s: %w", nodeID, err)
	}
	return scanAllClosing(rows), nil
}

// row is the subset of *sql.Row and *sql.Rows that scanPattern needs.
type row interface {
	Scan(dest ...any) error
}

func scanPattern(name string, r row) (*Pattern, error) {
	var (
		seqJSON, tokJSON, sigJSON, metaJSON, emoJSON []byte
		p                                             = &Pattern{Name: name}
	)
	if err := r.Scan(&seqJSON, &p.Length, &p.Frequency, &tokJSON, &p.TokenCount,
		&p.FirstToken, &p.LastToken, &sigJSON, &p.CoOccur, &metaJSON, &emoJSON); err != nil {
		return nil, err
	}
	if err := decodePatternFields(p, seqJSON, tokJSON, sigJSON, metaJSON, emoJSON); err != nil {
		return nil, err
	}
	return p, nil
}

// decodePatternFields unmarshals the JSONB columns shared by every scan
// variant into p's in-memory representation.
func decodePatternFields(p *Pattern, seqJSON, tokJSON, sigJSON, metaJSON, emoJSON []byte) error {
	var sequence [][]string
	if err := json.Unmarshal(seqJSON, &sequence); err != nil {
		return fmt.Errorf("decode sequence: %w", err)
	}
	p.Sequence = sequence

	var tokens []string
	if err := json.Unmarshal(tokJSON, &tokens); err != nil {
		return fmt.Errorf("decode token_set: %w", err)
	}
	p.TokenSet = make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		p.TokenSet[t] = struct{}{}
	}

	if err := json.Unmarshal(sigJSON, &p.MinHashSig); err != nil {
		return fmt.Errorf("decode minhash_sig: %w", err)
	}

	var metadata map[string][]string
	if err := json.Unmarshal(metaJSON, &metadata); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	p.Metadata = make(map[string]map[string]struct{}, len(metadata))
	for key, values := range metadata {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		p.Metadata[key] = set
	}

	if err := json.Unmarshal(emoJSON, &p.Emotives); err != nil {
		return fmt.Errorf("decode emotives: %w", err)
	}
	return nil
}

// scanAllClosing adapts a multi-row query (name selected first, followed by
// scanPattern's usual column order) into a lazily-scanned, self-closing
// iterator. Closing happens when the caller stops iterating early or the
// rows are exhausted.
func scanAllClosing(rows *sql.Rows) iter.Seq[*Pattern] {
	return func(yield func(*Pattern) bool) {
		defer rows.Close()
		for rows.Next() {
			var (
				name                                          string
				seqJSON, tokJSON, sigJSON, metaJSON, emoJSON []byte
				p                                              = &Pattern{}
			)
			if err := rows.Scan(&name, &seqJSON, &p.Length, &p.Frequency, &tokJSON,
				&p.TokenCount, &p.FirstToken, &p.LastToken, &sigJSON, &p.CoOccur,
				&metaJSON, &emoJSON); err != nil {
				return
			}
			p.Name = name
			if err := decodePatternFields(p, seqJSON, tokJSON, sigJSON, metaJSON, emoJSON); err != nil {
				return
			}
			if !yield(p) {
				return
			}
		}
	}
}

func encodePattern(p *Pattern) (seqJSON, tokJSON, sigJSON, metaJSON, emoJSON []byte, err error) {
	if seqJSON, err = json.Marshal(p.Sequence); err != nil {
		return
	}
	tokens := make([]string, 0, len(p.TokenSet))
	for t := range p.TokenSet {
		tokens = append(tokens, t)
	}
	if tokJSON, err = json.Marshal(tokens); err != nil {
		return
	}
	if sigJSON, err = json.Marshal(p.MinHashSig); err != nil {
		return
	}
	metaJSON, emoJSON, err = encodeMergeFields(p)
	return
}

func encodeMergeFields(p *Pattern) (metaJSON, emoJSON []byte, err error) {
	metadata := make(map[string][]string, len(p.Metadata))
	for key, values := range p.Metadata {
		list := make([]string, 0, len(values))
		for v := range values {
			list = append(list, v)
		}
		metadata[key] = list
	}
	if metaJSON, err = json.Marshal(metadata); err != nil {
		return
	}
	emoJSON, err = json.Marshal(p.Emotives)
	return
}

var _ Store = (*Postgres)(nil)
