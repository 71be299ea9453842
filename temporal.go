package openmemory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Temporal facts are versioned (subject, predicate, object) assertions.
// Inserting a new fact for an open (subject, predicate, namespace) closes
// the previous row at the new row's valid_from, so at most one row is
// current per key at any instant.

// InsertFact validates, closes the open predecessor if any, and inserts.
// Returns the new fact id.
func (s *Store) InsertFact(ctx context.Context, f *TemporalFact) (string, error) {
	if f.Subject == "" || f.Predicate == "" || f.Object == "" {
		return "", validationf("fact requires subject, predicate, and object")
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return "", validationf("confidence %v outside [0, 1]", f.Confidence)
	}
	if f.Namespace == "" {
		f.Namespace = DefaultNamespace
	}
	if f.ValidFrom == 0 {
		f.ValidFrom = time.Now().Unix()
	}
	if f.ValidTo != 0 && f.ValidTo < f.ValidFrom {
		return "", validationf("valid_to precedes valid_from")
	}
	if f.ID == "" {
		f.ID = NewID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapOp("insert_fact", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer tx.Rollback()

	// Close the currently-open row for this key, if one exists.
	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE temporal_facts SET valid_to = ?
		WHERE subject = ? AND predicate = ? AND namespace = ? AND valid_to IS NULL`),
		f.ValidFrom, f.Subject, f.Predicate, f.Namespace,
	); err != nil {
		return "", wrapOp("insert_fact", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}

	var validTo any
	if f.ValidTo != 0 {
		validTo = f.ValidTo
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO temporal_facts (id, subject, predicate, object, namespace, valid_from, valid_to, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.Subject, f.Predicate, f.Object, f.Namespace,
		f.ValidFrom, validTo, f.Confidence,
	); err != nil {
		return "", wrapOp("insert_fact", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}

	if err := tx.Commit(); err != nil {
		return "", wrapOp("insert_fact", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	return f.ID, nil
}

// FactFilter narrows point-in-time fact queries. Zero fields match anything.
type FactFilter struct {
	Subject   string
	Predicate string
	At        int64 // unix seconds; 0 means now
	Namespace string
}

// FactsAt returns the facts valid at the given instant
// (valid_from ≤ at < valid_to, open rows treated as unbounded),
// ordered by confidence then valid_from, both descending.
func (s *Store) FactsAt(ctx context.Context, filter FactFilter) ([]TemporalFact, error) {
	at := filter.At
	if at == 0 {
		at = time.Now().Unix()
	}
	ns := filter.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	q := `
		SELECT id, subject, predicate, object, namespace, valid_from, valid_to, confidence
		FROM temporal_facts
		WHERE namespace = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)`
	args := []any{ns, at, at}
	if filter.Subject != "" {
		q += ` AND subject = ?`
		args = append(args, filter.Subject)
	}
	if filter.Predicate != "" {
		q += ` AND predicate = ?`
		args = append(args, filter.Predicate)
	}
	q += ` ORDER BY confidence DESC, valid_from DESC`

	return s.queryFacts(ctx, q, args...)
}

// Timeline returns every version of facts about a subject, oldest first.
func (s *Store) Timeline(ctx context.Context, subject, namespace string) ([]TemporalFact, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return s.queryFacts(ctx, `
		SELECT id, subject, predicate, object, namespace, valid_from, valid_to, confidence
		FROM temporal_facts
		WHERE subject = ? AND namespace = ?
		ORDER BY valid_from ASC`, subject, namespace)
}

// SearchFacts matches subject or object against a substring pattern.
func (s *Store) SearchFacts(ctx context.Context, pattern, namespace string, limit int) ([]TemporalFact, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if limit <= 0 {
		limit = 50
	}
	like := "%" + strings.ReplaceAll(pattern, "%", "") + "%"
	return s.queryFacts(ctx, `
		SELECT id, subject, predicate, object, namespace, valid_from, valid_to, confidence
		FROM temporal_facts
		WHERE namespace = ? AND (subject LIKE ? OR object LIKE ?)
		ORDER BY valid_from DESC LIMIT ?`, namespace, like, like, limit)
}

// DeleteFact removes a fact row by id.
func (s *Store) DeleteFact(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM temporal_facts WHERE id = ?`), id)
	if err != nil {
		return wrapOp("delete_fact", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryFacts(ctx context.Context, q string, args ...any) ([]TemporalFact, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, wrapOp("query_facts", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer rows.Close()

	var out []TemporalFact
	for rows.Next() {
		var f TemporalFact
		var validTo sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object,
			&f.Namespace, &f.ValidFrom, &validTo, &f.Confidence); err != nil {
			return nil, err
		}
		if validTo.Valid {
			f.ValidTo = validTo.Int64
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
