package openmemory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Store wraps a SQL connection for memory metadata persistence. It speaks
// two dialects: the embedded SQLite backend and the Postgres backend.
// Vector payloads are not stored here — only the per-sector vector
// metadata rows the engine uses to enforce sector coverage.
type Store struct {
	db      *sql.DB
	dialect string // "sqlite" | "postgres"
}

// NewMetadataStore opens the configured backend and runs migrations.
func NewMetadataStore(cfg *Config) (*Store, error) {
	switch cfg.MetadataBackend {
	case "sqlite":
		return NewSQLiteStore(cfg.DBPath)
	case "postgres":
		return NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, validationf("unknown metadata_backend %q", cfg.MetadataBackend)
	}
}

// rebind converts ?-style placeholders to the dialect's form.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- Migrations ---

// migrationV1 is split into single statements so both drivers accept it.
var migrationV1 = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id             TEXT PRIMARY KEY,
		content        TEXT NOT NULL,
		summary        TEXT NOT NULL DEFAULT '',
		namespaces     TEXT NOT NULL,
		tags           TEXT NOT NULL DEFAULT '[]',
		metadata       TEXT NOT NULL DEFAULT '{}',
		primary_sector TEXT NOT NULL,
		sectors        TEXT NOT NULL,
		salience       DOUBLE PRECISION NOT NULL,
		decay_lambda   DOUBLE PRECISION NOT NULL,
		decay_score    DOUBLE PRECISION NOT NULL,
		created_at     BIGINT NOT NULL,
		updated_at     BIGINT NOT NULL,
		last_seen_at   BIGINT NOT NULL,
		fingerprinted  BIGINT NOT NULL DEFAULT 0,
		pending_vector BIGINT NOT NULL DEFAULT 0,
		pending_embed  BIGINT NOT NULL DEFAULT 0,
		cold_content   BYTEA
	)`,
	`CREATE TABLE IF NOT EXISTS memory_namespaces (
		memory_id      TEXT NOT NULL,
		namespace      TEXT NOT NULL,
		primary_sector TEXT NOT NULL,
		PRIMARY KEY (memory_id, namespace)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memns_namespace ON memory_namespaces(namespace)`,
	`CREATE INDEX IF NOT EXISTS idx_memns_sector ON memory_namespaces(namespace, primary_sector)`,
	`CREATE TABLE IF NOT EXISTS vectors (
		memory_id  TEXT NOT NULL,
		sector     TEXT NOT NULL,
		namespace  TEXT NOT NULL,
		dim        BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (memory_id, sector, namespace)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vectors_namespace ON vectors(namespace)`,
	`CREATE TABLE IF NOT EXISTS waypoints (
		src_id     TEXT NOT NULL,
		namespace  TEXT NOT NULL,
		dst_id     TEXT NOT NULL,
		weight     DOUBLE PRECISION NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (src_id, namespace)
	)`,
	`CREATE TABLE IF NOT EXISTS namespaces (
		namespace        TEXT PRIMARY KEY,
		description      TEXT NOT NULL DEFAULT '',
		ontology_profile TEXT NOT NULL DEFAULT '',
		metadata_json    TEXT NOT NULL DEFAULT '',
		created_at       BIGINT NOT NULL,
		updated_at       BIGINT NOT NULL,
		active           BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS stats (
		type  TEXT NOT NULL,
		count BIGINT NOT NULL,
		ts    BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stats_ts ON stats(ts)`,
	`CREATE TABLE IF NOT EXISTS user_summaries (
		namespace        TEXT PRIMARY KEY,
		summary          TEXT NOT NULL DEFAULT '',
		reflection_count BIGINT NOT NULL DEFAULT 0,
		updated_at       BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS temporal_facts (
		id         TEXT PRIMARY KEY,
		subject    TEXT NOT NULL,
		predicate  TEXT NOT NULL,
		object     TEXT NOT NULL,
		namespace  TEXT NOT NULL,
		valid_from BIGINT NOT NULL,
		valid_to   BIGINT,
		confidence DOUBLE PRECISION NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_facts_lookup ON temporal_facts(subject, predicate, namespace, valid_from)`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version BIGINT NOT NULL)`); err != nil {
		return err
	}

	var version int
	s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)

	if version < 1 {
		for _, stmt := range migrationV1 {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("migration v1: %w", err)
			}
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return err
		}
	}

	return nil
}

// --- JSON column helpers ---

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var v []string
	json.Unmarshal([]byte(s), &v)
	return v
}

func marshalSectors(v []Sector) string {
	if v == nil {
		v = []Sector{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalSectors(s string) []Sector {
	var v []Sector
	json.Unmarshal([]byte(s), &v)
	return v
}

func marshalMeta(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func unmarshalMeta(s string) map[string]string {
	var m map[string]string
	json.Unmarshal([]byte(s), &m)
	return m
}

// --- Memory CRUD ---

const memoryCols = `id, content, summary, namespaces, tags, metadata,
	primary_sector, sectors, salience, decay_lambda, decay_score,
	created_at, updated_at, last_seen_at, fingerprinted, pending_vector,
	pending_embed, cold_content`

func scanMemoryRow(sc interface{ Scan(...any) error }) (*Memory, error) {
	var m Memory
	var namespaces, tags, metadata, sectors string
	var fingerprinted, pendingVec, pendingEmbed int64
	if err := sc.Scan(
		&m.ID, &m.Content, &m.Summary, &namespaces, &tags, &metadata,
		&m.PrimarySector, &sectors, &m.Salience, &m.DecayLambda, &m.DecayScore,
		&m.CreatedAt, &m.UpdatedAt, &m.LastSeenAt, &fingerprinted, &pendingVec,
		&pendingEmbed, &m.ColdContent,
	); err != nil {
		return nil, err
	}
	m.Namespaces = unmarshalStrings(namespaces)
	m.Tags = unmarshalStrings(tags)
	m.Metadata = unmarshalMeta(metadata)
	m.Sectors = unmarshalSectors(sectors)
	m.Fingerprinted = fingerprinted != 0
	m.PendingVector = pendingVec != 0
	m.PendingEmbed = pendingEmbed != 0
	return &m, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// CommitMemory atomically inserts the memory row, its namespace join rows,
// and one vector metadata row per (active sector × namespace). dim records
// the embedding dimension of the vectors being committed.
func (s *Store) CommitMemory(ctx context.Context, m *Memory, dim int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapOp("commit_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO memories (`+memoryCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.Content, m.Summary, marshalStrings(m.Namespaces),
		marshalStrings(m.Tags), marshalMeta(m.Metadata),
		string(m.PrimarySector), marshalSectors(m.Sectors),
		m.Salience, m.DecayLambda, m.DecayScore,
		m.CreatedAt, m.UpdatedAt, m.LastSeenAt,
		boolInt(m.Fingerprinted), boolInt(m.PendingVector),
		boolInt(m.PendingEmbed), m.ColdContent,
	); err != nil {
		return wrapOp("commit_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}

	for _, ns := range m.Namespaces {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO memory_namespaces (memory_id, namespace, primary_sector)
			VALUES (?, ?, ?)`),
			m.ID, ns, string(m.PrimarySector),
		); err != nil {
			return wrapOp("commit_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
		}
		for _, sector := range m.Sectors {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO vectors (memory_id, sector, namespace, dim, created_at)
				VALUES (?, ?, ?, ?, ?)`),
				m.ID, string(sector), ns, dim, m.CreatedAt,
			); err != nil {
				return wrapOp("commit_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapOp("commit_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	return nil
}

// GetMemory loads a single memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+memoryCols+` FROM memories WHERE id = ?`), id)
	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapOp("get_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	return m, nil
}

// GetMemories loads a batch of memories by id. Missing ids are skipped.
func (s *Store) GetMemories(ctx context.Context, ids []string) (map[string]*Memory, error) {
	out := make(map[string]*Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+memoryCols+` FROM memories
		WHERE id IN (`+strings.Join(placeholders, ",")+`)`), args...)
	if err != nil {
		return nil, wrapOp("get_memories", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, wrapOp("get_memories", fmt.Errorf("%w: %v", ErrMetadataStore, err))
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// UpdateMemory rewrites the mutable fields of a memory row.
func (s *Store) UpdateMemory(ctx context.Context, m *Memory) error {
	m.UpdatedAt = time.Now().Unix()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE memories SET content = ?, summary = ?, tags = ?, metadata = ?,
			salience = ?, decay_score = ?, updated_at = ?, last_seen_at = ?,
			fingerprinted = ?, pending_vector = ?, pending_embed = ?, cold_content = ?
		WHERE id = ?`),
		m.Content, m.Summary, marshalStrings(m.Tags), marshalMeta(m.Metadata),
		m.Salience, m.DecayScore, m.UpdatedAt, m.LastSeenAt,
		boolInt(m.Fingerprinted), boolInt(m.PendingVector),
		boolInt(m.PendingEmbed), m.ColdContent, m.ID,
	)
	return wrapOp("update_memory", err)
}

// DeleteMemory removes a memory row plus its join rows, vector metadata,
// and any waypoints touching it.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapOp("delete_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM memories WHERE id = ?`), id)
	if err != nil {
		return wrapOp("delete_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	for _, q := range []string{
		`DELETE FROM memory_namespaces WHERE memory_id = ?`,
		`DELETE FROM vectors WHERE memory_id = ?`,
		`DELETE FROM waypoints WHERE src_id = ? OR dst_id = ?`,
	} {
		args := []any{id}
		if strings.Contains(q, "dst_id") {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(q), args...); err != nil {
			return wrapOp("delete_memory", fmt.Errorf("%w: %v", ErrMetadataStore, err))
		}
	}
	return tx.Commit()
}

// ListMemories returns memories in a namespace, newest first, optionally
// filtered by primary sector.
func (s *Store) ListMemories(ctx context.Context, namespace string, sector Sector, limit, offset int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT ` + prefixCols("m.", memoryCols) + `
		FROM memories m
		JOIN memory_namespaces mn ON mn.memory_id = m.id
		WHERE mn.namespace = ?`
	args := []any{namespace}
	if sector != "" {
		q += ` AND mn.primary_sector = ?`
		args = append(args, string(sector))
	}
	q += ` ORDER BY m.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, wrapOp("list_memories", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, wrapOp("list_memories", fmt.Errorf("%w: %v", ErrMetadataStore, err))
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// prefixCols prepends a table alias to each column in a comma list.
func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// --- Vector metadata ---

// DeleteVectorRows removes vector metadata rows for a memory, optionally
// restricted to one sector.
func (s *Store) DeleteVectorRows(ctx context.Context, memoryID string, sector Sector) error {
	q := `DELETE FROM vectors WHERE memory_id = ?`
	args := []any{memoryID}
	if sector != "" {
		q += ` AND sector = ?`
		args = append(args, string(sector))
	}
	_, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	return wrapOp("delete_vector_rows", err)
}

// ReplaceVectorRows rewrites a memory's vector metadata rows to match its
// current sector set across all of its namespaces.
func (s *Store) ReplaceVectorRows(ctx context.Context, m *Memory, dim int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapOp("replace_vector_rows", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM vectors WHERE memory_id = ?`), m.ID); err != nil {
		return wrapOp("replace_vector_rows", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	now := time.Now().Unix()
	for _, ns := range m.Namespaces {
		for _, sector := range m.Sectors {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO vectors (memory_id, sector, namespace, dim, created_at)
				VALUES (?, ?, ?, ?, ?)`),
				m.ID, string(sector), ns, dim, now,
			); err != nil {
				return wrapOp("replace_vector_rows", fmt.Errorf("%w: %v", ErrMetadataStore, err))
			}
		}
	}
	return tx.Commit()
}

// VectorSectors returns the sectors that have vector rows for a memory.
func (s *Store) VectorSectors(ctx context.Context, memoryID string) ([]Sector, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT DISTINCT sector FROM vectors WHERE memory_id = ?`), memoryID)
	if err != nil {
		return nil, wrapOp("vector_sectors", err)
	}
	defer rows.Close()
	var out []Sector
	for rows.Next() {
		var sec string
		if err := rows.Scan(&sec); err != nil {
			return nil, err
		}
		out = append(out, Sector(sec))
	}
	return out, rows.Err()
}

// --- Namespaces ---

// EnsureNamespace creates a namespace row if absent. Safe to call
// concurrently: the conflict clause makes duplicate creation a no-op.
func (s *Store) EnsureNamespace(ctx context.Context, namespace string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO namespaces (namespace, created_at, updated_at, active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (namespace) DO NOTHING`),
		namespace, now, now,
	)
	return wrapOp("ensure_namespace", err)
}

// GetNamespace loads one namespace record.
func (s *Store) GetNamespace(ctx context.Context, namespace string) (*NamespaceGroup, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT namespace, description, ontology_profile, metadata_json,
			created_at, updated_at, active
		FROM namespaces WHERE namespace = ?`), namespace)
	var g NamespaceGroup
	var active int64
	err := row.Scan(&g.Namespace, &g.Description, &g.OntologyProfile,
		&g.MetadataJSON, &g.CreatedAt, &g.UpdatedAt, &active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapOp("get_namespace", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	g.Active = active != 0
	return &g, nil
}

// ListNamespaces returns all namespace records.
func (s *Store) ListNamespaces(ctx context.Context) ([]NamespaceGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, description, ontology_profile, metadata_json,
			created_at, updated_at, active
		FROM namespaces ORDER BY namespace`)
	if err != nil {
		return nil, wrapOp("list_namespaces", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer rows.Close()
	var out []NamespaceGroup
	for rows.Next() {
		var g NamespaceGroup
		var active int64
		if err := rows.Scan(&g.Namespace, &g.Description, &g.OntologyProfile,
			&g.MetadataJSON, &g.CreatedAt, &g.UpdatedAt, &active); err != nil {
			return nil, err
		}
		g.Active = active != 0
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateNamespace rewrites the mutable fields of a namespace record.
func (s *Store) UpdateNamespace(ctx context.Context, g *NamespaceGroup) error {
	g.UpdatedAt = time.Now().Unix()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE namespaces SET description = ?, ontology_profile = ?,
			metadata_json = ?, updated_at = ?, active = ?
		WHERE namespace = ?`),
		g.Description, g.OntologyProfile, g.MetadataJSON, g.UpdatedAt,
		boolInt(g.Active), g.Namespace,
	)
	if err != nil {
		return wrapOp("update_namespace", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNamespace removes the namespace record plus every row scoped to it.
// Memories that belong only to this namespace are deleted outright;
// multi-namespace memories keep their other labels.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) ([]string, error) {
	ids, err := s.MemoryIDs(ctx, namespace)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapOp("delete_namespace", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM namespaces WHERE namespace = ?`,
		`DELETE FROM memory_namespaces WHERE namespace = ?`,
		`DELETE FROM vectors WHERE namespace = ?`,
		`DELETE FROM waypoints WHERE namespace = ?`,
		`DELETE FROM temporal_facts WHERE namespace = ?`,
		`DELETE FROM user_summaries WHERE namespace = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), namespace); err != nil {
			return nil, wrapOp("delete_namespace", fmt.Errorf("%w: %v", ErrMetadataStore, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapOp("delete_namespace", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}

	// Drop or relabel the member memories outside the bulk transaction.
	var removed []string
	for _, id := range ids {
		m, err := s.GetMemory(ctx, id)
		if err != nil {
			continue
		}
		var rest []string
		for _, ns := range m.Namespaces {
			if ns != namespace {
				rest = append(rest, ns)
			}
		}
		if len(rest) == 0 {
			if err := s.DeleteMemory(ctx, id); err == nil {
				removed = append(removed, id)
			}
			continue
		}
		s.db.ExecContext(ctx, s.rebind(`UPDATE memories SET namespaces = ? WHERE id = ?`),
			marshalStrings(rest), id)
	}
	return removed, nil
}

// MemoryIDs returns all memory ids in a namespace.
func (s *Store) MemoryIDs(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT memory_id FROM memory_namespaces WHERE namespace = ?`), namespace)
	if err != nil {
		return nil, wrapOp("memory_ids", fmt.Errorf("%w: %v", ErrMetadataStore, err))
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountMemories returns the number of memories in a namespace.
func (s *Store) CountMemories(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM memory_namespaces WHERE namespace = ?`), namespace).Scan(&n)
	return n, wrapOp("count_memories", err)
}

// Ping verifies the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Corpus statistics (BM25 inputs) ---

// CorpusStats returns the document count and mean content length in tokens
// (approximated as length/5, close enough for the BM25 length prior).
func (s *Store) CorpusStats(ctx context.Context) (count int, avgLen float64, err error) {
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(AVG(LENGTH(content)), 0) FROM memories`)
	var avgChars float64
	if err := row.Scan(&count, &avgChars); err != nil {
		return 0, 0, wrapOp("corpus_stats", err)
	}
	return count, avgChars / 5.0, nil
}

// --- Stats ---

// AppendStat records a maintenance operation.
func (s *Store) AppendStat(ctx context.Context, typ string, count int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO stats (type, count, ts) VALUES (?, ?, ?)`),
		typ, count, time.Now().Unix(),
	)
	return wrapOp("append_stat", err)
}

// ReadStats returns stat entries recorded at or after since, newest first.
func (s *Store) ReadStats(ctx context.Context, since int64) ([]StatEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT type, count, ts FROM stats WHERE ts >= ? ORDER BY ts DESC`), since)
	if err != nil {
		return nil, wrapOp("read_stats", err)
	}
	defer rows.Close()
	var out []StatEntry
	for rows.Next() {
		var e StatEntry
		if err := rows.Scan(&e.Type, &e.Count, &e.TS); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StatTotal sums the counts for one stat type.
func (s *Store) StatTotal(ctx context.Context, typ string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(SUM(count), 0) FROM stats WHERE type = ?`), typ).Scan(&total)
	return total, wrapOp("stat_total", err)
}

// --- User summaries ---

// UpsertUserSummary writes the per-namespace digest.
func (s *Store) UpsertUserSummary(ctx context.Context, us *UserSummary) error {
	us.UpdatedAt = time.Now().Unix()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO user_summaries (namespace, summary, reflection_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace) DO UPDATE SET
			summary = excluded.summary,
			reflection_count = excluded.reflection_count,
			updated_at = excluded.updated_at`),
		us.Namespace, us.Summary, us.ReflectionCount, us.UpdatedAt,
	)
	return wrapOp("upsert_user_summary", err)
}

// GetUserSummary loads the digest for a namespace.
func (s *Store) GetUserSummary(ctx context.Context, namespace string) (*UserSummary, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT namespace, summary, reflection_count, updated_at
		FROM user_summaries WHERE namespace = ?`), namespace)
	var us UserSummary
	err := row.Scan(&us.Namespace, &us.Summary, &us.ReflectionCount, &us.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapOp("get_user_summary", err)
	}
	return &us, nil
}

// --- Waypoints ---

// UpsertWaypoint writes the single outbound edge for (srcID, namespace).
func (s *Store) UpsertWaypoint(ctx context.Context, srcID, namespace, dstID string, weight float64) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO waypoints (src_id, namespace, dst_id, weight, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (src_id, namespace) DO UPDATE SET
			dst_id = excluded.dst_id,
			weight = excluded.weight,
			updated_at = excluded.updated_at`),
		srcID, namespace, dstID, weight, now, now,
	)
	return wrapOp("upsert_waypoint", err)
}

// GetWaypoint returns the outbound edge for (srcID, namespace), or ErrNotFound.
func (s *Store) GetWaypoint(ctx context.Context, srcID, namespace string) (*Waypoint, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT src_id, namespace, dst_id, weight, created_at, updated_at
		FROM waypoints WHERE src_id = ? AND namespace = ?`), srcID, namespace)
	var w Waypoint
	err := row.Scan(&w.SrcID, &w.Namespace, &w.DstID, &w.Weight, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapOp("get_waypoint", err)
	}
	return &w, nil
}

// WaypointsFrom loads outbound edges for a batch of source ids at once.
func (s *Store) WaypointsFrom(ctx context.Context, srcIDs []string, namespace string) (map[string]*Waypoint, error) {
	out := make(map[string]*Waypoint, len(srcIDs))
	if len(srcIDs) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(srcIDs))
	args := make([]any, 0, len(srcIDs)+1)
	for i, id := range srcIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, namespace)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT src_id, namespace, dst_id, weight, created_at, updated_at
		FROM waypoints
		WHERE src_id IN (`+strings.Join(placeholders, ",")+`) AND namespace = ?`), args...)
	if err != nil {
		return nil, wrapOp("waypoints_from", err)
	}
	defer rows.Close()
	for rows.Next() {
		var w Waypoint
		if err := rows.Scan(&w.SrcID, &w.Namespace, &w.DstID, &w.Weight, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out[w.SrcID] = &w
	}
	return out, rows.Err()
}

// DeleteWaypoint removes the outbound edge for (srcID, namespace).
func (s *Store) DeleteWaypoint(ctx context.Context, srcID, namespace string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM waypoints WHERE src_id = ? AND namespace = ?`), srcID, namespace)
	return wrapOp("delete_waypoint", err)
}

// Close shuts down the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
