package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/yashp387/DigitalDump-sub001/db/migrations"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const requestColumns = `id, requester_id, contact_name, contact_phone, address, pickup_at, category, subtype, quantity, latitude, longitude, status, assigned_agent_id, version, proof_uri, cancel_reason, cancelled_by, created_at, updated_at, accepted_at, completed_at, cancelled_at`

// SQLStore implements Store over database/sql. Queries are written with
// Postgres-style $N placeholders and rebound for SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLStore(db, DialectPostgres)
}

// NewSQLiteStore opens (or creates) the database file at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return newSQLStore(db, DialectSQLite)
}

func newSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	store := &SQLStore{db: db, dialect: dialect}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect == DialectSQLite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return err
	}
	migFS, err := fs.Sub(migrations.Files, s.dialect)
	if err != nil {
		return err
	}
	files, err := listMigrationFiles(migFS)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := s.isMigrationApplied(ctx, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, migFS, file); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) isMigrationApplied(ctx context.Context, version string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(1) FROM schema_migrations WHERE version=$1`), version).Scan(&n)
	return n > 0, err
}

func (s *SQLStore) applyMigration(ctx context.Context, migFS fs.FS, file string) error {
	sqlBytes, err := fs.ReadFile(migFS, file)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`), file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (s *SQLStore) CreateRequest(ctx context.Context, req RequestRecord) error {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	lat, lng := splitPoint(req.Location)
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO collection_requests (`+requestColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`),
		req.ID, req.RequesterID, req.ContactName, req.ContactPhone, req.Address, req.PickupAt.UTC(), req.Category, req.Subtype, req.Quantity,
		lat, lng, req.Status, nullString(req.AssignedAgentID), req.Version, req.ProofURI, req.CancelReason, req.CancelledBy,
		req.CreatedAt.UTC(), req.UpdatedAt.UTC(), nullTime(req.AcceptedAt), nullTime(req.CompletedAt), nullTime(req.CancelledAt),
	)
	return err
}

func (s *SQLStore) GetRequest(ctx context.Context, requestID string) (RequestRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+requestColumns+` FROM collection_requests WHERE id=$1`), requestID)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RequestRecord{}, false, nil
	}
	if err != nil {
		return RequestRecord{}, false, err
	}
	return r, true, nil
}

// UpdateIfMatch issues a single UPDATE ... WHERE <match> RETURNING statement,
// so the check and the write cannot interleave with another writer.
func (s *SQLStore) UpdateIfMatch(ctx context.Context, t Transition) (RequestRecord, bool, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	args := make([]any, 0, 12)
	argi := 1
	arg := func(v any) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", argi)
		argi++
		return p
	}

	sets := []string{
		"status=" + arg(t.ToStatus),
		"version=version+1",
		"updated_at=" + arg(at.UTC()),
	}
	if t.ClearAgent {
		sets = append(sets, "assigned_agent_id=NULL")
	}
	if t.SetAgentID != "" {
		sets = append(sets, "assigned_agent_id="+arg(t.SetAgentID))
	}
	if t.ProofURI != "" {
		sets = append(sets, "proof_uri="+arg(t.ProofURI))
	}
	switch t.ToStatus {
	case StatusAccepted:
		sets = append(sets, "accepted_at="+arg(at.UTC()))
	case StatusCompleted:
		sets = append(sets, "completed_at="+arg(at.UTC()))
	case StatusCancelled:
		sets = append(sets,
			"cancelled_at="+arg(at.UTC()),
			"cancel_reason="+arg(t.CancelReason),
			"cancelled_by="+arg(t.CancelledBy),
		)
	}

	where := []string{"id=" + arg(t.RequestID)}
	if len(t.FromStatus) > 0 {
		ph := make([]string, 0, len(t.FromStatus))
		for _, st := range t.FromStatus {
			ph = append(ph, arg(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if t.RequireUnassigned {
		where = append(where, "assigned_agent_id IS NULL")
	}
	if t.RequireAgentID != "" {
		where = append(where, "assigned_agent_id="+arg(t.RequireAgentID))
	}
	if t.RequireRequesterID != "" {
		where = append(where, "requester_id="+arg(t.RequireRequesterID))
	}

	update := fmt.Sprintf(`UPDATE collection_requests SET %s WHERE %s`, strings.Join(sets, ", "), strings.Join(where, " AND "))
	if s.dialect == DialectSQLite {
		return s.updateThenSelect(ctx, update, t.RequestID, args)
	}
	r, err := scanRequest(s.db.QueryRowContext(ctx, update+` RETURNING `+requestColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return RequestRecord{}, false, nil
	}
	if err != nil {
		return RequestRecord{}, false, err
	}
	return r, true, nil
}

// updateThenSelect runs the conditional update and the read-back in one
// immediate (write-locked) transaction. RETURNING drops column declared types
// in SQLite, which the driver needs to decode timestamps.
func (s *SQLStore) updateThenSelect(ctx context.Context, update, requestID string, args []any) (RequestRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RequestRecord{}, false, err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, s.rebind(update), args...)
	if err != nil {
		return RequestRecord{}, false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return RequestRecord{}, false, err
	}
	if rows == 0 {
		return RequestRecord{}, false, nil
	}
	r, err := scanRequest(tx.QueryRowContext(ctx, s.rebind(`SELECT `+requestColumns+` FROM collection_requests WHERE id=$1`), requestID))
	if err != nil {
		return RequestRecord{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return RequestRecord{}, false, err
	}
	return r, true, nil
}

func (s *SQLStore) ListClaimable(ctx context.Context, q CandidateQuery) ([]RequestRecord, error) {
	where := []string{"status=$1", "assigned_agent_id IS NULL"}
	args := []any{StatusPending}
	if q.Box != nil {
		where = append(where, "latitude BETWEEN $2 AND $3", "longitude BETWEEN $4 AND $5")
		args = append(args, q.Box.MinLat, q.Box.MaxLat, q.Box.MinLng, q.Box.MaxLng)
	}
	query := `SELECT ` + requestColumns + ` FROM collection_requests WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return s.queryRequests(ctx, query, args...)
}

func (s *SQLStore) ListByAgent(ctx context.Context, agentID, status string) ([]RequestRecord, error) {
	if status == "" {
		return s.queryRequests(ctx,
			`SELECT `+requestColumns+` FROM collection_requests WHERE assigned_agent_id=$1 ORDER BY accepted_at ASC, id ASC`, agentID)
	}
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM collection_requests WHERE assigned_agent_id=$1 AND status=$2 ORDER BY accepted_at ASC, id ASC`, agentID, status)
}

func (s *SQLStore) ListByRequester(ctx context.Context, requesterID string) ([]RequestRecord, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM collection_requests WHERE requester_id=$1 ORDER BY created_at DESC, id ASC`, requesterID)
}

func (s *SQLStore) queryRequests(ctx context.Context, query string, args ...any) ([]RequestRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]RequestRecord, 0, 16)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateAgentLocation(ctx context.Context, agentID string, loc GeoPoint, seen time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO agents (id, latitude, longitude, status, last_seen) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET
		 latitude=EXCLUDED.latitude,
		 longitude=EXCLUDED.longitude,
		 last_seen=EXCLUDED.last_seen`),
		agentID, loc.Lat, loc.Lng, AgentActive, seen.UTC(),
	)
	return err
}

func (s *SQLStore) SetAgentStatus(ctx context.Context, agentID, status string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO agents (id, status) VALUES ($1,$2)
		 ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status`),
		agentID, status,
	)
	return err
}

func (s *SQLStore) GetAgent(ctx context.Context, agentID string) (AgentRecord, bool, error) {
	var a AgentRecord
	var lat, lng sql.NullFloat64
	var seen sql.NullTime
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, latitude, longitude, status, last_seen FROM agents WHERE id=$1`), agentID).
		Scan(&a.ID, &lat, &lng, &a.Status, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentRecord{}, false, nil
	}
	if err != nil {
		return AgentRecord{}, false, err
	}
	a.Location = joinPoint(lat, lng)
	if seen.Valid {
		a.LastSeen = seen.Time.UTC()
	}
	return a, true, nil
}

func (s *SQLStore) AppendAuditEvent(ctx context.Context, event AuditEventRecord) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	// Postgres keeps microseconds; hash what will be read back.
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if s.dialect == DialectPostgres {
		// Serialises appenders so the chain cannot fork.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(7411)`); err != nil {
			return err
		}
	}
	prevHash := ""
	err = tx.QueryRowContext(ctx, `SELECT event_hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	event.PrevHash = prevHash
	event.EventHash = computeAuditHash(event)
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO audit_events (action, actor, actor_role, request_id, result, details, prev_hash, event_hash, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`),
		event.Action, event.Actor, event.ActorRole, event.RequestID, event.Result, event.Details, event.PrevHash, event.EventHash, event.CreatedAt.UTC(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) ListAuditEvents(ctx context.Context, query AuditQuery) ([]AuditEventRecord, error) {
	query = normalizeAuditQuery(query)
	where := []string{"1=1"}
	args := make([]any, 0, 8)
	argi := 1
	add := func(clause string, v any) {
		where = append(where, fmt.Sprintf(clause, argi))
		args = append(args, v)
		argi++
	}
	if query.Action != "" {
		add("action=$%d", query.Action)
	}
	if query.Actor != "" {
		add("actor=$%d", query.Actor)
	}
	if query.RequestID != "" {
		add("request_id=$%d", query.RequestID)
	}
	if query.Result != "" {
		add("result=$%d", query.Result)
	}
	if !query.From.IsZero() {
		add("created_at >= $%d", query.From.UTC())
	}
	if !query.To.IsZero() {
		add("created_at <= $%d", query.To.UTC())
	}
	args = append(args, query.Limit, query.Offset)
	sqlQuery := fmt.Sprintf(
		`SELECT id, action, actor, actor_role, request_id, result, details, prev_hash, event_hash, created_at
		 FROM audit_events
		 WHERE %s
		 ORDER BY id DESC
		 LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), argi, argi+1,
	)
	rows, err := s.db.QueryContext(ctx, s.rebind(sqlQuery), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AuditEventRecord, 0, query.Limit)
	for rows.Next() {
		var a AuditEventRecord
		if err := rows.Scan(&a.ID, &a.Action, &a.Actor, &a.ActorRole, &a.RequestID, &a.Result, &a.Details, &a.PrevHash, &a.EventHash, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (RequestRecord, error) {
	var r RequestRecord
	var lat, lng sql.NullFloat64
	var agent sql.NullString
	var accepted, completed, cancelled sql.NullTime
	if err := s.Scan(&r.ID, &r.RequesterID, &r.ContactName, &r.ContactPhone, &r.Address, &r.PickupAt, &r.Category, &r.Subtype, &r.Quantity,
		&lat, &lng, &r.Status, &agent, &r.Version, &r.ProofURI, &r.CancelReason, &r.CancelledBy,
		&r.CreatedAt, &r.UpdatedAt, &accepted, &completed, &cancelled); err != nil {
		return RequestRecord{}, err
	}
	r.Location = joinPoint(lat, lng)
	r.AssignedAgentID = agent.String
	r.PickupAt = r.PickupAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if accepted.Valid {
		r.AcceptedAt = accepted.Time.UTC()
	}
	if completed.Valid {
		r.CompletedAt = completed.Time.UTC()
	}
	if cancelled.Valid {
		r.CancelledAt = cancelled.Time.UTC()
	}
	return r, nil
}

func splitPoint(p *GeoPoint) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}

func joinPoint(lat, lng sql.NullFloat64) *GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
