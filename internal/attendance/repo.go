package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"classattend/internal/store"
)

// Repository persists classes, sessions, attendance records and the audit
// log. The (session_id, member_id) uniqueness of records is enforced by the
// schema, not here.
type Repository struct {
	db     *sql.DB
	driver string
}

// NewRepository creates a repo. driver is store.DriverPostgres or
// store.DriverSQLite.
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, driver: driver}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---------- Classes ----------

const classColumns = `id, name, owner_id, room, latitude, longitude, radius_meters, created_at`

func scanClass(row rowScanner) (Class, error) {
	var c Class
	err := row.Scan(&c.ID, &c.Name, &c.OwnerID, &c.Room, &c.Latitude, &c.Longitude, &c.RadiusMeters, &c.CreatedAt)
	return c, err
}

// CreateClass inserts a class. Rosters and classes are owned by the
// administrative side; this exists for seeding and tests.
func (r *Repository) CreateClass(ctx context.Context, c Class) (Class, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classes (id, name, owner_id, room, latitude, longitude, radius_meters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Name, c.OwnerID, c.Room, c.Latitude, c.Longitude, c.RadiusMeters, c.CreatedAt)
	if err != nil {
		return Class{}, fmt.Errorf("insert class: %w", err)
	}
	return c, nil
}

// GetClass returns a class or nil when it does not exist.
func (r *Repository) GetClass(ctx context.Context, id string) (*Class, error) {
	c, err := scanClass(r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// UpdateClassLocation moves the class anchor. Readers always see the
// latest committed anchor; nothing caches it.
func (r *Repository) UpdateClassLocation(ctx context.Context, classID string, lat, lon, radius float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE classes SET latitude = $2, longitude = $3, radius_meters = $4
		WHERE id = $1
	`, classID, lat, lon, radius)
	if err != nil {
		return fmt.Errorf("update class location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClassNotFound
	}
	return nil
}

// AddMember enrolls a member in a class roster.
func (r *Repository) AddMember(ctx context.Context, classID, memberID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_members (class_id, member_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (class_id, member_id) DO NOTHING
	`, classID, memberID, time.Now().UTC())
	return err
}

// IsMember reports whether memberID is on the class roster.
func (r *Repository) IsMember(ctx context.Context, classID, memberID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM class_members WHERE class_id = $1 AND member_id = $2
	`, classID, memberID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMembers returns the class roster.
func (r *Repository) ListMembers(ctx context.Context, classID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id FROM class_members WHERE class_id = $1 ORDER BY member_id
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// ---------- Sessions ----------

const sessionColumns = `id, class_id, session_date, start_time, window_minutes, duration_minutes, is_active, closed_reason, end_time, created_at`

func scanSession(row rowScanner) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.ClassID, &s.Date, &s.StartTime, &s.WindowMinutes, &s.DurationMinutes,
		&s.IsActive, &s.ClosedReason, &s.EndTime, &s.CreatedAt)
	return s, err
}

// CreateSession writes a new session.
func (r *Repository) CreateSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, class_id, session_date, start_time, window_minutes, duration_minutes, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.ClassID, s.Date, s.StartTime, s.WindowMinutes, s.DurationMinutes, s.IsActive, s.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetSession returns a session or nil when it does not exist.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListActiveSessions returns every session still flagged active.
func (r *Repository) ListActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE is_active = TRUE ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CloseSession flips an active session to inactive and stamps its end.
// It reports false when the session was already closed.
func (r *Repository) CloseSession(ctx context.Context, id, reason string, endTime time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE, closed_reason = $2, end_time = $3
		WHERE id = $1 AND is_active = TRUE
	`, id, reason, endTime)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetLiveSecret replaces the session's live code secret.
func (r *Repository) SetLiveSecret(ctx context.Context, sessionID, secret string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET live_code_secret = $2, live_code_expires_at = $3 WHERE id = $1
	`, sessionID, secret, expiresAt)
	if err != nil {
		return fmt.Errorf("store live secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// LiveSecret returns the session's current code secret, or "" if none.
func (r *Repository) LiveSecret(ctx context.Context, sessionID string) (string, error) {
	var secret sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT live_code_secret FROM sessions WHERE id = $1`, sessionID).Scan(&secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return secret.String, nil
}

// ---------- Records ----------

const recordColumns = `id, session_id, class_id, member_id, method, status, verification_score, late_submission, review_status, manual_reason, recorded_at`

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.ClassID, &rec.MemberID, &rec.Method, &rec.Status,
		&rec.VerificationScore, &rec.LateSubmission, &rec.ReviewStatus, &rec.ManualReason, &rec.RecordedAt)
	return rec, err
}

// GetRecord returns the record for (sessionID, memberID) or nil.
func (r *Repository) GetRecord(ctx context.Context, sessionID, memberID string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 AND member_id = $2
	`, sessionID, memberID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetRecordByID returns a record or nil.
func (r *Repository) GetRecordByID(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// InsertRecord attempts the insert and lets the uniqueness constraint
// decide. A conflict returns ErrAlreadyRecorded.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, class_id, member_id, method, status, verification_score, late_submission, review_status, manual_reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, member_id) DO NOTHING
	`, rec.ID, rec.SessionID, rec.ClassID, rec.MemberID, string(rec.Method), string(rec.Status),
		rec.VerificationScore, rec.LateSubmission, rec.ReviewStatus, rec.ManualReason, rec.RecordedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, ErrAlreadyRecorded
		}
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, err
	}
	if n == 0 {
		return Record{}, ErrAlreadyRecorded
	}
	return rec, nil
}

// InsertAbsences writes an auto/absent record for each member that has
// none. Members recorded concurrently are skipped by the constraint, so
// re-running is harmless. It returns how many rows were written.
func (r *Repository) InsertAbsences(ctx context.Context, s Session, memberIDs []string, at time.Time) (int, error) {
	if len(memberIDs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attendance_records (id, session_id, class_id, member_id, method, status, late_submission, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, member_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare absence insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, memberID := range memberIDs {
		res, err := stmt.ExecContext(ctx, uuid.NewString(), s.ID, s.ClassID, memberID,
			string(MethodAuto), string(StatusAbsent), false, at)
		if err != nil {
			return 0, fmt.Errorf("insert absence for %s: %w", memberID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit absences: %w", err)
	}
	return inserted, nil
}

// ListRecords returns every record for a session.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 ORDER BY recorded_at, member_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ---------- Manual override ----------

// Override is a manual status change requested by a session owner.
type Override struct {
	SessionID string
	MemberID  string
	Status    Status
	Reason    string
	ActorID   string
}

// ApplyOverride creates or updates the record and appends exactly one
// audit entry, atomically.
func (r *Repository) ApplyOverride(ctx context.Context, s Session, o Override, at time.Time) (Record, AuditEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, AuditEntry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	selectRecord := `SELECT ` + recordColumns + ` FROM attendance_records WHERE session_id = $1 AND member_id = $2` + store.LockSuffix(r.driver)

	var previous *Status
	rec, err := scanRecord(tx.QueryRowContext(ctx, selectRecord, s.ID, o.MemberID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec = Record{
			ID:             uuid.NewString(),
			SessionID:      s.ID,
			ClassID:        s.ClassID,
			MemberID:       o.MemberID,
			Method:         MethodManual,
			Status:         o.Status,
			LateSubmission: o.Status == StatusLate,
			ManualReason:   &o.Reason,
			RecordedAt:     at,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attendance_records (id, session_id, class_id, member_id, method, status, late_submission, manual_reason, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, rec.ID, rec.SessionID, rec.ClassID, rec.MemberID, string(rec.Method), string(rec.Status),
			rec.LateSubmission, rec.ManualReason, rec.RecordedAt)
		if err != nil {
			if store.IsUniqueViolation(err) {
				// A check-in committed between our read and write; the
				// caller retries against the now-existing row.
				return Record{}, AuditEntry{}, ErrAlreadyRecorded
			}
			return Record{}, AuditEntry{}, fmt.Errorf("insert manual record: %w", err)
		}
	case err != nil:
		return Record{}, AuditEntry{}, fmt.Errorf("load record: %w", err)
	default:
		prev := rec.Status
		previous = &prev
		rec.Status = o.Status
		rec.LateSubmission = o.Status == StatusLate
		rec.ManualReason = &o.Reason
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_records SET status = $2, late_submission = $3, manual_reason = $4 WHERE id = $1
		`, rec.ID, string(rec.Status), rec.LateSubmission, rec.ManualReason); err != nil {
			return Record{}, AuditEntry{}, fmt.Errorf("update record: %w", err)
		}
	}

	entry := AuditEntry{
		ID:             uuid.NewString(),
		RecordID:       rec.ID,
		PreviousStatus: previous,
		NewStatus:      o.Status,
		Reason:         o.Reason,
		ActorID:        o.ActorID,
		CreatedAt:      at,
	}
	var prevArg *string
	if previous != nil {
		p := string(*previous)
		prevArg = &p
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_audit_log (id, record_id, previous_status, new_status, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.RecordID, prevArg, string(entry.NewStatus), entry.Reason, entry.ActorID, entry.CreatedAt); err != nil {
		return Record{}, AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, AuditEntry{}, fmt.Errorf("commit override: %w", err)
	}
	return rec, entry, nil
}

// ListAudit returns the audit trail of a record, oldest first.
func (r *Repository) ListAudit(ctx context.Context, recordID string) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_id, previous_status, new_status, reason, actor_id, created_at
		FROM attendance_audit_log WHERE record_id = $1 ORDER BY created_at, id
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.RecordID, &e.PreviousStatus, &e.NewStatus, &e.Reason, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
