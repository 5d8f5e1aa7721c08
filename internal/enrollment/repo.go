package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"classattend/internal/vision"
)

// Profile is one member's stored descriptor bundle.
type Profile struct {
	MemberID     string    `json:"member_id"`
	Descriptor   string    `json:"-"`
	QualityScore float64   `json:"quality_score"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Repository persists enrollment profiles, one per member.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert stores p, replacing any earlier bundle for the member.
func (r *Repository) Upsert(ctx context.Context, p Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollment_profiles (member_id, descriptor, quality_score, photo_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (member_id) DO UPDATE SET
			descriptor = excluded.descriptor,
			quality_score = excluded.quality_score,
			photo_url = excluded.photo_url,
			updated_at = excluded.updated_at
	`, p.MemberID, p.Descriptor, p.QualityScore, p.PhotoURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Get returns a member's profile or nil when none is stored.
func (r *Repository) Get(ctx context.Context, memberID string) (*Profile, error) {
	var p Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT member_id, descriptor, quality_score, photo_url, created_at, updated_at
		FROM enrollment_profiles WHERE member_id = $1
	`, memberID).Scan(&p.MemberID, &p.Descriptor, &p.QualityScore, &p.PhotoURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListOthers returns every stored descriptor except memberID's.
func (r *Repository) ListOthers(ctx context.Context, memberID string) ([]vision.Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id, descriptor FROM enrollment_profiles WHERE member_id <> $1 ORDER BY member_id
	`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []vision.Candidate
	for rows.Next() {
		var c vision.Candidate
		if err := rows.Scan(&c.MemberID, &c.Descriptor); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
