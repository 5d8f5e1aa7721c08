// Package signedcode issues and verifies the rotating codes a session owner
// displays and members scan. Each code is bound to one session, expires
// quickly, and is only valid while its secret is the session's live one.
package signedcode

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/window"
)

// Payload is the scanned code. Timestamps are Unix milliseconds.
type Payload struct {
	SessionID string `json:"sessionId"`
	IssuedAt  int64  `json:"issuedAt"`
	Secret    string `json:"secret"`
	ExpiresAt int64  `json:"expiresAt"`
	Signature string `json:"signature"`
}

// signed is the canonical form covered by the signature. Field order is
// fixed by the struct, so json.Marshal is deterministic.
type signed struct {
	SessionID string `json:"sessionId"`
	IssuedAt  int64  `json:"issuedAt"`
	Secret    string `json:"secret"`
	ExpiresAt int64  `json:"expiresAt"`
}

// SecretStore holds at most one live secret per session. Setting a new
// secret replaces the previous one.
type SecretStore interface {
	SetLiveSecret(ctx context.Context, sessionID, secret string, expiresAt time.Time) error
	LiveSecret(ctx context.Context, sessionID string) (string, error)
}

// Rejection reasons.
const (
	ReasonExpired      = "code has expired"
	ReasonBadSignature = "invalid code signature"
	ReasonWrongSession = "code belongs to a different session"
	ReasonRotated      = "code is no longer valid, scan the current one"
)

// Channel issues and verifies codes.
type Channel struct {
	key     []byte
	ttl     time.Duration
	secrets SecretStore
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a channel signing with key. Session start times are read in loc.
func New(key []byte, ttl time.Duration, secrets SecretStore, loc *time.Location, logger *zap.Logger) *Channel {
	if loc == nil {
		loc = time.UTC
	}
	return &Channel{
		key:     key,
		ttl:     ttl,
		secrets: secrets,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source and returns c.
func (c *Channel) WithClock(now func() time.Time) *Channel {
	c.now = now
	return c
}

// Issue rotates the session's live secret and returns a signed payload
// for it. Codes are only issued while the check-in window is open.
func (c *Channel) Issue(ctx context.Context, sess attendance.Session) (Payload, error) {
	sched, err := sess.Schedule(c.loc)
	if err != nil {
		return Payload{}, err
	}
	now := c.now()
	if st := window.Evaluate(sched, now); !st.Open {
		return Payload{}, &attendance.WindowClosedError{Reason: st.Reason}
	}

	secret, err := newSecret()
	if err != nil {
		return Payload{}, err
	}
	expires := now.Add(c.ttl)
	if err := c.secrets.SetLiveSecret(ctx, sess.ID, secret, expires); err != nil {
		return Payload{}, fmt.Errorf("store live secret: %w", err)
	}

	p := Payload{
		SessionID: sess.ID,
		IssuedAt:  now.UnixMilli(),
		Secret:    secret,
		ExpiresAt: expires.UnixMilli(),
	}
	sig, err := c.sign(p)
	if err != nil {
		return Payload{}, err
	}
	p.Signature = base64.StdEncoding.EncodeToString(sig)
	c.logger.Debug("code issued", zap.String("session_id", sess.ID), zap.Time("expires_at", expires))
	return p, nil
}

// Verify checks a scanned payload against sess and returns the window
// state on success. Failures are *attendance.RejectedError or
// *attendance.WindowClosedError.
func (c *Channel) Verify(ctx context.Context, sess attendance.Session, p Payload) (window.State, error) {
	now := c.now()
	if now.UnixMilli() > p.ExpiresAt {
		return window.State{}, &attendance.RejectedError{Reason: ReasonExpired}
	}

	want, err := c.sign(p)
	if err != nil {
		return window.State{}, err
	}
	got, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return window.State{}, &attendance.RejectedError{Reason: ReasonBadSignature}
	}
	if !hmac.Equal(got, want) {
		return window.State{}, &attendance.RejectedError{Reason: ReasonBadSignature}
	}
	if p.SessionID != sess.ID {
		return window.State{}, &attendance.RejectedError{Reason: ReasonWrongSession}
	}

	live, err := c.secrets.LiveSecret(ctx, sess.ID)
	if err != nil {
		return window.State{}, fmt.Errorf("load live secret: %w", err)
	}
	if live == "" || !hmac.Equal([]byte(live), []byte(p.Secret)) {
		return window.State{}, &attendance.RejectedError{Reason: ReasonRotated}
	}

	sched, err := sess.Schedule(c.loc)
	if err != nil {
		return window.State{}, err
	}
	st := window.Evaluate(sched, now)
	if !st.Open {
		return window.State{}, &attendance.WindowClosedError{Reason: st.Reason}
	}
	return st, nil
}

func (c *Channel) sign(p Payload) ([]byte, error) {
	body, err := json.Marshal(signed{
		SessionID: p.SessionID,
		IssuedAt:  p.IssuedAt,
		Secret:    p.Secret,
		ExpiresAt: p.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, c.key)
	mac.Write(body)
	return mac.Sum(nil), nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
