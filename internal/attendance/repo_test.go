package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classattend/internal/attendance"
	"classattend/internal/store"
	"classattend/internal/store/storetest"
)

func seed(t *testing.T, repo *attendance.Repository, members ...string) attendance.Session {
	t.Helper()
	ctx := context.Background()
	class, err := repo.CreateClass(ctx, attendance.Class{
		ID: "class-1", Name: "Distributed Systems", OwnerID: "prof-1", Room: "GHC 4401", RadiusMeters: 50,
	})
	if err != nil {
		t.Fatalf("create class: %v", err)
	}
	for _, m := range members {
		if err := repo.AddMember(ctx, class.ID, m); err != nil {
			t.Fatalf("add member %s: %v", m, err)
		}
	}
	sess, err := repo.CreateSession(ctx, attendance.Session{
		ID: "sess-1", ClassID: class.ID, Date: "2026-03-02", StartTime: "10:00:00",
		WindowMinutes: 15, DurationMinutes: 60, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func newRepo(t *testing.T) *attendance.Repository {
	return attendance.NewRepository(storetest.Open(t), store.DriverSQLite)
}

func TestRepository_SessionRoundTrip(t *testing.T) {
	repo := newRepo(t)
	sess := seed(t, repo, "m1")

	got, err := repo.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || !got.IsActive || got.WindowMinutes != 15 || got.Date != "2026-03-02" {
		t.Fatalf("unexpected session: %+v", got)
	}

	missing, err := repo.GetSession(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing session, got %+v, %v", missing, err)
	}

	sched, err := got.Schedule(time.UTC)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC); !sched.Start.Equal(want) {
		t.Errorf("start = %s, want %s", sched.Start, want)
	}
}

func TestRepository_InsertRecord_Duplicate(t *testing.T) {
	repo := newRepo(t)
	sess := seed(t, repo, "m1")
	ctx := context.Background()

	rec := attendance.Record{
		SessionID: sess.ID, ClassID: sess.ClassID, MemberID: "m1",
		Method: attendance.MethodCode, Status: attendance.StatusPresent,
	}
	if _, err := repo.InsertRecord(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := repo.InsertRecord(ctx, rec)
	if !errors.Is(err, attendance.ErrAlreadyRecorded) {
		t.Fatalf("expected ErrAlreadyRecorded, got %v", err)
	}
}

func TestRepository_InsertRecord_ConcurrentAttempts(t *testing.T) {
	repo := newRepo(t)
	sess := seed(t, repo, "m1")
	ctx := context.Background()

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		inserted  int
		duplicate int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.InsertRecord(ctx, attendance.Record{
				SessionID: sess.ID, ClassID: sess.ClassID, MemberID: "m1",
				Method: attendance.MethodProximity, Status: attendance.StatusPresent,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, attendance.ErrAlreadyRecorded):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if inserted != 1 || duplicate != attempts-1 {
		t.Errorf("inserted=%d duplicate=%d, want 1 and %d", inserted, duplicate, attempts-1)
	}
	records, err := repo.ListRecords(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected exactly one record, got %d", len(records))
	}
}

func TestRepository_InsertAbsences_Idempotent(t *testing.T) {
	repo := newRepo(t)
	sess := seed(t, repo, "m1", "m2", "m3")
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 11, 5, 0, 0, time.UTC)

	if _, err := repo.InsertRecord(ctx, attendance.Record{
		SessionID: sess.ID, ClassID: sess.ClassID, MemberID: "m2",
		Method: attendance.MethodFace, Status: attendance.StatusPresent,
	}); err != nil {
		t.Fatalf("insert m2: %v", err)
	}

	n, err := repo.InsertAbsences(ctx, sess, []string{"m1", "m2", "m3"}, at)
	if err != nil {
		t.Fatalf("first InsertAbsences: %v", err)
	}
	if n != 2 {
		t.Errorf("first run inserted %d, want 2", n)
	}
	n, err = repo.InsertAbsences(ctx, sess, []string{"m1", "m3"}, at)
	if err != nil {
		t.Fatalf("second InsertAbsences: %v", err)
	}
	if n != 0 {
		t.Errorf("second run inserted %d, want 0", n)
	}

	records, _ := repo.ListRecords(ctx, sess.ID)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for _, r := range records {
		if r.MemberID == "m2" {
			if r.Status != attendance.StatusPresent {
				t.Errorf("m2 should stay present, got %s", r.Status)
			}
			continue
		}
		if r.Status != attendance.StatusAbsent || r.Method != attendance.MethodAuto {
			t.Errorf("%s: got %s/%s, want absent/auto", r.MemberID, r.Status, r.Method)
		}
	}
}

func TestRepository_CloseSession(t *testing.T) {
	repo := newRepo(t)
	sess := seed(t, repo)
	ctx := context.Background()
	end := time.Date(2026, 3, 2, 11, 5, 0, 0, time.UTC)

	closed, err := repo.CloseSession(ctx, sess.ID, "session expired", end)
	if err != nil || !closed {
		t.Fatalf("first close: closed=%v err=%v", closed, err)
	}
	closed, err = repo.CloseSession(ctx, sess.ID, "session expired", end)
	if err != nil || closed {
		t.Fatalf("second close should be a no-op: closed=%v err=%v", closed, err)
	}

	got, _ := repo.GetSession(ctx, sess.ID)
	if got.IsActive || got.ClosedReason == nil || *got.ClosedReason != "session expired" || got.EndTime == nil {
		t.Errorf("session not stamped: %+v", got)
	}
	active, err := repo.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active sessions, got %d", len(active))
	}
}

func TestRepository_LiveSecret(t *testing.T) {
	repo := newRepo(t)
	sess := seed(t, repo)
	ctx := context.Background()

	if s, err := repo.LiveSecret(ctx, sess.ID); err != nil || s != "" {
		t.Fatalf("expected empty secret, got %q, %v", s, err)
	}
	if err := repo.SetLiveSecret(ctx, sess.ID, "abc", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetLiveSecret: %v", err)
	}
	if err := repo.SetLiveSecret(ctx, sess.ID, "def", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if s, _ := repo.LiveSecret(ctx, sess.ID); s != "def" {
		t.Errorf("expected rotated secret def, got %q", s)
	}
	if err := repo.SetLiveSecret(ctx, "missing", "x", time.Now()); !errors.Is(err, attendance.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRepository_UpdateClassLocation(t *testing.T) {
	repo := newRepo(t)
	seed(t, repo)
	ctx := context.Background()

	if err := repo.UpdateClassLocation(ctx, "class-1", 40.4433, -79.9436, 75); err != nil {
		t.Fatalf("UpdateClassLocation: %v", err)
	}
	class, _ := repo.GetClass(ctx, "class-1")
	if !class.HasAnchor() || *class.Latitude != 40.4433 || class.RadiusMeters != 75 {
		t.Errorf("anchor not stored: %+v", class)
	}
	if err := repo.UpdateClassLocation(ctx, "nope", 0, 0, 50); !errors.Is(err, attendance.ErrClassNotFound) {
		t.Errorf("expected ErrClassNotFound, got %v", err)
	}
}
