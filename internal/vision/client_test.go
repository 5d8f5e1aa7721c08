package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := New(srv.URL, false, Options{MaxRetries: 3, BaseDelay: 2 * time.Second}, zap.NewNop())
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestAnalyzeFace(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["expected_pose"] != "left" {
			t.Errorf("expected_pose = %q", body["expected_pose"])
		}
		if img, _ := base64.StdEncoding.DecodeString(body["image"]); string(img) != "jpeg-bytes" {
			t.Errorf("image not base64 encoded: %q", body["image"])
		}
		_, _ = w.Write([]byte(`{"face_count":1,"liveness":"live","quality_score":72,"descriptor":"d-left","pose_verified":true,"status":"success"}`))
	})

	a, err := c.AnalyzeFace(context.Background(), []byte("jpeg-bytes"), PoseLeft)
	if err != nil {
		t.Fatalf("AnalyzeFace: %v", err)
	}
	if a.FaceCount != 1 || a.Liveness != Live || a.QualityScore != 72 || a.Descriptor == nil || *a.Descriptor != "d-left" || !a.PoseVerified {
		t.Errorf("unexpected analysis: %+v", a)
	}
}

func TestCompareFaces_RetriesThrottling(t *testing.T) {
	var calls int32
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"valid","similarity":"uncertain","confidence_score":74}`))
	})

	cmp, err := c.CompareFaces(context.Background(), []byte("img"), "ref")
	if err != nil {
		t.Fatalf("CompareFaces: %v", err)
	}
	if cmp.Similarity != SimilarityUnsure || cmp.ConfidenceScore != 74 {
		t.Errorf("unexpected comparison: %+v", cmp)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i, (*slept)[i], want[i])
		}
	}
}

func TestCompareFaces_ExhaustedRetriesIsBusy(t *testing.T) {
	var calls int32
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.CompareFaces(context.Background(), []byte("img"), "ref")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Errorf("throttling must not look like a hard failure")
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("calls = %d, want 4 (1 + 3 retries)", got)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i, (*slept)[i], want[i])
		}
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kaboom", http.StatusInternalServerError)
	})

	_, err := c.AnalyzeFace(context.Background(), []byte("img"), PoseFront)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(*slept) != 0 {
		t.Errorf("server errors must not be retried, slept %v", *slept)
	}
}

func TestFindDuplicate(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Descriptor string      `json:"descriptor"`
			Candidates []Candidate `json:"candidates"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Descriptor != "new" || len(body.Candidates) != 2 {
			t.Errorf("unexpected body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"is_duplicate":true,"matched_member_id":"a","highest_similarity":91}`))
	})

	res, err := c.FindDuplicate(context.Background(), "new", []Candidate{
		{MemberID: "a", Descriptor: "da"},
		{MemberID: "b", Descriptor: "db"},
	})
	if err != nil {
		t.Fatalf("FindDuplicate: %v", err)
	}
	if !res.IsDuplicate || res.MatchedMemberID != "a" || res.HighestSimilarity != 91 {
		t.Errorf("unexpected result: %+v", res)
	}

	none, err := c.FindDuplicate(context.Background(), "new", nil)
	if err != nil || none.IsDuplicate {
		t.Errorf("no candidates should be no duplicate: %+v %v", none, err)
	}
}

func TestSkipMode(t *testing.T) {
	c := New("http://127.0.0.1:1", true, Options{}, zap.NewNop())
	ctx := context.Background()

	a, err := c.AnalyzeFace(ctx, nil, PoseUp)
	if err != nil || a.FaceCount != 1 || a.Liveness != Live || !a.PoseVerified {
		t.Errorf("unexpected mock analysis %+v %v", a, err)
	}
	cmp, err := c.CompareFaces(ctx, nil, "x")
	if err != nil || cmp.Similarity != LikelySame {
		t.Errorf("unexpected mock comparison %+v %v", cmp, err)
	}
	if err := c.Health(ctx); err != nil {
		t.Errorf("Health in skip mode: %v", err)
	}
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
