package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"classattend/internal/metrics"
)

// Options tunes the HTTP client. Zero values fall back to defaults.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// Client calls the vision microservice. With Skip set it answers every
// call with a fixed passing result and never touches the network.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool

	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ Oracle = (*Client)(nil)

// New creates a client.
func New(baseURL string, skip bool, opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second // analysis of a still image can be slow
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		Skip:       skip,
		HTTP:       &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// AnalyzeFace checks one capture for face count, liveness, quality and pose.
func (c *Client) AnalyzeFace(ctx context.Context, image []byte, pose Pose) (Analysis, error) {
	if c.Skip {
		desc := "mock-descriptor:" + string(pose)
		return Analysis{
			FaceCount:    1,
			Liveness:     Live,
			QualityScore: 85,
			Descriptor:   &desc,
			PoseVerified: true,
			Status:       "success",
		}, nil
	}
	if len(image) == 0 {
		return Analysis{}, fmt.Errorf("image required")
	}

	var out Analysis
	err := c.post(ctx, "analyze", "/analyze", map[string]string{
		"image":         base64.StdEncoding.EncodeToString(image),
		"expected_pose": string(pose),
	}, &out)
	return out, err
}

// CompareFaces compares a capture with a stored reference descriptor.
func (c *Client) CompareFaces(ctx context.Context, image []byte, descriptor string) (Comparison, error) {
	if c.Skip {
		return Comparison{
			Status:          "valid",
			Similarity:      LikelySame,
			ConfidenceScore: 90,
		}, nil
	}
	if len(image) == 0 {
		return Comparison{}, fmt.Errorf("image required")
	}

	var out Comparison
	err := c.post(ctx, "compare", "/compare", map[string]string{
		"image":                base64.StdEncoding.EncodeToString(image),
		"reference_descriptor": descriptor,
	}, &out)
	return out, err
}

// FindDuplicate searches candidates for the descriptor's closest match.
func (c *Client) FindDuplicate(ctx context.Context, descriptor string, candidates []Candidate) (DuplicateResult, error) {
	if c.Skip || len(candidates) == 0 {
		return DuplicateResult{}, nil
	}

	var out DuplicateResult
	err := c.post(ctx, "duplicates", "/duplicates", map[string]any{
		"descriptor": descriptor,
		"candidates": candidates,
	}, &out)
	return out, err
}

// Health checks if the vision service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unhealthy: %s", ErrUnavailable, resp.Status)
	}
	return nil
}

// post sends in as JSON and decodes the reply into out. Throttling (429,
// 503) is retried with a doubling delay; anything else fails at once.
func (c *Client) post(ctx context.Context, op, path string, in, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOracle(op, start, err) }()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	delay := c.baseDelay
	for attempt := 0; ; attempt++ {
		throttled, err := c.do(ctx, path, body, out)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !throttled {
			return nil
		}
		if attempt >= c.maxRetries {
			c.logger.Warn("vision service still throttling, giving up",
				zap.String("op", op), zap.Int("attempts", attempt+1))
			return fmt.Errorf("%s: %w", op, ErrBusy)
		}

		metrics.OracleRetries.WithLabelValues(op).Inc()
		c.logger.Warn("vision service throttled, backing off",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		delay *= 2
	}
}

func (c *Client) do(ctx context.Context, path string, body []byte, out any) (throttled bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return false, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
