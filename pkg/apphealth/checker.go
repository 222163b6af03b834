// Package apphealth probes the readiness endpoint served by the application
// running on the controlled resource.
package apphealth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/openfroyo/hostgate/pkg/engine"
)

const (
	// DefaultTimeout bounds one probe request.
	DefaultTimeout = 5 * time.Second

	// DefaultPollInterval is the wait between probes in WaitReady.
	DefaultPollInterval = 5 * time.Second

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 4096
)

// Config configures a Checker.
type Config struct {
	// BaseURL is the probe endpoint root, e.g. "http://10.0.0.5:8080".
	BaseURL string

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client

	// Clock supplies timestamps and poll timers.
	Clock clock.Clock
}

// Checker implements engine.HealthProber over HTTP.
type Checker struct {
	url     string
	timeout time.Duration
	client  *http.Client
	clock   clock.Clock
	logger  zerolog.Logger
}

var _ engine.HealthProber = (*Checker)(nil)

// body is the probe response. Servers that do not emit valid JSON still
// produce a usable result from the status code alone.
type body struct {
	Status    string `json:"status"`
	Minecraft string `json:"minecraft"`
}

// NewChecker creates a checker for cfg.BaseURL.
func NewChecker(cfg Config, logger zerolog.Logger) (*Checker, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("health base URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("health base URL must be http or https: %s", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Checker{
		url:     base + "/health",
		timeout: cfg.Timeout,
		client:  cfg.HTTPClient,
		clock:   cfg.Clock,
		logger:  logger.With().Str("component", "apphealth").Logger(),
	}, nil
}

// Check performs one probe. 200 means ready and 503 means not ready yet.
// Any other response, or no response, is an error.
func (c *Checker) Check(ctx context.Context) (*engine.AppHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, engine.NewPermanentError("invalid health probe request", err).
			WithCode(engine.ErrCodeValidation)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, engine.NewTransientError("application health probe unreachable", err).
			WithCode(engine.ErrCodeRemoteUnavailable)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	checkedAt := c.clock.Now()

	switch resp.StatusCode {
	case http.StatusOK:
		return &engine.AppHealth{Ready: true, Detail: detail(raw, "running"), CheckedAt: checkedAt}, nil
	case http.StatusServiceUnavailable:
		return &engine.AppHealth{Ready: false, Detail: detail(raw, "not_running"), CheckedAt: checkedAt}, nil
	default:
		c.logger.Warn().Int("status", resp.StatusCode).Msg("Unexpected health probe response")
		return nil, engine.NewPermanentError(
			fmt.Sprintf("unexpected health probe status %d", resp.StatusCode), nil).
			WithCode(engine.ErrCodeRemoteFailed)
	}
}

// WaitReady probes every interval until the application reports ready or ctx
// ends. Probe errors are logged and polling continues, since the endpoint is
// usually unreachable while the resource boots.
func (c *Checker) WaitReady(ctx context.Context, interval time.Duration) (*engine.AppHealth, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		health, err := c.Check(ctx)
		switch {
		case err != nil:
			c.logger.Debug().Err(err).Msg("Health probe failed, retrying")
		case health.Ready:
			return health, nil
		default:
			c.logger.Debug().Str("detail", health.Detail).Msg("Application not ready yet")
		}

		select {
		case <-ctx.Done():
			return nil, engine.NewTransientError("application did not become ready in time", ctx.Err()).
				WithCode(engine.ErrCodeRemoteUnavailable)
		case <-ticker.C:
		}
	}
}

func detail(raw []byte, fallback string) string {
	var b body
	if err := json.Unmarshal(raw, &b); err != nil || b.Minecraft == "" {
		return fallback
	}
	return b.Minecraft
}
