package favicon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/client"
	"github.com/wolfeidau/sitepipe/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxResponseSize = 64 << 20

// RealFaviconService talks to the RealFaviconGenerator HTTP API.
type RealFaviconService struct {
	baseURL    string
	httpClient *http.Client
	maxTries   uint
	backoff    func() backoff.BackOff
}

type ServiceOption func(*RealFaviconService)

// WithHTTPClient replaces the caching client.
func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *RealFaviconService) {
		s.httpClient = c
	}
}

// WithMaxTries bounds the attempts made for one request.
func WithMaxTries(n uint) ServiceOption {
	return func(s *RealFaviconService) {
		s.maxTries = n
	}
}

// WithBackOff sets the retry schedule.
func WithBackOff(fn func() backoff.BackOff) ServiceOption {
	return func(s *RealFaviconService) {
		s.backoff = fn
	}
}

func NewRealFaviconService(baseURL, cacheDir, userAgent string, opts ...ServiceOption) *RealFaviconService {
	s := &RealFaviconService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client.NewCachingHTTPClient(cacheDir, userAgent),
		maxTries:   4,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type generateEnvelope struct {
	FaviconGeneration *Request `json:"favicon_generation"`
}

type resultEnvelope struct {
	FaviconGenerationResult *Manifest `json:"favicon_generation_result"`
}

func (s *RealFaviconService) Generate(ctx context.Context, req *Request) (*Manifest, error) {
	if req.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(generateEnvelope{FaviconGeneration: req})
	if err != nil {
		return nil, fmt.Errorf("failed to encode favicon request: %w", err)
	}

	data, err := s.do(ctx, "generate", func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/favicon", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode favicon response: %w", err)
	}
	if env.FaviconGenerationResult == nil {
		return nil, errors.New("favicon response has no generation result")
	}

	m := env.FaviconGenerationResult
	if m.Result.Status != "success" {
		return nil, fmt.Errorf("favicon generation failed: %s", m.Result.ErrorMessage)
	}

	return m, nil
}

func (s *RealFaviconService) Download(ctx context.Context, fileURL string) ([]byte, error) {
	return s.do(ctx, "download", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	})
}

func (s *RealFaviconService) CheckUpdate(ctx context.Context, version string) ([]Change, error) {
	u := s.baseURL + "/versions?since=" + url.QueryEscape(version)

	data, err := s.do(ctx, "versions", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}

	var changes []Change
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode favicon versions: %w", err)
	}
	return changes, nil
}

// do sends the request built by newReq, retrying network failures and
// 429/5xx responses. Other 4xx responses fail immediately.
func (s *RealFaviconService) do(ctx context.Context, op string, newReq func() (*http.Request, error)) ([]byte, error) {
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("operation", op))

	operation := func() ([]byte, error) {
		m.FaviconRequestsTotal.Add(ctx, 1, attrs)

		req, err := newReq()
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%s %s: %s", req.Method, req.URL.Redacted(), resp.Status)
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, backoff.Permanent(fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Redacted(), resp.Status, bytes.TrimSpace(data)))
		}

		log.Debug().Str("operation", op).Str("url", req.URL.Redacted()).Bool("cached", client.IsCached(resp)).Int("bytes", len(data)).Msg("Favicon service response")

		return data, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(s.backoff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.FaviconRetriesTotal.Add(ctx, 1, attrs)
			log.Warn().Err(err).Str("operation", op).Dur("retry_in", next).Msg("Favicon service request failed, retrying")
		}),
	)
}
