// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bureau-foundation/localserver/lib/netutil"
	"github.com/bureau-foundation/localserver/lib/version"
)

// CaptureHeader is sent on capture downloads so servers can answer
// with an error instead of a login page when the user is signed out.
const CaptureHeader = "X-LocalServer-Capture"

// FetchRequest describes one download.
type FetchRequest struct {
	URL string

	// IfModifiedSince makes the request conditional. A 304 answer is
	// then a success.
	IfModifiedSince string

	// Capture marks the request with CaptureHeader.
	Capture bool
}

// FetchResponse is a completed download.
type FetchResponse struct {
	// URL is the final address after redirects.
	URL string

	StatusCode int
	StatusLine string
	Headers    Headers
	Body       []byte
}

// Fetcher downloads URLs. Timeouts and redirect limits are the
// fetcher's responsibility; the tasks only distinguish success from
// failure.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (*FetchResponse, error)
}

// HTTPFetcherConfig configures an HTTPFetcher.
type HTTPFetcherConfig struct {
	// Client defaults to a new http.Client. Its CheckRedirect is
	// replaced.
	Client *http.Client

	// UserAgent defaults to version.UserAgent().
	UserAgent string

	// MaxBodySize defaults to netutil.DefaultMaxBodySize.
	MaxBodySize int64

	// Timeout bounds one download including its body. Zero means no
	// limit beyond the context.
	Timeout time.Duration

	// MaxRedirects defaults to 10. Negative disables redirects.
	MaxRedirects int

	Logger *slog.Logger
}

// HTTPFetcher is the net/http Fetcher.
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	timeout     time.Duration
	logger      *slog.Logger
}

var errTooManyRedirects = errors.New("redirect chain too long")

// NewHTTPFetcher returns a fetcher configured by cfg.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	client := &http.Client{}
	if cfg.Client != nil {
		copied := *cfg.Client
		client = &copied
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 10
	}
	client.CheckRedirect = func(request *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return errTooManyRedirects
		}
		return nil
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	maxBodySize := cfg.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = netutil.DefaultMaxBodySize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPFetcher{
		client:      client,
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Fetch performs a GET. Any HTTP status is a successful fetch; callers
// decide which statuses they accept.
func (f *HTTPFetcher) Fetch(ctx context.Context, request FetchRequest) (*FetchResponse, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, request.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpRequest.Header.Set("User-Agent", f.userAgent)
	if request.IfModifiedSince != "" {
		httpRequest.Header.Set("If-Modified-Since", request.IfModifiedSince)
	}
	if request.Capture {
		httpRequest.Header.Set(CaptureHeader, "1")
	}

	started := time.Now()
	response, err := f.client.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := netutil.ReadBody(response.Body, f.maxBodySize)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	f.logger.Debug("fetched",
		"url", request.URL,
		"final_url", response.Request.URL.String(),
		"status", response.StatusCode,
		"bytes", len(body),
		"duration", time.Since(started),
	)

	return &FetchResponse{
		URL:        response.Request.URL.String(),
		StatusCode: response.StatusCode,
		StatusLine: response.Proto + " " + response.Status,
		Headers:    headersFromHTTP(response.Header),
		Body:       body,
	}, nil
}
