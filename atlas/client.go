// Copyright 2026 The ProbeFilters Authors
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/nicholaskernan/probe-filters/utils/httputils"
)

// DefaultBaseURL is the root of the RIPE Atlas REST API.
const DefaultBaseURL = "https://atlas.ripe.net/api/v2"

const (
	defaultPageSize          = 200
	defaultRequestsPerSecond = 4
	defaultFetchMaxProcs     = 4
	maxAttempts              = 3
	maxErrorBodySize         = 4 * 1024
)

// ClientOptions configuration for the Atlas client.
type ClientOptions struct {
	// BaseURL of the probe directory API. Defaults to the public RIPE Atlas API.
	BaseURL string

	// UserAgent is the User-Agent header to use in HTTP requests
	UserAgent string

	// APIKey authenticates requests when set. Reads work anonymously but get
	// a lower rate limit.
	APIKey string

	// PageSize used for paginated listings
	PageSize int

	// RequestsPerSecond paces outgoing requests
	RequestsPerSecond float64

	// FetchMaxProcs caps how many by-id fetches run in parallel
	FetchMaxProcs int

	// Enables light tracing of HTTP requests and responses
	EnableHTTPTrace bool

	// Enables full HTTP body tracing
	EnableHTTPBodyTrace bool

	// Dry run: bulk fetches stop after the first page
	DryRun bool
}

// FetchMetrics tracks statistics about probe directory fetches.
type FetchMetrics struct {
	Requests int // HTTP requests issued, retries included
	Pages    int // pages traversed
	Probes   int // probe records received
	Skipped  int // probes skipped after fetch failures
	Retries  int // requests that had to be repeated
}

// Merge combines two FetchMetrics.
func (f *FetchMetrics) Merge(o *FetchMetrics) *FetchMetrics {
	f.Requests += o.Requests
	f.Pages += o.Pages
	f.Probes += o.Probes
	f.Skipped += o.Skipped
	f.Retries += o.Retries

	return f
}

// Client talks to the RIPE Atlas probe directory.
type Client struct {
	client  *http.Client
	options *ClientOptions
	Metrics FetchMetrics
}

// NewClient creates a new probe directory client with the provided options.
func NewClient(options *ClientOptions) *Client {
	if options == nil {
		options = &ClientOptions{}
	}

	if options.BaseURL == "" {
		options.BaseURL = DefaultBaseURL
	}

	if options.PageSize <= 0 {
		options.PageSize = defaultPageSize
	}

	if options.RequestsPerSecond <= 0 {
		options.RequestsPerSecond = defaultRequestsPerSecond
	}

	if options.FetchMaxProcs <= 0 {
		options.FetchMaxProcs = defaultFetchMaxProcs
	}

	var httpLogWriter io.Writer
	if options.EnableHTTPTrace {
		httpLogWriter = os.Stderr
	}

	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		MaxConnsPerHost:       4,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		DisableKeepAlives:     false,
		DisableCompression:    false,
	}

	loggingTransport := &httputils.LoggingRoundTripper{
		Writer:    httpLogWriter,
		DumpBody:  options.EnableHTTPBodyTrace,
		Transport: transport,
	}

	throttledTransport := httputils.NewThrottleRoundTripper(
		loggingTransport,
		options.RequestsPerSecond,
	)

	userAgent := "probe-filters/unknown"
	if options.UserAgent != "" {
		userAgent = options.UserAgent
	}

	headers := map[string]string{
		"User-Agent": userAgent,
		"Accept":     "application/json",
	}
	if options.APIKey != "" {
		headers["Authorization"] = "Key " + options.APIKey
	}

	headerTransport := &httputils.AppendRequestHeadersRoundTripper{
		Headers:   headers,
		Transport: throttledTransport,
	}

	client := &http.Client{
		Timeout:   60 * time.Second,
		Transport: headerTransport,
	}

	return &Client{
		client:  client,
		options: options,
	}
}

// getJSON fetches rawURL and decodes the response into out, retrying
// retryable failures with exponential backoff. Per-request metrics go into m
// so that parallel fetches can merge them afterwards without racing.
func (c *Client) getJSON(rawURL string, out any, m *FetchMetrics) error {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			m.Retries++

			time.Sleep(retryDelay(lastErr, attempt))
		}

		m.Requests++

		resp, err := c.client.Get(rawURL)
		if err != nil {
			lastErr = &APIError{Type: ErrorTypeNetwork, Message: "executing request", Err: err}
			if isTimeout(err) {
				lastErr = &APIError{Type: ErrorTypeTimeout, Message: "executing request", Err: err}
			}

			continue
		}

		if resp.StatusCode != http.StatusOK {
			detail := readErrorDetail(resp.Body)
			lastErr = fmt.Errorf("GET %s: %w", rawURL, ClassifyHTTPError(resp.StatusCode, detail))

			_ = resp.Body.Close()

			if !IsRetryable(lastErr) {
				return lastErr
			}

			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		if cerr := resp.Body.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing resp.Body: %w", cerr))
		}

		if err != nil {
			return fmt.Errorf("decoding %s: %w", rawURL, err)
		}

		return nil
	}

	return lastErr
}

// retryDelay picks how long to wait before the next attempt: the server's
// Retry-After wish when it sent one, exponential backoff with jitter
// otherwise.
func retryDelay(err error, attempt int) time.Duration {
	if IsRateLimitError(err) {
		// The directory asks for a full minute on anonymous clients; cap our
		// patience well below that and let the next attempt decide.
		return 5 * time.Second
	}

	backoff := 500 * time.Millisecond << (attempt - 1)
	jitter := time.Duration(rand.Float64() * float64(backoff) / 2)

	return backoff + jitter
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }

	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

// readErrorDetail extracts the API's error message from a failed response
// body, falling back to the raw text.
func readErrorDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil || len(body) == 0 {
		return ""
	}

	var envelope struct {
		Error struct {
			Detail string `json:"detail"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Detail != "" {
		return envelope.Error.Detail
	}

	return string(body)
}

// listURL builds a probe listing URL with the given filters.
func (c *Client) listURL(params url.Values) string {
	if params.Get("page_size") == "" {
		params.Set("page_size", strconv.Itoa(c.options.PageSize))
	}

	return c.options.BaseURL + "/probes/?" + params.Encode()
}

// probeURL builds the URL for a single probe.
func (c *Client) probeURL(id int) string {
	return fmt.Sprintf("%s/probes/%d/", c.options.BaseURL, id)
}
