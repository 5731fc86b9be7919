// Package apiclient holds the HTTP plumbing shared by the places, hunter,
// mailgun and webhook clients: throttling, status classification, metrics and
// JSON decoding.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
)

const maxBody = 4 << 20

// Waiter throttles outbound calls; *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, api string) error
}

// Client executes requests against one named external API.
type Client struct {
	API       string
	HTTP      *http.Client
	Limiter   Waiter
	UserAgent string
}

// New builds a Client with the given timeout.
func New(api string, timeout time.Duration, limiter Waiter) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		API:       api,
		HTTP:      &http.Client{Timeout: timeout},
		Limiter:   limiter,
		UserAgent: "outreach-pipeline/1.0",
	}
}

// Do sends req and decodes a 2xx JSON body into out (when out is non-nil).
// Non-2xx responses are classified with apperr.FromStatus; transport failures
// become TransientErrors unless the context ended.
func (c *Client) Do(ctx context.Context, op string, req *http.Request, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx, c.API); err != nil {
			return err
		}
	}
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	start := time.Now()
	resp, err := c.HTTP.Do(req.WithContext(ctx))
	if err != nil {
		metrics.ObserveAPIRequest(c.API, 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", c.API, op, ctxErr)
		}
		return &apperr.TransientError{API: c.API, Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.ObserveAPIRequest(c.API, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &apperr.TransientError{API: c.API, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.FromStatus(c.API, op, resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return apperr.Invalid(c.API+" response", "", "malformed JSON: "+err.Error())
		}
		return apperr.Invalid(c.API+" response", "", err.Error())
	}
	return nil
}
