// Package mailgun sends transactional email through the Mailgun messages API.
package mailgun

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/outreach-pipeline/internal/apiclient"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
)

const apiName = "mailgun"

// Region base URLs.
const (
	BaseURLUS = "https://api.mailgun.net/v3"
	BaseURLEU = "https://api.eu.mailgun.net/v3"
)

// Config controls the sender.
type Config struct {
	APIKey      string
	Domain      string
	Region      string
	BaseURL     string
	From        string
	ReplyTo     string
	TrackOpens  bool
	TrackClicks bool
	TestMode    bool
	Tags        []string
	Timeout     time.Duration
}

// Message is one outbound email.
type Message struct {
	To        string
	Subject   string
	Text      string
	HTML      string
	Tags      []string
	Variables map[string]string
}

// Result is the provider's acceptance receipt.
type Result struct {
	ID      string
	Message string
}

// Client posts messages to Mailgun.
type Client struct {
	cfg      Config
	endpoint string
	api      *apiclient.Client
}

// New builds a Client.
func New(cfg Config, limiter apiclient.Waiter) (*Client, error) {
	switch {
	case strings.TrimSpace(cfg.APIKey) == "":
		return nil, apperr.Missing("mailgun.api_key")
	case strings.TrimSpace(cfg.Domain) == "":
		return nil, apperr.Missing("mailgun.domain")
	case strings.TrimSpace(cfg.From) == "":
		return nil, apperr.Missing("mailgun.from")
	}
	base := cfg.BaseURL
	if base == "" {
		switch strings.ToLower(cfg.Region) {
		case "", "us":
			base = BaseURLUS
		case "eu":
			base = BaseURLEU
		default:
			return nil, &apperr.ConfigurationError{Field: "mailgun.region", Reason: fmt.Sprintf("unknown region %q", cfg.Region)}
		}
	}
	return &Client{
		cfg:      cfg,
		endpoint: fmt.Sprintf("%s/%s/messages", strings.TrimRight(base, "/"), url.PathEscape(cfg.Domain)),
		api:      apiclient.New(apiName, cfg.Timeout, limiter),
	}, nil
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send submits msg. A 4xx rejection is returned as a ValidationError, a 401
// or 403 as a ConfigurationError and throttling or 5xx as a TransientError.
func (c *Client) Send(ctx context.Context, msg Message) (Result, error) {
	if !strings.Contains(msg.To, "@") {
		return Result{}, apperr.Invalid("recipient", msg.To, "not an email address")
	}
	form := c.form(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", c.cfg.APIKey)

	var resp sendResponse
	if err := c.api.Do(ctx, "send", req, &resp); err != nil {
		return Result{}, err
	}
	if resp.ID == "" {
		return Result{}, apperr.Invalid("mailgun response", resp.Message, "missing message id")
	}
	return Result{ID: strings.Trim(resp.ID, "<>"), Message: resp.Message}, nil
}

func (c *Client) form(msg Message) url.Values {
	form := url.Values{}
	form.Set("from", c.cfg.From)
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	form.Set("text", msg.Text)
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}
	if c.cfg.ReplyTo != "" {
		form.Set("h:Reply-To", c.cfg.ReplyTo)
	}
	for _, tag := range append(append([]string(nil), c.cfg.Tags...), msg.Tags...) {
		form.Add("o:tag", tag)
	}
	form.Set("o:tracking", yesNo(c.cfg.TrackOpens || c.cfg.TrackClicks))
	form.Set("o:tracking-opens", yesNo(c.cfg.TrackOpens))
	form.Set("o:tracking-clicks", yesNo(c.cfg.TrackClicks))
	if c.cfg.TestMode {
		form.Set("o:testmode", "yes")
	}
	keys := make([]string, 0, len(msg.Variables))
	for k := range msg.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("v:"+k, msg.Variables[k])
	}
	return form
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
