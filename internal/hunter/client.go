// Package hunter wraps the Hunter.io domain-search, email-verifier and account
// endpoints.
package hunter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/outreach-pipeline/internal/apiclient"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

const (
	apiName        = "hunter"
	defaultBaseURL = "https://api.hunter.io/v2"
	maxConfidence  = 100
	prefixBoost    = 15
	genericBoost   = 10
)

// DefaultPreferredPrefixes lists business mailbox prefixes in order of preference.
var DefaultPreferredPrefixes = []string{
	"info", "contact", "sales", "service", "office",
	"admin", "support", "hello", "mail", "business",
}

// Config controls the Hunter client.
type Config struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	SearchLimit       int
	PreferredPrefixes []string
}

// Candidate is one address found for a domain, with its boosted confidence.
type Candidate struct {
	Email      string
	Confidence int
	Type       string
}

// Verdict is the email-verifier result string.
type Verdict string

// Verifier results.
const (
	VerdictDeliverable   Verdict = "deliverable"
	VerdictRisky         Verdict = "risky"
	VerdictUndeliverable Verdict = "undeliverable"
	VerdictInvalid       Verdict = "invalid"
	VerdictUnknown       Verdict = "unknown"
)

// Status maps a verdict onto a contact status. Unknown verdicts stay
// unvalidated so a later run can retry them.
func (v Verdict) Status() store.ContactStatus {
	switch v {
	case VerdictDeliverable, VerdictRisky:
		return store.ContactValid
	case VerdictUndeliverable, VerdictInvalid:
		return store.ContactInvalid
	default:
		return store.ContactUnvalidated
	}
}

// Client calls Hunter.
type Client struct {
	cfg Config
	api *apiclient.Client
}

// New builds a Client.
func New(cfg Config, limiter apiclient.Waiter) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.Missing("hunter.api_key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 10
	}
	if len(cfg.PreferredPrefixes) == 0 {
		cfg.PreferredPrefixes = DefaultPreferredPrefixes
	}
	return &Client{cfg: cfg, api: apiclient.New(apiName, cfg.Timeout, limiter)}, nil
}

type domainSearchResponse struct {
	Data struct {
		Domain string `json:"domain"`
		Emails []struct {
			Value      string `json:"value"`
			Type       string `json:"type"`
			Confidence int    `json:"confidence"`
		} `json:"emails"`
	} `json:"data"`
}

// DomainSearch lists candidate addresses for a website domain or, when domain
// is empty, a company name. Results are ordered best first.
func (c *Client) DomainSearch(ctx context.Context, domain, company string) ([]Candidate, error) {
	params := url.Values{}
	switch {
	case domain != "":
		params.Set("domain", domain)
	case company != "":
		params.Set("company", company)
	default:
		return nil, apperr.Invalid("domain", "", "website or company name required")
	}
	params.Set("limit", strconv.Itoa(c.cfg.SearchLimit))

	var resp domainSearchResponse
	if err := c.get(ctx, "domain-search", params, &resp); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.Data.Emails))
	for _, e := range resp.Data.Emails {
		email := store.NormalizeEmail(e.Value)
		if email == "" {
			continue
		}
		out = append(out, Candidate{
			Email:      email,
			Type:       e.Type,
			Confidence: BoostConfidence(email, e.Type, e.Confidence, c.cfg.PreferredPrefixes),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

type verifierResponse struct {
	Data struct {
		Result string `json:"result"`
		Status string `json:"status"`
		Score  int    `json:"score"`
	} `json:"data"`
}

// Verify asks the email-verifier for a deliverability verdict.
func (c *Client) Verify(ctx context.Context, email string) (Verdict, error) {
	params := url.Values{}
	params.Set("email", email)

	var resp verifierResponse
	if err := c.get(ctx, "email-verifier", params, &resp); err != nil {
		return VerdictUnknown, err
	}
	switch v := Verdict(strings.ToLower(resp.Data.Result)); v {
	case VerdictDeliverable, VerdictRisky, VerdictUndeliverable:
		return v, nil
	}
	// Newer responses put the verdict in status ("valid", "invalid", "accept_all", ...).
	switch strings.ToLower(resp.Data.Status) {
	case "valid":
		return VerdictDeliverable, nil
	case "accept_all", "webmail":
		return VerdictRisky, nil
	case "invalid", "disposable":
		return VerdictInvalid, nil
	default:
		return VerdictUnknown, nil
	}
}

type accountResponse struct {
	Data struct {
		Requests struct {
			Searches struct {
				Used      int `json:"used"`
				Available int `json:"available"`
			} `json:"searches"`
			Verifications struct {
				Used      int `json:"used"`
				Available int `json:"available"`
			} `json:"verifications"`
		} `json:"requests"`
	} `json:"data"`
}

// Credits is the remaining monthly quota.
type Credits struct {
	SearchesUsed           int
	SearchesAvailable      int
	VerificationsUsed      int
	VerificationsAvailable int
}

// Credits reads the account quota.
func (c *Client) Credits(ctx context.Context) (Credits, error) {
	var resp accountResponse
	if err := c.get(ctx, "account", url.Values{}, &resp); err != nil {
		return Credits{}, err
	}
	r := resp.Data.Requests
	return Credits{
		SearchesUsed:           r.Searches.Used,
		SearchesAvailable:      r.Searches.Available,
		VerificationsUsed:      r.Verifications.Used,
		VerificationsAvailable: r.Verifications.Available,
	}, nil
}

func (c *Client) get(ctx context.Context, op string, params url.Values, out any) error {
	params.Set("api_key", c.cfg.APIKey)
	endpoint := fmt.Sprintf("%s/%s?%s", c.cfg.BaseURL, op, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	return c.api.Do(ctx, op, req, out)
}

// BoostConfidence adds the preferred-prefix and generic-mailbox bonuses,
// capped at 100.
func BoostConfidence(email, kind string, confidence int, prefixes []string) int {
	local, _, _ := strings.Cut(email, "@")
	for _, p := range prefixes {
		if strings.Contains(local, p) {
			confidence += prefixBoost
			break
		}
	}
	if kind == "generic" {
		confidence += genericBoost
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence
}

// DomainFromWebsite extracts the bare host from a website URL, dropping a
// leading "www.".
func DomainFromWebsite(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
