// Package website finds contact addresses on a business's own site by
// crawling the homepage and its contact/about pages.
package website

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

const (
	mailtoConfidence = 60
	textConfidence   = 50
)

var (
	emailInText = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	// Asset names such as logo@2x.png look like addresses.
	assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}
	followHints   = []string{"contact", "about", "team", "connect"}
)

// Config controls crawl behavior.
type Config struct {
	UserAgent         string
	RespectRobots     bool
	Timeout           time.Duration
	MaxPages          int
	PreferredPrefixes []string
}

// Candidate is one address seen on the site.
type Candidate struct {
	Email      string
	Confidence int
	SourceURL  string
}

// Finder crawls websites with colly.
type Finder struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Finder.
func New(cfg Config) *Finder {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.MaxDepth(2))
	c.WithTransport(newHTTPTransport())
	return &Finder{cfg: cfg, base: c}
}

// crawlState collects results from collector callbacks.
type crawlState struct {
	mu      sync.Mutex
	visited int
	seen    map[string]Candidate
	err     error
}

func (s *crawlState) add(email, source string, confidence int) {
	email = store.NormalizeEmail(email)
	if !store.ValidEmailFormat(email) || isAsset(email) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.seen[email]; ok && prev.Confidence >= confidence {
		return
	}
	s.seen[email] = Candidate{Email: email, Confidence: confidence, SourceURL: source}
}

// Find returns the addresses found on the site, best first. A site that
// cannot be fetched returns an error; a site without addresses returns none.
func (f *Finder) Find(ctx context.Context, site string) ([]Candidate, error) {
	start, err := normalizeSite(site)
	if err != nil {
		return nil, err
	}
	state := &crawlState{seen: make(map[string]Candidate)}
	collector := f.buildCollector(start.Hostname(), state)
	if err := f.runCollector(ctx, collector, start.String()); err != nil {
		return nil, err
	}
	if state.err != nil && len(state.seen) == 0 {
		return nil, fmt.Errorf("crawl %s: %w", start.Host, state.err)
	}
	return f.rank(start.Hostname(), state.seen), nil
}

func (f *Finder) buildCollector(host string, state *crawlState) *colly.Collector {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.AllowedDomains = []string{host, "www." + strings.TrimPrefix(host, "www.")}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.visited >= f.cfg.MaxPages {
			r.Abort()
			return
		}
		state.visited++
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		page := e.Request.URL.String()
		e.DOM.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			addr := strings.TrimPrefix(href, "mailto:")
			addr, _, _ = strings.Cut(addr, "?")
			if decoded, err := url.QueryUnescape(addr); err == nil {
				addr = decoded
			}
			state.add(addr, page, mailtoConfidence)
		})
		e.DOM.Find("script, style, noscript").Remove()
		for _, addr := range emailInText.FindAllString(e.DOM.Text(), -1) {
			state.add(addr, page, textConfidence)
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if strings.HasPrefix(href, "mailto:") || !shouldFollow(href, e.Text) {
			return
		}
		_ = e.Request.Visit(href)
	})

	collector.OnError(func(r *colly.Response, err error) {
		state.mu.Lock()
		defer state.mu.Unlock()
		if state.err == nil {
			state.err = fmt.Errorf("fetch %s: %w", r.Request.URL, err)
		}
	})
	return collector
}

func (f *Finder) runCollector(ctx context.Context, collector *colly.Collector, start string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(start)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("website crawl canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("website visit failed: %w", err)
		}
		return nil
	}
}

// rank orders same-domain addresses first, then preferred prefixes in list
// order, then confidence.
func (f *Finder) rank(host string, seen map[string]Candidate) []Candidate {
	host = strings.TrimPrefix(host, "www.")
	out := make([]Candidate, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	prefixRank := func(email string) int {
		local, _, _ := strings.Cut(email, "@")
		for i, p := range f.cfg.PreferredPrefixes {
			if local == p {
				return i
			}
		}
		return len(f.cfg.PreferredPrefixes)
	}
	sameDomain := func(email string) bool {
		_, domain, _ := strings.Cut(email, "@")
		return domain == host || strings.HasSuffix(domain, "."+host)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sa, sb := sameDomain(a.Email), sameDomain(b.Email); sa != sb {
			return sa
		}
		if pa, pb := prefixRank(a.Email), prefixRank(b.Email); pa != pb {
			return pa < pb
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Email < b.Email
	})
	return out
}

func normalizeSite(site string) (*url.URL, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return nil, fmt.Errorf("website is empty")
	}
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	u, err := url.Parse(site)
	if err != nil {
		return nil, fmt.Errorf("parse website %q: %w", site, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("website %q has no host", site)
	}
	return u, nil
}

func shouldFollow(href, text string) bool {
	probe := strings.ToLower(href + " " + text)
	for _, hint := range followHints {
		if strings.Contains(probe, hint) {
			return true
		}
	}
	return false
}

func isAsset(email string) bool {
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(email, suffix) {
			return true
		}
	}
	return false
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
