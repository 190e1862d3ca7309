package work

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seantiz/taskloop/internal/engine"
)

// DefaultPollInterval is the delay between polls when none is given.
const DefaultPollInterval = time.Second

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// pendingStatuses are remote statuses that mean "keep polling".
var pendingStatuses = map[string]bool{
	"waiting":    true,
	"active":     true,
	"queued":     true,
	"generating": true,
	"pending":    true,
	"running":    true,
}

// HostAllowlist is the set of hosts the HTTP kinds may reach.
type HostAllowlist struct {
	any   bool
	hosts map[string]bool
}

// NewHostAllowlist builds an allowlist from host names. "*" allows any host.
func NewHostAllowlist(hosts []string) HostAllowlist {
	a := HostAllowlist{hosts: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch h {
		case "":
		case "*":
			a.any = true
		default:
			a.hosts[h] = true
		}
	}
	return a
}

// Check returns ErrInvalidParams unless rawURL is an http or https URL whose
// host is allowed.
func (a HostAllowlist) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrInvalidParams, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !a.any && !a.hosts[host] {
		return fmt.Errorf("%w: host %q is not allowed", ErrInvalidParams, host)
	}
	return nil
}

type fetchParams struct {
	URL    string `json:"url" validate:"required,url"`
	Method string `json:"method" validate:"omitempty,oneof=GET HEAD POST"`
}

// Fetch performs one HTTP request.
type Fetch struct {
	Client *http.Client
	URL    string
	Method string
}

// FetchResult is the value a Fetch task completes with.
type FetchResult struct {
	StatusCode  int    `json:"status_code"`
	Bytes       int    `json:"bytes"`
	ContentType string `json:"content_type,omitempty"`
}

func buildFetch(client *http.Client, hosts HostAllowlist, params json.RawMessage) (engine.Work, error) {
	var p fetchParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := hosts.Check(p.URL); err != nil {
		return nil, err
	}
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	return Fetch{Client: client, URL: p.URL, Method: method}, nil
}

// Name describes the work in the task table.
func (f Fetch) Name() string { return KindFetch + " " + f.URL }

// Do sends the request. Responses with a status of 400 or above fail.
func (f Fetch) Do(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, f.Method, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", f.URL, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch %s: HTTP %d", f.URL, resp.StatusCode)
	}
	return FetchResult{
		StatusCode:  resp.StatusCode,
		Bytes:       int(n),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

type pollParams struct {
	URL       string  `json:"url" validate:"required,url"`
	IntervalS float64 `json:"interval_s" validate:"gte=0,lte=600"`
}

// Poll requests URL until the JSON body reports a terminal "status". A
// "completed" status finishes the task with the decoded body; any status that
// is neither pending nor completed fails it. The task timeout bounds the
// polling.
type Poll struct {
	Client   *http.Client
	URL      string
	Interval time.Duration
}

func buildPoll(client *http.Client, hosts HostAllowlist, params json.RawMessage) (engine.Work, error) {
	var p pollParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := hosts.Check(p.URL); err != nil {
		return nil, err
	}
	interval := seconds(p.IntervalS)
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return Poll{Client: client, URL: p.URL, Interval: interval}, nil
}

// Name describes the work in the task table.
func (p Poll) Name() string { return KindPoll + " " + p.URL }

// Do polls until a terminal status or until ctx is done.
func (p Poll) Do(ctx context.Context) (any, error) {
	for {
		body, err := p.once(ctx)
		if err != nil {
			return nil, err
		}

		status, _ := body["status"].(string)
		switch {
		case strings.EqualFold(status, "completed"):
			return body, nil
		case pendingStatuses[strings.ToLower(status)]:
			if err := wait(ctx, p.Interval); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("generation failed with status %q", status)
		}
	}
}

func (p Poll) once(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll %s: HTTP %d", p.URL, resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return body, nil
}
