package work

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/seantiz/taskloop/internal/engine"
)

// Built-in kind names.
const (
	KindSleep = "sleep"
	KindFail  = "fail"
	KindFetch = "fetch"
	KindPoll  = "poll"
)

// DefaultRegistry returns a registry with the built-in kinds. The HTTP kinds
// are only registered when allowedHosts is not empty, and only reach the
// hosts it lists ("*" allows any host). client is used by the HTTP kinds;
// nil means http.DefaultClient.
func DefaultRegistry(client *http.Client, allowedHosts []string) *Registry {
	if client == nil {
		client = http.DefaultClient
	}
	r := NewRegistry()
	r.Register(KindSleep, factoryFunc{build: buildSleep, info: KindInfo{
		Description: "Waits for a number of seconds, then returns a value.",
		Params:      []string{"seconds", "result"},
	}})
	r.Register(KindFail, factoryFunc{build: buildFail, info: KindInfo{
		Description: "Waits for a number of seconds, then fails with a message.",
		Params:      []string{"seconds", "message"},
	}})
	if len(allowedHosts) == 0 {
		return r
	}

	hosts := NewHostAllowlist(allowedHosts)
	r.Register(KindFetch, factoryFunc{
		build: func(p json.RawMessage) (engine.Work, error) { return buildFetch(client, hosts, p) },
		info: KindInfo{
			Description: "Performs one HTTP request and returns its status and size.",
			Params:      []string{"url", "method"},
		},
	})
	r.Register(KindPoll, factoryFunc{
		build: func(p json.RawMessage) (engine.Work, error) { return buildPoll(client, hosts, p) },
		info: KindInfo{
			Description: "Polls a URL until the returned status is completed or failed.",
			Params:      []string{"url", "interval_s"},
		},
	})
	return r
}

type sleepParams struct {
	Seconds float64 `json:"seconds" validate:"gte=0,lte=3600"`
	Result  any     `json:"result"`
}

// Sleep waits for Duration and returns Result.
type Sleep struct {
	Duration time.Duration
	Result   any
}

func buildSleep(params json.RawMessage) (engine.Work, error) {
	var p sleepParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return Sleep{Duration: seconds(p.Seconds), Result: p.Result}, nil
}

// Name describes the work in the task table.
func (Sleep) Name() string { return KindSleep }

// Do waits, honouring cancellation.
func (s Sleep) Do(ctx context.Context) (any, error) {
	if err := wait(ctx, s.Duration); err != nil {
		return nil, err
	}
	return s.Result, nil
}

type failParams struct {
	Seconds float64 `json:"seconds" validate:"gte=0,lte=3600"`
	Message string  `json:"message"`
}

// Fail waits for Duration and returns an error carrying Message.
type Fail struct {
	Duration time.Duration
	Message  string
}

func buildFail(params json.RawMessage) (engine.Work, error) {
	p := failParams{Message: "work failed"}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return Fail{Duration: seconds(p.Seconds), Message: p.Message}, nil
}

// Name describes the work in the task table.
func (Fail) Name() string { return KindFail }

// Do waits, then fails.
func (f Fail) Do(ctx context.Context) (any, error) {
	if err := wait(ctx, f.Duration); err != nil {
		return nil, err
	}
	return nil, errors.New(f.Message)
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
