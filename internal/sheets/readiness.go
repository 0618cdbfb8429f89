package sheets

import (
	"context"
	"net/http"
	"time"
)

// ReadinessObserver blocks until an external surface the client depends on
// is available.
type ReadinessObserver interface {
	Await(ctx context.Context) error
}

// ReadinessFunc adapts a function to ReadinessObserver.
type ReadinessFunc func(ctx context.Context) error

// Await implements ReadinessObserver.
func (f ReadinessFunc) Await(ctx context.Context) error { return f(ctx) }

// Ready is an observer that resolves immediately.
var Ready ReadinessObserver = ReadinessFunc(func(context.Context) error { return nil })

// Probe reports whether a surface is available right now.
type Probe func(ctx context.Context) bool

// PollingObserver polls a probe until it succeeds. A zero Timeout polls
// until the context ends.
type PollingObserver struct {
	Surface  string
	Probe    Probe
	Interval time.Duration
	Timeout  time.Duration
}

// Await implements ReadinessObserver.
func (o *PollingObserver) Await(ctx context.Context) error {
	if o.Probe(ctx) {
		return nil
	}

	interval := o.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return &ScriptLoadError{Surface: o.Surface, Err: ctx.Err()}
		case <-ticker.C:
			if o.Probe(ctx) {
				return nil
			}
		}
	}
}

// HTTPProbe treats a surface as available once url answers with a
// non-5xx status.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError
	}
}

// Default surfaces polled before the client is loaded.
const (
	APISurfaceURL      = "https://sheets.googleapis.com/$discovery/rest?version=v4"
	IdentitySurfaceURL = "https://accounts.google.com/.well-known/openid-configuration"
)

// GoogleObservers returns the production observers for the spreadsheet API
// surface and the identity surface.
func GoogleObservers(client *http.Client, interval, timeout time.Duration) []ReadinessObserver {
	return []ReadinessObserver{
		&PollingObserver{Surface: "Google API surface", Probe: HTTPProbe(client, APISurfaceURL), Interval: interval, Timeout: timeout},
		&PollingObserver{Surface: "Google Identity Services", Probe: HTTPProbe(client, IdentitySurfaceURL), Interval: interval, Timeout: timeout},
	}
}
