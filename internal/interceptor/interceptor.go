// Package interceptor routes outgoing HTTP requests of an *http.Client into
// the in-process mock backend. Requests the backend has no route for are
// forwarded to the real transport untouched.
package interceptor

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"propmock/internal/platform/logging"
	httptransport "propmock/internal/transport/http"
)

// Options configures an Interceptor.
type Options struct {
	// Handler answers intercepted requests.
	Handler http.Handler
	// Base carries bypassed requests. Nil means the client's previous
	// transport, or http.DefaultTransport.
	Base http.RoundTripper
	// Hosts restricts interception to these hosts. Empty intercepts all.
	Hosts  []string
	Logger logging.Interface
}

// Interceptor is an http.RoundTripper in front of the mock handler.
type Interceptor struct {
	handler http.Handler
	base    http.RoundTripper
	hosts   map[string]struct{}
	logger  logging.Interface

	mu        sync.Mutex
	client    *http.Client
	previous  http.RoundTripper
	installed bool
}

// New creates an interceptor. It does nothing until installed or used as a
// transport directly.
func New(opts Options) *Interceptor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	var hosts map[string]struct{}
	if len(opts.Hosts) > 0 {
		hosts = make(map[string]struct{}, len(opts.Hosts))
		for _, h := range opts.Hosts {
			hosts[strings.ToLower(h)] = struct{}{}
		}
	}
	return &Interceptor{
		handler: opts.Handler,
		base:    opts.Base,
		hosts:   hosts,
		logger:  logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if !i.matchesHost(req.URL.Host) {
		return i.forward(req)
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	inner := req.Clone(req.Context())
	inner.Body = io.NopCloser(bytes.NewReader(body))
	inner.ContentLength = int64(len(body))
	inner.RequestURI = req.URL.RequestURI()
	if inner.Host == "" {
		inner.Host = req.URL.Host
	}

	rec := httptest.NewRecorder()
	i.handler.ServeHTTP(rec, inner)

	if rec.Header().Get(httptransport.BypassHeader) != "" {
		i.logger.Debug("bypass %s %s", req.Method, req.URL)
		out := req.Clone(req.Context())
		if body != nil {
			out.Body = io.NopCloser(bytes.NewReader(body))
			out.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
		}
		return i.forward(out)
	}

	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

func (i *Interceptor) matchesHost(host string) bool {
	if i.hosts == nil {
		return true
	}
	_, ok := i.hosts[strings.ToLower(host)]
	return ok
}

func (i *Interceptor) forward(req *http.Request) (*http.Response, error) {
	i.mu.Lock()
	base := i.base
	if base == nil {
		base = i.previous
	}
	i.mu.Unlock()
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// Install swaps the interceptor into client. Installing twice into the same
// client is a no-op; installing into another client moves it.
func (i *Interceptor) Install(client *http.Client) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.installed && i.client == client {
		return
	}
	if i.installed {
		i.client.Transport = i.previous
	}
	i.client = client
	i.previous = client.Transport
	client.Transport = i
	i.installed = true
}

// Uninstall restores the client's previous transport. Safe to call when
// not installed.
func (i *Interceptor) Uninstall() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.installed {
		return
	}
	if i.client.Transport == i {
		i.client.Transport = i.previous
	}
	i.client = nil
	i.previous = nil
	i.installed = false
}

// Installed reports whether the interceptor is active on a client.
func (i *Interceptor) Installed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installed
}
