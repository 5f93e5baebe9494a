package interceptor

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httptransport "propmock/internal/transport/http"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// upstream records forwarded requests and answers 200 "upstream".
type upstream struct {
	calls  int
	bodies []string
}

func (u *upstream) transport() http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		u.calls++
		if req.Body != nil {
			b, _ := io.ReadAll(req.Body)
			u.bodies = append(u.bodies, string(b))
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("upstream")),
			Request:    req,
		}, nil
	})
}

func mockHandler(seen *[]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*seen = append(*seen, r.Method+" "+r.URL.Path+" "+string(b))
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(httptransport.BypassHeader, "1")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
}

func read(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestInterceptedRequestIsAnsweredLocally(t *testing.T) {
	var seen []string
	up := &upstream{}
	client := &http.Client{Transport: up.transport()}
	ic := New(Options{Handler: mockHandler(&seen)})
	ic.Install(client)

	resp, err := client.Post("http://app.local/api/leases", "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, read(t, resp))
	assert.Equal(t, []string{`POST /api/leases {"a":1}`}, seen)
	assert.Zero(t, up.calls)
}

func TestBypassForwardsToPreviousTransport(t *testing.T) {
	var seen []string
	up := &upstream{}
	client := &http.Client{Transport: up.transport()}
	ic := New(Options{Handler: mockHandler(&seen)})
	ic.Install(client)

	resp, err := client.Post("http://app.local/assets/upload", "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upstream", read(t, resp))
	assert.Equal(t, 1, up.calls)
	assert.Equal(t, []string{"payload"}, up.bodies)
}

func TestHostFilter(t *testing.T) {
	var seen []string
	up := &upstream{}
	ic := New(Options{Handler: mockHandler(&seen), Base: up.transport(), Hosts: []string{"App.Local"}})
	client := &http.Client{Transport: ic}

	resp, err := client.Get("http://elsewhere.example/api/leases")
	require.NoError(t, err)
	assert.Equal(t, "upstream", read(t, resp))
	assert.Empty(t, seen)

	resp, err = client.Get("http://app.local/api/leases")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	assert.Len(t, seen, 1)
}

func TestInstallUninstallIdempotent(t *testing.T) {
	var seen []string
	up := &upstream{}
	original := up.transport()
	client := &http.Client{Transport: original}
	ic := New(Options{Handler: mockHandler(&seen)})

	ic.Uninstall()
	assert.False(t, ic.Installed())

	ic.Install(client)
	ic.Install(client)
	assert.True(t, ic.Installed())
	assert.Same(t, ic, client.Transport)

	ic.Uninstall()
	ic.Uninstall()
	assert.False(t, ic.Installed())

	resp, err := client.Get("http://app.local/api/leases")
	require.NoError(t, err)
	assert.Equal(t, "upstream", read(t, resp))
	assert.Empty(t, seen)
}

func TestInstallMovesBetweenClients(t *testing.T) {
	var seen []string
	first := &http.Client{}
	second := &http.Client{}
	ic := New(Options{Handler: mockHandler(&seen)})

	ic.Install(first)
	ic.Install(second)
	assert.Nil(t, first.Transport)
	assert.Same(t, ic, second.Transport)

	ic.Uninstall()
	assert.Nil(t, second.Transport)
}
