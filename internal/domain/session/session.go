// Package session is the client half of the simulated auth flow. It keeps
// the tokens an app holds, persists them to a durable slot and talks to the
// auth endpoints of the mock backend over an ordinary *http.Client.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"propmock/internal/domain/auth"
	"propmock/internal/platform/logging"
	"propmock/internal/platform/storage"
)

// State is the client-side session state.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "anonymous"
	}
}

// DefaultKey is the slot key holding the persisted session fields.
const DefaultKey = "propmock:session"

var (
	ErrNotAuthenticated = errors.New("session: not authenticated")
	ErrExpired          = errors.New("session: access token expired")
	ErrNoRefreshToken   = errors.New("session: no refresh token")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session: backend answered %d: %s", e.Status, e.Message)
}

// Data are the persisted session fields.
type Data struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	User         map[string]any `json:"user"`
}

// Navigator receives the navigation side effect of a successful login.
type Navigator interface {
	Navigate(destination string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(destination string)

func (f NavigatorFunc) Navigate(destination string) { f(destination) }

// Options configures a Session.
type Options struct {
	Client *http.Client
	// BaseURL prefixes every request path, e.g. "http://app.local".
	BaseURL   string
	Slot      storage.Slot
	Key       string
	Navigator Navigator
	Clock     func() time.Time
	Logger    logging.Interface
}

// Session is safe for concurrent use; operations are serialized.
type Session struct {
	client    *http.Client
	baseURL   string
	slot      storage.Slot
	key       string
	navigator Navigator
	now       func() time.Time
	logger    logging.Interface

	mu    sync.Mutex
	state State
	data  Data
}

// New creates an anonymous session. Call Restore to pick up persisted fields.
func New(opts Options) (*Session, error) {
	if opts.Client == nil {
		return nil, errors.New("session requires an http client")
	}
	s := &Session{
		client:    opts.Client,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		slot:      opts.Slot,
		key:       opts.Key,
		navigator: opts.Navigator,
		now:       opts.Clock,
		logger:    opts.Logger,
	}
	if s.slot == nil {
		s.slot = storage.NewMemory()
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.navigator == nil {
		s.navigator = NavigatorFunc(func(string) {})
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s, nil
}

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Data returns a copy of the current session fields.
func (s *Session) Data() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data
	if d.User != nil {
		d.User = make(map[string]any, len(s.data.User))
		for k, v := range s.data.User {
			d.User[k] = v
		}
	}
	return d
}

// Restore loads persisted fields. A missing or unreadable slot leaves the
// session anonymous.
func (s *Session) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.slot.Load(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		s.reset()
		return nil
	}
	if err != nil {
		s.reset()
		return fmt.Errorf("restore session: %w", err)
	}
	var d Data
	if err := sonic.Unmarshal(raw, &d); err != nil || d.AccessToken == "" {
		s.logger.Warn("discarding unreadable session: %v", err)
		s.clear(ctx)
		return nil
	}
	s.data = d
	s.state = s.stateFor(d)
	return nil
}

// Login posts credentials, persists the grant and navigates to destination.
// A failure clears an anonymous or expired session and leaves an
// authenticated one untouched.
func (s *Session) Login(ctx context.Context, creds auth.Credentials, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, err := s.postGrant(ctx, "/api/auth/login", creds, "")
	if err != nil {
		if s.state != StateAuthenticated {
			s.clear(ctx)
		}
		return err
	}
	if err := s.adopt(ctx, grant); err != nil {
		return err
	}
	s.navigator.Navigate(destination)
	return nil
}

// Validate checks the access token locally, then asks the backend who the
// token belongs to. An expired token moves the session to StateExpired; a
// rejected one clears it.
func (s *Session) Validate(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateAnonymous:
		return nil, ErrNotAuthenticated
	case StateExpired:
		return nil, ErrExpired
	}
	if !s.now().Before(s.data.ExpiresAt) {
		s.state = StateExpired
		return nil, ErrExpired
	}

	resp, err := s.send(ctx, http.MethodGet, "/api/users/me", nil, s.data.AccessToken)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		apiErr := readAPIError(resp)
		s.clear(ctx)
		return nil, apiErr
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var user map[string]any
	if err := decodeBody(resp, &user); err != nil {
		return nil, err
	}
	s.data.User = user
	s.persist(ctx)
	return user, nil
}

// Refresh exchanges the refresh token for a new grant. Any failure clears
// the session.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.data.RefreshToken == "" {
		s.clear(ctx)
		return ErrNoRefreshToken
	}
	grant, err := s.postGrant(ctx, "/api/auth/refresh", map[string]string{"refresh_token": s.data.RefreshToken}, "")
	if err != nil {
		s.clear(ctx)
		return err
	}
	return s.adopt(ctx, grant)
}

// Logout tells the backend to revoke the tokens and clears local state
// whether or not the call succeeded.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.AccessToken != "" || s.data.RefreshToken != "" {
		body := map[string]string{"refresh_token": s.data.RefreshToken}
		resp, err := s.send(ctx, http.MethodPost, "/api/auth/logout", body, s.data.AccessToken)
		if err != nil {
			s.logger.Warn("logout call failed: %v", err)
		} else {
			if resp.StatusCode >= http.StatusBadRequest {
				s.logger.Warn("logout answered %d", resp.StatusCode)
			}
			resp.Body.Close()
		}
	}
	s.clear(ctx)
	return nil
}

// SwitchIdentity replaces the session with the first user holding role. On
// failure the previous session is left untouched.
func (s *Session) SwitchIdentity(ctx context.Context, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintForRole(ctx, "/api/auth/switch", role)
}

// AutoLogin signs in as the first user holding role unless a session is
// already authenticated.
func (s *Session) AutoLogin(ctx context.Context, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated {
		return nil
	}
	return s.mintForRole(ctx, "/api/auth/auto-login", role)
}

func (s *Session) mintForRole(ctx context.Context, path, role string) error {
	grant, err := s.postGrant(ctx, path, map[string]string{"role": role}, "")
	if err != nil {
		return err
	}
	return s.adopt(ctx, grant)
}

// Do sends req with the bearer token attached. An expired session is
// refreshed first, and a 401 answer triggers one refresh and one retry.
// Requests with a body must set GetBody to be retried.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	s.mu.Lock()
	if s.state == StateAuthenticated && !s.now().Before(s.data.ExpiresAt) {
		s.state = StateExpired
	}
	if s.state == StateExpired {
		if err := s.refreshLocked(ctx); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	token := s.data.AccessToken
	s.mu.Unlock()

	resp, err := s.client.Do(withBearer(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, err
	}

	retry, err := rewind(req)
	if err != nil {
		return resp, nil
	}
	resp.Body.Close()

	s.mu.Lock()
	if s.data.AccessToken == token {
		err = s.refreshLocked(ctx)
	}
	token = s.data.AccessToken
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.client.Do(withBearer(retry, token))
}

func withBearer(req *http.Request, token string) *http.Request {
	if token == "" {
		return req
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", auth.TokenType+" "+token)
	return out
}

func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}

func (s *Session) adopt(ctx context.Context, grant auth.Grant) error {
	claims, err := auth.Peek(grant.AccessToken)
	if err != nil {
		return fmt.Errorf("unreadable access token: %w", err)
	}
	s.data = Data{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    claims.ExpiresAt,
		User:         grant.User,
	}
	s.state = s.stateFor(s.data)
	s.persist(ctx)
	return nil
}

func (s *Session) stateFor(d Data) State {
	if d.AccessToken == "" {
		return StateAnonymous
	}
	if !s.now().Before(d.ExpiresAt) {
		return StateExpired
	}
	return StateAuthenticated
}

func (s *Session) persist(ctx context.Context) {
	raw, err := sonic.Marshal(s.data)
	if err != nil {
		s.logger.Error("encode session: %v", err)
		return
	}
	if err := s.slot.Save(ctx, s.key, raw); err != nil {
		s.logger.Error("persist session: %v", err)
	}
}

func (s *Session) reset() {
	s.data = Data{}
	s.state = StateAnonymous
}

func (s *Session) clear(ctx context.Context) {
	s.reset()
	if err := s.slot.Delete(ctx, s.key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("clear session: %v", err)
	}
}

func (s *Session) postGrant(ctx context.Context, path string, body any, token string) (auth.Grant, error) {
	resp, err := s.send(ctx, http.MethodPost, path, body, token)
	if err != nil {
		return auth.Grant{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.Grant{}, readAPIError(resp)
	}
	var grant auth.Grant
	if err := decodeBody(resp, &grant); err != nil {
		return auth.Grant{}, err
	}
	return grant, nil
}

func (s *Session) send(ctx context.Context, method, path string, body any, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", auth.TokenType+" "+token)
	}
	return s.client.Do(req)
}

func decodeBody(resp *http.Response, v any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s response: %w", resp.Request.URL.Path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(resp.Body)
	if err := sonic.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}
