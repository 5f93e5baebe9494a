// Package auth simulates the backend half of a bearer-token session: it
// mints, decodes, expires, refreshes and revokes tokens bound to user records
// in the document store.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"propmock/internal/domain/auth/store"
	"propmock/internal/domain/docstore"
	"propmock/internal/domain/eventbus"
	"propmock/internal/platform/logging"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrRoleNotFound       = errors.New("no user with the requested role")
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "propmock"
	UsersCollection   = "users"
	TokenType         = "Bearer"
)

// Directory is the read side of the document store the service needs.
type Directory interface {
	Collection(ctx context.Context, name string) docstore.Collection
	Get(ctx context.Context, name, id string) (docstore.Record, error)
}

// Credentials identify a user at login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Grant is the body returned by login, refresh, switch and auto-login.
type Grant struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    int64           `json:"expires_in"`
	TokenType    string          `json:"token_type"`
	User         docstore.Record `json:"user"`
	// ExpiresAt is the access token expiry.
	ExpiresAt time.Time `json:"-"`
}

// Principal is the identity behind a validated access token.
type Principal struct {
	Subject   string
	Role      string
	TokenID   string
	ExpiresAt time.Time
	User      docstore.Record
}

type Options struct {
	Directory  Directory
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Denylist holds revoked token ids. Nil uses an in-memory store.
	Denylist store.Store
	Clock    func() time.Time
	NewID    func() string
	Logger   logging.Interface
	Bus      *eventbus.Bus
}

type Service struct {
	dir        Directory
	codec      *Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
	denylist   store.Store
	now        func() time.Time
	newID      func() string
	logger     logging.Interface
	bus        *eventbus.Bus

	mu         sync.Mutex
	lastExpiry map[string]time.Time
}

// NewService wires a Service using the supplied options.
func NewService(opts Options) (*Service, error) {
	if opts.Directory == nil {
		return nil, errors.New("auth service requires a directory")
	}
	issuer := opts.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	codec, err := NewCodec(opts.Secret, issuer)
	if err != nil {
		return nil, err
	}
	s := &Service{
		dir:        opts.Directory,
		codec:      codec,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		denylist:   opts.Denylist,
		now:        opts.Clock,
		newID:      opts.NewID,
		logger:     opts.Logger,
		bus:        opts.Bus,
		lastExpiry: make(map[string]time.Time),
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.denylist == nil {
		s.denylist = store.NewMemory(store.Config{Memory: &store.MemoryConfig{Clock: s.now}})
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s, nil
}

// Codec exposes the token codec, mainly for tests and tooling.
func (s *Service) Codec() *Codec { return s.codec }

// Login checks credentials against the users collection. The email match is
// case-insensitive; a user without a stored password accepts any password.
func (s *Service) Login(ctx context.Context, creds Credentials) (Grant, error) {
	email := strings.TrimSpace(creds.Email)
	if email == "" {
		return Grant{}, ErrInvalidCredentials
	}
	for _, user := range s.dir.Collection(ctx, UsersCollection) {
		stored, _ := user["email"].(string)
		if !strings.EqualFold(stored, email) {
			continue
		}
		if pw, ok := user["password"].(string); ok && pw != "" && pw != creds.Password {
			break
		}
		grant, err := s.issue(ctx, user)
		if err != nil {
			return Grant{}, err
		}
		s.logger.Info("login %s as %s", grant.User["id"], grant.User["role"])
		s.publish(eventbus.TopicAuthLogin, grant.User)
		return grant, nil
	}
	s.logger.Debug("login rejected for %q", email)
	return Grant{}, ErrInvalidCredentials
}

// Validate decodes an access token and resolves its subject.
func (s *Service) Validate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.check(ctx, token, KindAccess)
	if err != nil {
		return Principal{}, err
	}
	user, err := s.resolve(ctx, claims.Subject)
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		Subject:   claims.Subject,
		Role:      stringField(user, "role"),
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt,
		User:      user,
	}, nil
}

// Me returns the sanitized user record behind an access token.
func (s *Service) Me(ctx context.Context, token string) (docstore.Record, error) {
	p, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return p.User, nil
}

// Refresh exchanges a refresh token for a new grant. The old refresh token
// is claimed atomically on the denylist, so it is spent at most once, and the new access token expires strictly later than any
// token previously issued to the same subject.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	claims, err := s.check(ctx, refreshToken, KindRefresh)
	if err != nil {
		return Grant{}, err
	}
	user, err := s.resolve(ctx, claims.Subject)
	if err != nil {
		return Grant{}, err
	}
	if claims.ID == "" {
		return Grant{}, ErrTokenInvalid
	}
	won, err := s.denylist.Claim(ctx, claims.ID, claims.ExpiresAt.Sub(s.now()))
	if err != nil {
		return Grant{}, err
	}
	if !won {
		return Grant{}, ErrTokenInvalid
	}
	grant, err := s.issue(ctx, user)
	if err != nil {
		return Grant{}, err
	}
	s.publish(eventbus.TopicAuthRefresh, grant.User)
	return grant, nil
}

// Logout revokes whichever of the two tokens decode. Tokens that fail to
// decode are ignored.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	var subject string
	for _, tok := range []string{accessToken, refreshToken} {
		if tok == "" {
			continue
		}
		claims, err := s.codec.Decode(tok)
		if err != nil {
			continue
		}
		if err := s.revoke(ctx, claims); err != nil {
			return err
		}
		subject = claims.Subject
	}
	if subject != "" {
		s.logger.Info("logout %s", subject)
		s.bus.Publish(eventbus.TopicAuthLogout, eventbus.AuthEventData{Subject: subject})
	}
	return nil
}

// SwitchIdentity mints a grant for the first user holding role, skipping
// the credential check.
func (s *Service) SwitchIdentity(ctx context.Context, role string) (Grant, error) {
	grant, err := s.loginAs(ctx, role)
	if err != nil {
		return Grant{}, err
	}
	s.publish(eventbus.TopicAuthSwitch, grant.User)
	return grant, nil
}

// AutoLogin is SwitchIdentity for a fresh session.
func (s *Service) AutoLogin(ctx context.Context, role string) (Grant, error) {
	grant, err := s.loginAs(ctx, role)
	if err != nil {
		return Grant{}, err
	}
	s.publish(eventbus.TopicAuthLogin, grant.User)
	return grant, nil
}

func (s *Service) loginAs(ctx context.Context, role string) (Grant, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return Grant{}, ErrRoleNotFound
	}
	for _, user := range s.dir.Collection(ctx, UsersCollection) {
		if strings.EqualFold(stringField(user, "role"), role) {
			return s.issue(ctx, user)
		}
	}
	s.logger.Warn("no user with role %q", role)
	return Grant{}, ErrRoleNotFound
}

// check decodes token and verifies kind, lifetime and revocation.
func (s *Service) check(ctx context.Context, token string, kind Kind) (Claims, error) {
	claims, err := s.codec.Decode(token)
	if err != nil || claims.Kind != kind {
		return Claims{}, ErrTokenInvalid
	}
	if !claims.ValidAt(s.now()) {
		return Claims{}, ErrTokenExpired
	}
	if claims.ID != "" {
		revoked, err := s.denylist.Revoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, err
		}
		if revoked {
			return Claims{}, ErrTokenInvalid
		}
	}
	return claims, nil
}

func (s *Service) resolve(ctx context.Context, subject string) (docstore.Record, error) {
	user, err := s.dir.Get(ctx, UsersCollection, subject)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	return Sanitize(user), nil
}

func (s *Service) revoke(ctx context.Context, claims Claims) error {
	if claims.ID == "" {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.denylist.Revoke(ctx, claims.ID, ttl)
}

func (s *Service) issue(_ context.Context, user docstore.Record) (Grant, error) {
	subject := stringField(user, "id")
	if subject == "" {
		return Grant{}, ErrTokenInvalid
	}
	role := stringField(user, "role")
	now := s.now().Truncate(time.Second)

	s.mu.Lock()
	accessExp := now.Add(s.accessTTL)
	if last, ok := s.lastExpiry[subject]; ok && !accessExp.After(last) {
		accessExp = last.Add(time.Second)
	}
	s.lastExpiry[subject] = accessExp
	s.mu.Unlock()

	access, err := s.codec.Encode(Claims{
		Subject: subject, Role: role, Kind: KindAccess,
		ID: s.newID(), IssuedAt: now, ExpiresAt: accessExp,
	})
	if err != nil {
		return Grant{}, err
	}
	refresh, err := s.codec.Encode(Claims{
		Subject: subject, Role: role, Kind: KindRefresh,
		ID: s.newID(), IssuedAt: now, ExpiresAt: now.Add(s.refreshTTL),
	})
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(accessExp.Sub(now) / time.Second),
		TokenType:    TokenType,
		User:         Sanitize(user),
		ExpiresAt:    accessExp,
	}, nil
}

func (s *Service) publish(topic string, user docstore.Record) {
	s.bus.Publish(topic, eventbus.AuthEventData{Subject: stringField(user, "id"), Role: stringField(user, "role")})
}

// Sanitize copies a user record without its password.
func Sanitize(user docstore.Record) docstore.Record {
	out := make(docstore.Record, len(user))
	for k, v := range user {
		if k == "password" {
			continue
		}
		out[k] = v
	}
	return out
}

func stringField(rec docstore.Record, key string) string {
	v, _ := rec[key].(string)
	return v
}
