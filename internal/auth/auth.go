package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/models"
	"inference_gateway/internal/storage"
)

// Principal kinds. Each route class accepts exactly one kind; presenting
// the wrong kind is unauthorized, not forbidden.
const (
	PrincipalKey     = "key"
	PrincipalSession = "session"
)

// KeyPrincipal is an authenticated API key with its tenant scope resolved.
type KeyPrincipal struct {
	APIKey *models.APIKey
}

// SessionPrincipal is an authenticated console user.
type SessionPrincipal struct {
	User    *models.User
	Session *models.Session
}

// FrontDoor resolves principals from bearer keys and session cookies.
type FrontDoor struct {
	keys     *storage.APIKeyRepository
	sessions *storage.SessionRepository
	orgs     *storage.OrganizationRepository

	sessionSigningKey []byte
	adminDomains      []string
}

// NewFrontDoor creates the auth front-door.
func NewFrontDoor(
	keys *storage.APIKeyRepository,
	sessions *storage.SessionRepository,
	orgs *storage.OrganizationRepository,
	sessionSigningKey []byte,
	adminDomains []string,
) *FrontDoor {
	return &FrontDoor{
		keys:              keys,
		sessions:          sessions,
		orgs:              orgs,
		sessionSigningKey: sessionSigningKey,
		adminDomains:      adminDomains,
	}
}

// ResolveKey authenticates a bearer secret. The secret is hashed and looked
// up; revoked, expired and unknown keys are indistinguishable to the
// caller. The parent organization must be active.
func (f *FrontDoor) ResolveKey(ctx context.Context, bearerSecret string) (*KeyPrincipal, error) {
	if bearerSecret == "" {
		return nil, apierr.New(apierr.KindUnauthorized, "missing API key")
	}

	key, err := f.keys.GetByHash(ctx, HashAPIKey(bearerSecret))
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, apierr.New(apierr.KindUnauthorized, "invalid API key")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "key lookup failed", err)
	}

	if _, err := f.orgs.GetByID(ctx, key.OrganizationID); err != nil {
		if errors.Is(err, storage.ErrOrganizationNotFound) {
			return nil, apierr.New(apierr.KindUnauthorized, "invalid API key")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "organization lookup failed", err)
	}

	return &KeyPrincipal{APIKey: key}, nil
}

// ResolveSession authenticates a session cookie. The recorded user-agent
// must match the presented one (when non-empty) to defeat cookie theft
// across devices.
func (f *FrontDoor) ResolveSession(ctx context.Context, cookieValue, userAgent string) (*SessionPrincipal, error) {
	if cookieValue == "" {
		return nil, apierr.New(apierr.KindUnauthorized, "missing session")
	}

	secret, err := DecodeSessionCookie(cookieValue, f.sessionSigningKey)
	if err != nil {
		return nil, apierr.New(apierr.KindUnauthorized, "invalid session")
	}

	session, err := f.sessions.GetByTokenHash(ctx, HashSessionSecret(secret, f.sessionSigningKey))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, apierr.New(apierr.KindUnauthorized, "invalid session")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "session lookup failed", err)
	}
	if !session.IsValid(time.Now()) {
		return nil, apierr.New(apierr.KindUnauthorized, "invalid session")
	}
	if session.UserAgent != "" && session.UserAgent != userAgent {
		return nil, apierr.New(apierr.KindUnauthorized, "invalid session")
	}

	user, err := f.sessions.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, apierr.New(apierr.KindUnauthorized, "invalid session")
		}
		return nil, apierr.Wrap(apierr.KindInternal, "user lookup failed", err)
	}

	return &SessionPrincipal{User: user, Session: session}, nil
}

// IsAdmin reports whether the user's email domain is on the admin
// allow-list.
func (f *FrontDoor) IsAdmin(user *models.User) bool {
	at := strings.LastIndex(user.Email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(user.Email[at+1:])
	for _, allowed := range f.adminDomains {
		if domain == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
