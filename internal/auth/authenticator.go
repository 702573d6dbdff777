// Package auth implements the OAuth2 authorization code flow with PKCE
// and keeps stored credentials fresh through automatic refresh.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"jiractl/internal/apperrors"
	"jiractl/internal/config"
	"jiractl/internal/logging"
	"jiractl/internal/store"
	"jiractl/pkg/models"
)

// Authenticator drives the authorization code flow and credential
// lifecycle for one OAuth client.
type Authenticator struct {
	store      *store.Store
	conf       *oauth2.Config
	apiURL     string
	audience   string
	margin     time.Duration
	httpClient *http.Client

	// refreshGroup collapses concurrent refreshes per session into a
	// single token endpoint call.
	refreshGroup singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// New builds an Authenticator from tracker configuration. A configured
// client secret makes the client confidential: it authenticates at the
// token endpoint with HTTP basic auth. Without a secret the client is
// public and sends only its id in the request body.
func New(cfg config.TrackerConfig, st *store.Store) *Authenticator {
	authStyle := oauth2.AuthStyleInParams
	if cfg.Confidential() {
		authStyle = oauth2.AuthStyleInHeader
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       strings.Fields(cfg.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL + "/authorize",
			TokenURL:  cfg.AuthURL + "/oauth/token",
			AuthStyle: authStyle,
		},
	}

	// The provider expects the API gateway host as token audience.
	audience := "api.atlassian.com"
	if u, err := url.Parse(cfg.APIURL); err == nil && u.Host != "" {
		audience = u.Host
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 40 * time.Second
	}

	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = 60 * time.Second
	}

	return &Authenticator{
		store:      st,
		conf:       conf,
		apiURL:     cfg.APIURL,
		audience:   audience,
		margin:     margin,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// httpContext routes all oauth2 traffic through the configured client so
// timeouts apply to token endpoint calls too.
func (a *Authenticator) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// BeginAuthorization starts a new authorization attempt for the session.
// It generates the PKCE verifier and anti-forgery state, persists both
// sealed, and returns the URL the user has to visit. The verifier never
// leaves the process except as its S256 challenge inside that URL.
func (a *Authenticator) BeginAuthorization(ctx context.Context, session string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	as := models.AuthSession{
		ID:           session,
		State:        state,
		CodeVerifier: verifier,
		CreatedAt:    a.now(),
	}
	if err := a.store.SaveAuthSession(ctx, session, as); err != nil {
		return "", fmt.Errorf("failed to persist authorization state: %v", err)
	}

	authURL := a.conf.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("audience", a.audience),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	logging.Debug("authorization started", "session", session)
	return authURL, nil
}

// CompleteAuthorization redeems the authorization code delivered to the
// redirect URI. The pending attempt is consumed before anything else, so
// a replayed callback finds nothing to redeem. The state is compared in
// constant time and a mismatch aborts before the exchange. On success the
// credential and the discovered tracker site are persisted.
func (a *Authenticator) CompleteAuthorization(ctx context.Context, session, code, state string) (models.Credential, error) {
	as, err := a.store.TakeAuthSession(ctx, session)
	if err != nil {
		return models.Credential{}, err
	}

	if subtle.ConstantTimeCompare([]byte(as.State), []byte(state)) != 1 {
		return models.Credential{}, apperrors.ErrStateMismatch
	}

	tok, err := a.conf.Exchange(a.httpContext(ctx), code, oauth2.VerifierOption(as.CodeVerifier))
	if err != nil {
		// Codes are single-use; the exchange is never retried.
		return models.Credential{}, fmt.Errorf("%w: %v", apperrors.ErrExchangeFailed, err)
	}

	cred := credentialFromToken(tok, a.now())
	if err := a.store.SaveCredential(ctx, session, cred); err != nil {
		return models.Credential{}, err
	}

	site, err := a.ResolveSite(ctx, cred)
	if err != nil {
		return cred, err
	}
	if err := a.store.SaveSite(ctx, session, site); err != nil {
		return cred, err
	}

	logging.Info("authorization complete",
		"session", session,
		"site", site.Name,
		"renewable", cred.Renewable())
	return cred, nil
}

// Refresh performs one refresh grant for the given credential. When the
// provider rotates refresh tokens the rotated token is returned; when it
// does not, the previous refresh token is retained. The result is not
// persisted here.
func (a *Authenticator) Refresh(ctx context.Context, cred models.Credential) (models.Credential, error) {
	if !cred.Renewable() {
		return models.Credential{}, fmt.Errorf("%w: credential is not renewable", apperrors.ErrRefreshFailed)
	}

	src := a.conf.TokenSource(a.httpContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %v", apperrors.ErrRefreshFailed, err)
	}

	return credentialFromToken(tok, a.now()), nil
}

// CredentialForUse returns a credential fit for an API call right now,
// refreshing it first when it is inside the expiry margin. Concurrent
// callers for the same session share a single refresh.
func (a *Authenticator) CredentialForUse(ctx context.Context, session string) (models.Credential, error) {
	cred, err := a.store.LoadCredential(ctx, session)
	if err != nil {
		if errors.Is(err, apperrors.ErrCredentialNotFound) {
			return cred, fmt.Errorf("%w: no stored credential", apperrors.ErrAuthRequired)
		}
		return cred, err
	}

	if a.now().Add(a.margin).Before(cred.ExpiresAt) {
		return cred, nil
	}

	if !cred.Renewable() {
		// Terminal credentials are served until they actually expire.
		if a.now().Before(cred.ExpiresAt) {
			return cred, nil
		}
		return models.Credential{}, apperrors.ErrAuthRequired
	}

	return a.refreshShared(ctx, session, false)
}

// ForceRefresh refreshes the session's credential regardless of remaining
// lifetime. The tracker transport uses it for its single retry after an
// authorization failure.
func (a *Authenticator) ForceRefresh(ctx context.Context, session string) (models.Credential, error) {
	return a.refreshShared(ctx, session, true)
}

// refreshShared funnels all refreshes for one session through a
// singleflight group: exactly one token endpoint call runs at a time and
// every waiter receives its outcome. The refreshed credential is
// persisted before it is handed out (last writer wins).
func (a *Authenticator) refreshShared(ctx context.Context, session string, force bool) (models.Credential, error) {
	v, err, shared := a.refreshGroup.Do(session, func() (any, error) {
		cred, err := a.store.LoadCredential(ctx, session)
		if err != nil {
			return nil, err
		}

		// A refresh that finished while this caller queued makes the
		// stored credential current again.
		if !force && a.now().Add(a.margin).Before(cred.ExpiresAt) {
			return cred, nil
		}

		refreshed, err := a.Refresh(ctx, cred)
		if err != nil {
			if errors.Is(err, apperrors.ErrRefreshFailed) {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrAuthRequired, err)
			}
			return nil, err
		}

		if err := a.store.SaveCredential(ctx, session, refreshed); err != nil {
			return nil, err
		}

		logging.Debug("credential refreshed",
			"session", session,
			"expires_at", refreshed.ExpiresAt,
			"token", logging.MaskSensitive(refreshed.AccessToken))
		return refreshed, nil
	})
	if err != nil {
		return models.Credential{}, err
	}
	if shared {
		logging.Debug("refresh shared between concurrent callers", "session", session)
	}
	return v.(models.Credential), nil
}

// Logout removes the stored credential and any pending authorization
// state for the session.
func (a *Authenticator) Logout(ctx context.Context, session string) error {
	if err := a.store.DeleteCredential(ctx, session); err != nil {
		return err
	}
	if _, err := a.store.TakeAuthSession(ctx, session); err != nil && !errors.Is(err, apperrors.ErrAuthSessionNotFound) {
		return err
	}
	return nil
}

// credentialFromToken converts the token endpoint response. A response
// without an expiry gets the provider's default of one hour so ExpiresAt
// is always set.
func credentialFromToken(tok *oauth2.Token, now time.Time) models.Credential {
	cred := models.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if cred.TokenType == "" {
		cred.TokenType = "Bearer"
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = now.Add(time.Hour)
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		cred.Scopes = strings.Fields(scope)
	}
	return cred
}
