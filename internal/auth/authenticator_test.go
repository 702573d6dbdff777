package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jiractl/internal/apperrors"
	"jiractl/internal/config"
	"jiractl/internal/cryptobox"
	"jiractl/internal/store"
	"jiractl/pkg/models"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	key := make([]byte, cryptobox.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	st, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "auth-test.db"), key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testConfig(authURL, apiURL string) config.TrackerConfig {
	return config.TrackerConfig{
		ClientID:      "client-1",
		RedirectURI:   "http://127.0.0.1:8423/callback",
		Scopes:        "offline_access read:jira-work",
		AuthURL:       authURL,
		APIURL:        apiURL,
		HTTPTimeout:   5 * time.Second,
		RefreshMargin: time.Minute,
	}
}

// fakeProvider stands in for the authorization server and the
// accessible-resources endpoint.
type fakeProvider struct {
	mu         sync.Mutex
	tokenCalls int
	forms      []url.Values
	basicUser  string
	basicPass  string
	hasBasic   bool

	status    int
	body      string
	resources string
	delay     time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		status:    http.StatusOK,
		body:      `{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600,"scope":"offline_access read:jira-work"}`,
		resources: `[{"id":"cloud-1","url":"https://acme.atlassian.net","name":"acme"}]`,
	}
}

func (p *fakeProvider) start(t *testing.T) string {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if p.delay > 0 {
			time.Sleep(p.delay)
		}
		_ = r.ParseForm()

		p.mu.Lock()
		p.tokenCalls++
		p.forms = append(p.forms, r.PostForm)
		p.basicUser, p.basicPass, p.hasBasic = r.BasicAuth()
		status, body := p.status, p.body
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, p.resources)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls
}

func (p *fakeProvider) lastForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.forms) == 0 {
		return url.Values{}
	}
	return p.forms[len(p.forms)-1]
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestBeginAuthorizationBuildsChallengeURL(t *testing.T) {
	st := newTestStore(t)
	a := New(testConfig("https://auth.example.com", "https://api.example.com"), st)

	authURL, err := a.BeginAuthorization(t.Context(), "alice")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "auth.example.com", parsed.Host)
	assert.Equal(t, "/authorize", parsed.Path)

	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "http://127.0.0.1:8423/callback", q.Get("redirect_uri"))
	assert.Equal(t, "offline_access read:jira-work", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "api.example.com", q.Get("audience"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.NotEmpty(t, q.Get("state"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	// The challenge in the URL is the S256 derivation of the stored
	// verifier.
	as, err := st.TakeAuthSession(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, q.Get("state"), as.State)
	assert.Equal(t, s256(as.CodeVerifier), q.Get("code_challenge"))
}

func TestBeginAuthorizationReplacesPendingAttempt(t *testing.T) {
	st := newTestStore(t)
	a := New(testConfig("https://auth.example.com", "https://api.example.com"), st)

	first, err := a.BeginAuthorization(t.Context(), "alice")
	require.NoError(t, err)
	second, err := a.BeginAuthorization(t.Context(), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "every attempt gets fresh state and verifier")

	secondURL, err := url.Parse(second)
	require.NoError(t, err)

	as, err := st.TakeAuthSession(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, secondURL.Query().Get("state"), as.State, "only the newest attempt survives")
}

func TestCompleteAuthorizationExchangesCode(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	u := p.start(t)
	a := New(testConfig(u, u), st)

	authURL, err := a.BeginAuthorization(t.Context(), "alice")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()

	cred, err := a.CompleteAuthorization(t.Context(), "alice", "test-code", q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken)
	assert.Equal(t, "Bearer", cred.TokenType)
	assert.True(t, cred.Renewable())
	assert.ElementsMatch(t, []string{"offline_access", "read:jira-work"}, cred.Scopes)
	assert.True(t, cred.ExpiresAt.After(time.Now().Add(50*time.Minute)))

	// The exchange carried the code and a verifier matching the challenge
	// from the authorization URL.
	require.Equal(t, 1, p.calls())
	form := p.lastForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "test-code", form.Get("code"))
	assert.Equal(t, "client-1", form.Get("client_id"))
	assert.Equal(t, q.Get("code_challenge"), s256(form.Get("code_verifier")))

	// Credential and discovered site are persisted for later commands.
	stored, err := st.LoadCredential(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AccessToken)
	site, err := st.LoadSite(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "cloud-1", site.ID)

	// The attempt was consumed: a replayed callback has nothing to redeem.
	_, err = a.CompleteAuthorization(t.Context(), "alice", "test-code", q.Get("state"))
	assert.ErrorIs(t, err, apperrors.ErrAuthSessionNotFound)
	assert.Equal(t, 1, p.calls())
}

func TestCompleteAuthorizationRejectsForgedState(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	u := p.start(t)
	a := New(testConfig(u, u), st)

	_, err := a.BeginAuthorization(t.Context(), "alice")
	require.NoError(t, err)

	_, err = a.CompleteAuthorization(t.Context(), "alice", "test-code", "forged-state")
	assert.ErrorIs(t, err, apperrors.ErrStateMismatch)
	assert.Zero(t, p.calls(), "a state mismatch must abort before the exchange")
}

func TestCompleteAuthorizationExchangeFailure(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	p.status = http.StatusBadRequest
	p.body = `{"error":"invalid_grant"}`
	u := p.start(t)
	a := New(testConfig(u, u), st)

	authURL, err := a.BeginAuthorization(t.Context(), "alice")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	_, err = a.CompleteAuthorization(t.Context(), "alice", "bad-code", parsed.Query().Get("state"))
	assert.ErrorIs(t, err, apperrors.ErrExchangeFailed)
	assert.Equal(t, 1, p.calls(), "codes are single-use, the exchange is never retried")

	_, err = st.LoadCredential(t.Context(), "alice")
	assert.ErrorIs(t, err, apperrors.ErrCredentialNotFound)
}

func TestConfidentialClientUsesBasicAuth(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	u := p.start(t)

	cfg := testConfig(u, u)
	cfg.ClientSecret = "s3cret"
	a := New(cfg, st)

	authURL, err := a.BeginAuthorization(t.Context(), "alice")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	_, err = a.CompleteAuthorization(t.Context(), "alice", "test-code", parsed.Query().Get("state"))
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.True(t, p.hasBasic, "a confidential client authenticates with basic auth")
	assert.Equal(t, "client-1", p.basicUser)
	assert.Equal(t, "s3cret", p.basicPass)
}

func TestCredentialForUseServesFreshCredential(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	u := p.start(t)
	a := New(testConfig(u, u), st)

	seed := models.Credential{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(2 * time.Hour),
	}
	require.NoError(t, st.SaveCredential(t.Context(), "alice", seed))

	cred, err := a.CredentialForUse(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Zero(t, p.calls(), "a credential outside the margin is served as is")
}

func TestCredentialForUseRefreshesNearExpiry(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	p.body = `{"access_token":"at-2","refresh_token":"rt-2","token_type":"Bearer","expires_in":3600}`
	u := p.start(t)
	a := New(testConfig(u, u), st)

	seed := models.Credential{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(30 * time.Second),
	}
	require.NoError(t, st.SaveCredential(t.Context(), "alice", seed))

	cred, err := a.CredentialForUse(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-2", cred.AccessToken)
	assert.Equal(t, "rt-2", cred.RefreshToken, "a rotated refresh token is adopted")

	require.Equal(t, 1, p.calls())
	form := p.lastForm()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt-1", form.Get("refresh_token"))

	stored, err := st.LoadCredential(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-2", stored.AccessToken, "the refreshed credential is persisted")
}

func TestRefreshRetainsTokenWhenProviderDoesNotRotate(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	p.body = `{"access_token":"at-2","token_type":"Bearer","expires_in":3600}`
	u := p.start(t)
	a := New(testConfig(u, u), st)

	seed := models.Credential{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(30 * time.Second),
	}
	require.NoError(t, st.SaveCredential(t.Context(), "alice", seed))

	cred, err := a.CredentialForUse(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-2", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken, "the old refresh token is retained")
}

func TestConcurrentRequestsShareOneRefresh(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	p.delay = 100 * time.Millisecond
	u := p.start(t)
	a := New(testConfig(u, u), st)

	seed := models.Credential{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(30 * time.Second),
	}
	require.NoError(t, st.SaveCredential(t.Context(), "alice", seed))

	var wg sync.WaitGroup
	creds := make([]models.Credential, 2)
	errs := make([]error, 2)
	for i := range creds {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = a.CredentialForUse(t.Context(), "alice")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, creds[0].AccessToken, creds[1].AccessToken)
	assert.Equal(t, 1, p.calls(), "simultaneous requesters must share a single refresh call")
}

func TestTerminalCredentialLifecycle(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	u := p.start(t)
	a := New(testConfig(u, u), st)

	// Inside the margin but still valid: served as is, nothing to refresh.
	seed := models.Credential{AccessToken: "at-1", TokenType: "Bearer", ExpiresAt: time.Now().Add(30 * time.Second)}
	require.NoError(t, st.SaveCredential(t.Context(), "alice", seed))
	cred, err := a.CredentialForUse(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Zero(t, p.calls())

	// Expired without a refresh token: only a new login helps.
	seed.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, st.SaveCredential(t.Context(), "alice", seed))
	_, err = a.CredentialForUse(t.Context(), "alice")
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)
	assert.Zero(t, p.calls())
}

func TestFailedRefreshRequiresLogin(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	p.status = http.StatusBadRequest
	p.body = `{"error":"invalid_grant"}`
	u := p.start(t)
	a := New(testConfig(u, u), st)

	seed := models.Credential{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(30 * time.Second),
	}
	require.NoError(t, st.SaveCredential(t.Context(), "alice", seed))

	_, err := a.CredentialForUse(t.Context(), "alice")
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)
	assert.Equal(t, 1, p.calls())

	// The stored credential stays put; re-authentication is the user's call.
	stored, err := st.LoadCredential(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AccessToken)
}

func TestCredentialForUseWithoutCredential(t *testing.T) {
	st := newTestStore(t)
	a := New(testConfig("https://auth.example.com", "https://api.example.com"), st)

	_, err := a.CredentialForUse(t.Context(), "nobody")
	assert.ErrorIs(t, err, apperrors.ErrAuthRequired)
}

func TestRefreshRejectsTerminalCredential(t *testing.T) {
	st := newTestStore(t)
	a := New(testConfig("https://auth.example.com", "https://api.example.com"), st)

	_, err := a.Refresh(t.Context(), models.Credential{AccessToken: "at-1"})
	assert.ErrorIs(t, err, apperrors.ErrRefreshFailed)
}

func TestResolveSiteRequiresAccessibleResource(t *testing.T) {
	st := newTestStore(t)
	p := newFakeProvider()
	p.resources = `[]`
	u := p.start(t)
	a := New(testConfig(u, u), st)

	_, err := a.ResolveSite(t.Context(), models.Credential{AccessToken: "at-1"})
	assert.ErrorIs(t, err, apperrors.ErrSiteNotResolved)
}

func TestLogoutRemovesCredentialAndPendingAttempt(t *testing.T) {
	st := newTestStore(t)
	a := New(testConfig("https://auth.example.com", "https://api.example.com"), st)

	require.NoError(t, st.SaveCredential(t.Context(), "alice", models.Credential{
		AccessToken: "at-1",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	_, err := a.BeginAuthorization(t.Context(), "alice")
	require.NoError(t, err)

	require.NoError(t, a.Logout(t.Context(), "alice"))

	_, err = st.LoadCredential(t.Context(), "alice")
	assert.ErrorIs(t, err, apperrors.ErrCredentialNotFound)
	_, err = st.TakeAuthSession(t.Context(), "alice")
	assert.ErrorIs(t, err, apperrors.ErrAuthSessionNotFound)

	// Logging out twice is fine.
	require.NoError(t, a.Logout(t.Context(), "alice"))
}
