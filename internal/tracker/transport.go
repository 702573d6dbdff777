package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"jiractl/internal/apperrors"
	"jiractl/internal/logging"
	"jiractl/pkg/models"
)

// CredentialSource hands out live credentials for outgoing requests.
// *auth.Authenticator implements it.
type CredentialSource interface {
	CredentialForUse(ctx context.Context, session string) (models.Credential, error)
	ForceRefresh(ctx context.Context, session string) (models.Credential, error)
}

// ThrottleError signals a 429 along with the pause the provider asked for.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// Transport authorizes, paces and retries every tracker request. The
// order per request is rate limiter, then circuit breaker, then bounded
// retry, then the network. Transient failures (network errors, 429, 5xx)
// are retried with exponential backoff, honoring Retry-After on 429; no
// other status is ever retried. A 401 or 403 triggers exactly one forced
// credential refresh and one replay; a second rejection is final and
// surfaces as ErrAuthRequired or ErrPermissionDenied.
type Transport struct {
	base    http.RoundTripper
	auth    CredentialSource
	session string
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewTransport builds the transport for one session.
func NewTransport(auth CredentialSource, session string) *Transport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tracker",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	// Bulk operations pace themselves instead of bursting at the API.
	limiter := rate.NewLimiter(rate.Limit(5), 5)

	return &Transport{
		base:    http.DefaultTransport,
		auth:    auth,
		session: session,
		cb:      cb,
		limiter: limiter,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		// Attempts rebuild their own body via GetBody; the caller's
		// reader is never consumed and must be released here.
		defer req.Body.Close()
	}

	resp, err := t.send(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}

	status := resp.StatusCode
	drainAndClose(resp.Body)

	logging.Debug("authorization rejected, forcing one refresh",
		"status", status,
		"path", req.URL.Path)

	if _, err := t.auth.ForceRefresh(req.Context(), t.session); err != nil {
		if status == http.StatusForbidden {
			// The permission failure is the reportable outcome here; a
			// refresh that cannot happen must not mask it.
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, apperrors.ErrPermissionDenied)
		}
		return nil, err
	}

	resp, err = t.send(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		drainAndClose(resp.Body)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, apperrors.ErrAuthRequired)
	case http.StatusForbidden:
		drainAndClose(resp.Body)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, apperrors.ErrPermissionDenied)
	}
	return resp, nil
}

// send runs one request through limiter, breaker and retry. It returns
// the first response that is not transiently retryable, whatever its
// status code.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	cred, err := t.auth.CredentialForUse(ctx, t.session)
	if err != nil {
		return nil, err
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	cbResult, err := t.cb.Execute(func() (interface{}, error) {
		var resp *http.Response

		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// 429 carries the provider's requested pause; anything
				// else backs off exponentially.
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			attempt, err := replayableRequest(req)
			if err != nil {
				return err
			}
			attempt.Header.Set("Authorization", "Bearer "+cred.AccessToken)

			res, err := t.base.RoundTrip(attempt)
			if err != nil {
				// Network failures and timeouts are transient.
				return err
			}

			switch {
			case res.StatusCode == http.StatusTooManyRequests:
				pause := retryAfter(res)
				drainAndClose(res.Body)
				return &ThrottleError{RetryAfter: pause, Cause: fmt.Errorf("status %d", res.StatusCode)}
			case res.StatusCode >= 500:
				drainAndClose(res.Body)
				return fmt.Errorf("tracker returned status %d", res.StatusCode)
			}

			resp = res
			return nil
		})

		return resp, retryErr
	})
	if err != nil {
		return nil, err
	}

	return cbResult.(*http.Response), nil
}

// replayableRequest clones the request for one attempt. Requests with a
// body must be rebuildable through GetBody so every attempt reads a fresh
// copy; the standard library sets GetBody for all buffered bodies.
func replayableRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %v", err)
	}
	clone.Body = body
	return clone, nil
}

// retryAfter reads the provider's requested pause, defaulting to one
// second when the header is absent or unreadable.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return time.Second
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	body.Close()
}
