package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"jiractl/internal/logging"
)

// loginTimeout bounds how long the login command waits for the user to
// finish the browser flow.
const loginTimeout = 5 * time.Minute

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against Atlassian and store the credential",
	Long: `Login runs the OAuth 2.0 authorization code flow with PKCE and stores
the resulting credential encrypted in the local datastore.

When the configured redirect URI points at the loopback interface the
command serves it locally and completes by itself; you only approve the
request in the browser. With --no-browser (or a non-loopback redirect
URI) the command prints the authorization URL and asks you to paste the
redirect you land on after approving.

The site the credential can access is resolved and stored along with
it, so subsequent commands need no further setup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noBrowser, err := cmd.Flags().GetBool("no-browser")
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		session := sessionName(cmd)
		authURL, err := app.auth.BeginAuthorization(ctx, session)
		if err != nil {
			return err
		}

		redirect, err := url.Parse(app.cfg.Tracker.RedirectURI)
		if err != nil {
			return fmt.Errorf("invalid redirect URI: %v", err)
		}

		var code, state string
		if !noBrowser && isLoopback(redirect) {
			fmt.Println("Open this URL in your browser to authorize jiractl:")
			fmt.Println()
			fmt.Println("  " + authURL)
			fmt.Println()
			fmt.Println("Waiting for the authorization to complete...")
			code, state, err = waitForCallback(ctx, redirect)
		} else {
			code, state, err = promptForCallback(cmd, authURL)
		}
		if err != nil {
			return err
		}

		cred, err := app.auth.CompleteAuthorization(ctx, session, code, state)
		if err != nil {
			return err
		}

		site, err := app.store.LoadSite(ctx, session)
		if err != nil {
			return err
		}

		fmt.Printf("Logged in to %s (%s)\n", site.Name, site.URL)
		fmt.Printf("Access token valid for %d minutes", cred.SecondsLeft(time.Now())/60)
		if cred.Renewable() {
			fmt.Print(", renews automatically")
		}
		fmt.Println()
		return nil
	},
}

func init() {
	loginCmd.Flags().Bool("no-browser", false, "print the authorization URL and paste the redirect manually")
}

// isLoopback reports whether the redirect URI points at this machine,
// which is what allows serving the callback locally.
func isLoopback(u *url.URL) bool {
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// callbackResult carries the query parameters of one authorization
// callback.
type callbackResult struct {
	code  string
	state string
	err   error
}

// waitForCallback serves the redirect endpoint on the loopback
// interface until the provider delivers the authorization code, the
// context ends, or the login times out.
func waitForCallback(ctx context.Context, redirect *url.URL) (code, state string, err error) {
	results := make(chan callbackResult, 1)

	path := redirect.Path
	if path == "" {
		path = "/"
	}

	router := chi.NewRouter()
	router.Get(path, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if denied := q.Get("error"); denied != "" {
			http.Error(w, "Authorization failed, return to the terminal.", http.StatusBadRequest)
			select {
			case results <- callbackResult{err: fmt.Errorf("authorization refused: %s", denied)}:
			default:
			}
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><p>Login complete. You can close this tab and return to the terminal.</p></body></html>")
		select {
		case results <- callbackResult{code: q.Get("code"), state: q.Get("state")}:
		default:
		}
	})

	srv := &http.Server{
		Addr:              redirect.Host,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("failed to serve the callback on %s: %v", redirect.Host, err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Debug("callback server shutdown", "error", err)
		}
	}()

	select {
	case res := <-results:
		return res.code, res.state, res.err
	case err := <-serveErr:
		return "", "", err
	case <-time.After(loginTimeout):
		return "", "", fmt.Errorf("timed out waiting for the authorization callback")
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

// promptForCallback prints the authorization URL and reads the pasted
// redirect back from the terminal, for machines without a browser.
func promptForCallback(cmd *cobra.Command, authURL string) (code, state string, err error) {
	fmt.Println("Open this URL in a browser, authorize jiractl, then paste the full URL you are redirected to:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()
	fmt.Print("Redirect URL: ")

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("failed to read the redirect URL: %v", err)
	}

	pasted, err := url.Parse(strings.TrimSpace(line))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse the redirect URL: %v", err)
	}

	q := pasted.Query()
	if denied := q.Get("error"); denied != "" {
		return "", "", fmt.Errorf("authorization refused: %s", denied)
	}
	if q.Get("code") == "" {
		return "", "", fmt.Errorf("the pasted URL carries no authorization code")
	}
	return q.Get("code"), q.Get("state"), nil
}
