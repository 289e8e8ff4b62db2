// internal/runtime/auth.go
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/google/mail-importer/internal/rate"
)

// Scopes requested at consent time. Modify covers import and labels.
var Scopes = []string{gmail.GmailModifyScope, gmail.GmailReadonlyScope}

// ClientOptions configures NewGmailClient.
type ClientOptions struct {
	ClientSecret string
	User         string
	Tokens       TokenStore
	Policy       rate.Policy
	Logger       *slog.Logger
}

// OAuthConfig reads the installed-app client secret downloaded from the
// Google Cloud console.
func OAuthConfig(secretPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	return cfg, nil
}

// NewGmailClient builds a GoogleClient from the stored token for
// opts.User. It never prompts; run Authorize first.
func NewGmailClient(ctx context.Context, opts ClientOptions) (*GoogleClient, error) {
	cfg, err := OAuthConfig(opts.ClientSecret)
	if err != nil {
		return nil, err
	}
	tok, err := opts.Tokens.Load(opts.User)
	if errors.Is(err, ErrNoToken) {
		return nil, fmt.Errorf("no stored credentials for %q, run `mail-importer auth` first: %w", opts.User, err)
	}
	if err != nil {
		return nil, err
	}
	ts := &persistingTokenSource{
		base:   cfg.TokenSource(ctx, tok),
		store:  opts.Tokens,
		key:    opts.User,
		last:   tok.AccessToken,
		logger: opts.Logger,
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.ReuseTokenSource(tok, ts)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc, opts.User, opts.Policy, opts.Logger), nil
}

// persistingTokenSource saves refreshed tokens so the next run starts with
// a valid one.
type persistingTokenSource struct {
	base   oauth2.TokenSource
	store  TokenStore
	key    string
	last   string
	logger *slog.Logger
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.store.Save(p.key, tok); err != nil && p.logger != nil {
			p.logger.Warn("could not persist refreshed token", "user", p.key, "error", err)
		}
	}
	return tok, nil
}

// Authorize runs the installed-app consent flow: it listens on a loopback
// port, prints the consent URL to out and waits for Google's redirect.
func Authorize(ctx context.Context, cfg *oauth2.Config, out io.Writer) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}
	defer ln.Close()

	local := *cfg
	local.RedirectURL = "http://" + ln.Addr().String() + "/"
	state := uuid.NewString()

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("error") != "":
			http.Error(w, "authorization denied", http.StatusForbidden)
			notify(errs, fmt.Errorf("authorization denied: %s", q.Get("error")))
			return
		}
		fmt.Fprintln(w, "Authorization complete. You can close this window.")
		notify(codes, q.Get("code"))
	})}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			notify(errs, err)
		}
	}()
	defer srv.Close()

	url := local.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL in a browser to authorize mail-importer:\n\n%s\n\n", url)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errs:
		return nil, err
	case code := <-codes:
		tok, err := local.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchange authorization code: %w", err)
		}
		return tok, nil
	}
}

func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// DefaultLogger logs at info level to stderr.
func DefaultLogger() *slog.Logger {
	return NewLogger(false)
}

// NewLogger logs to stderr, at debug level when verbose.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
