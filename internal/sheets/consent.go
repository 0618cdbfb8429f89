package sheets

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GrantOutcome distinguishes the result variants of a credential exchange.
type GrantOutcome int

const (
	GrantIssued GrantOutcome = iota + 1
	GrantDenied
	GrantFailed
)

func (o GrantOutcome) String() string {
	switch o {
	case GrantIssued:
		return "issued"
	case GrantDenied:
		return "denied"
	case GrantFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Grant is the single result of a credential exchange.
type Grant struct {
	Outcome GrantOutcome
	Token   *oauth2.Token
	// Source refreshes Token when it expires. Nil means Token is used as is.
	Source oauth2.TokenSource
	Reason string
	Err    error
}

// Presenter hands the consent URL to the identity surface.
type Presenter func(ctx context.Context, authURL string) error

// CredentialExchanger requests an access credential after interactive consent.
type CredentialExchanger interface {
	RequestToken(ctx context.Context, present Presenter) Grant
}

// ConsentCompleter accepts the identity provider's redirect for a pending request.
type ConsentCompleter interface {
	Complete(ctx context.Context, state, code, errCode string) error
}

// ExchangerFactory builds the credential-exchange handle during init.
type ExchangerFactory func(clientID string, scopes []string) (CredentialExchanger, error)

// OAuthConfig configures the authorization-code exchanger.
type OAuthConfig struct {
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to Google's.
	Endpoint oauth2.Endpoint
}

// NewOAuthExchangerFactory returns a factory for OAuthExchanger.
func NewOAuthExchangerFactory(cfg OAuthConfig) ExchangerFactory {
	return func(clientID string, scopes []string) (CredentialExchanger, error) {
		if strings.TrimSpace(cfg.RedirectURL) == "" {
			return nil, errors.New("sheets: oauth redirect URL is required")
		}
		endpoint := cfg.Endpoint
		if endpoint.AuthURL == "" {
			endpoint = google.Endpoint
		}
		return &OAuthExchanger{
			config: &oauth2.Config{
				ClientID:     clientID,
				ClientSecret: cfg.ClientSecret,
				RedirectURL:  cfg.RedirectURL,
				Scopes:       append([]string(nil), scopes...),
				Endpoint:     endpoint,
			},
		}, nil
	}
}

// OAuthExchanger runs the OAuth 2.0 authorization-code flow with PKCE and a
// forced consent prompt. It holds at most one pending request.
type OAuthExchanger struct {
	config *oauth2.Config

	mu      sync.Mutex
	pending *pendingGrant
}

type pendingGrant struct {
	state    string
	verifier string
	done     chan Grant
}

// RequestToken presents the consent URL and waits for Complete.
func (e *OAuthExchanger) RequestToken(ctx context.Context, present Presenter) Grant {
	p := &pendingGrant{
		state:    uuid.NewString(),
		verifier: oauth2.GenerateVerifier(),
		done:     make(chan Grant, 1),
	}

	e.mu.Lock()
	if prev := e.pending; prev != nil {
		prev.done <- Grant{Outcome: GrantFailed, Err: ErrConsentSuperseded}
	}
	e.pending = p
	e.mu.Unlock()

	authURL := e.config.AuthCodeURL(p.state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(p.verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	if err := present(ctx, authURL); err != nil {
		e.release(p)
		return Grant{Outcome: GrantFailed, Err: err}
	}

	select {
	case g := <-p.done:
		return g
	case <-ctx.Done():
		e.release(p)
		return Grant{Outcome: GrantFailed, Err: ctx.Err()}
	}
}

// Complete delivers the redirect parameters to the pending request.
func (e *OAuthExchanger) Complete(ctx context.Context, state, code, errCode string) error {
	e.mu.Lock()
	p := e.pending
	if p == nil || p.state != state {
		e.mu.Unlock()
		return ErrUnknownConsentState
	}
	e.pending = nil
	e.mu.Unlock()

	switch {
	case errCode == "access_denied":
		p.done <- Grant{Outcome: GrantDenied, Reason: errCode}
		return nil
	case errCode != "":
		p.done <- Grant{Outcome: GrantFailed, Reason: errCode}
		return nil
	case code == "":
		p.done <- Grant{Outcome: GrantFailed, Reason: "missing authorization code"}
		return nil
	}

	tok, err := e.config.Exchange(ctx, code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		p.done <- Grant{Outcome: GrantFailed, Err: err}
		return err
	}
	if tok.AccessToken == "" {
		p.done <- Grant{Outcome: GrantFailed, Reason: "no access token in response"}
		return nil
	}
	p.done <- Grant{
		Outcome: GrantIssued,
		Token:   tok,
		Source:  e.config.TokenSource(context.WithoutCancel(ctx), tok),
	}
	return nil
}

func (e *OAuthExchanger) release(p *pendingGrant) {
	e.mu.Lock()
	if e.pending == p {
		e.pending = nil
	}
	e.mu.Unlock()
}

// tokenHolder is the credential slot the configured remote authenticates with.
type tokenHolder struct {
	mu  sync.RWMutex
	src oauth2.TokenSource
}

// Token implements oauth2.TokenSource.
func (h *tokenHolder) Token() (*oauth2.Token, error) {
	h.mu.RLock()
	src := h.src
	h.mu.RUnlock()
	if src == nil {
		return nil, ErrNotSignedIn
	}
	return src.Token()
}

func (h *tokenHolder) set(g Grant) {
	src := g.Source
	if src == nil {
		src = oauth2.StaticTokenSource(g.Token)
	}
	h.mu.Lock()
	h.src = oauth2.ReuseTokenSource(g.Token, src)
	h.mu.Unlock()
}

func (h *tokenHolder) clear() {
	h.mu.Lock()
	h.src = nil
	h.mu.Unlock()
}

func (h *tokenHolder) present() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.src != nil
}

// TokenRefresher rebuilds a refreshing source for a previously issued token.
type TokenRefresher interface {
	TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource
}

// TokenSource implements TokenRefresher.
func (e *OAuthExchanger) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return e.config.TokenSource(context.WithoutCancel(ctx), tok)
}
