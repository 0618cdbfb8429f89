package bootstrap

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	appconfig "github.com/wolfman30/patient-sheets/internal/config"
	"github.com/wolfman30/patient-sheets/internal/observability/metrics"
	"github.com/wolfman30/patient-sheets/internal/patients"
	"github.com/wolfman30/patient-sheets/internal/selection"
	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// SessionDeps carries the optional collaborators of a production session.
type SessionDeps struct {
	Selector   *selection.Selector
	TokenCache sheets.TokenCache
	Metrics    *metrics.SessionMetrics
	Logger     *logging.Logger
	// RedirectURL overrides cfg.GoogleRedirectURL, e.g. for a loopback listener.
	RedirectURL string
}

// NewGoogleHTTPClient returns the traced HTTP client used for Google calls.
func NewGoogleHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// BuildSession wires a spreadsheet session against the Google APIs.
// Missing credentials are not an error here; they surface as a
// ConfigurationError on first use.
func BuildSession(cfg *appconfig.Config, deps SessionDeps) *sheets.Session {
	client := NewGoogleHTTPClient()
	redirect := deps.RedirectURL
	if redirect == "" {
		redirect = cfg.GoogleRedirectURL
	}
	return sheets.NewSession(sheets.Options{
		APIKey:      cfg.GoogleAPIKey,
		ClientID:    cfg.GoogleClientID,
		Observers:   sheets.GoogleObservers(client, cfg.ReadinessPollInterval, cfg.ReadinessTimeout),
		Loader:      sheets.NewGoogleLoader(sheets.GoogleLoaderConfig{HTTPClient: client}),
		LoadTimeout: cfg.ClientLoadTimeout,
		NewExchanger: sheets.NewOAuthExchangerFactory(sheets.OAuthConfig{
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  redirect,
		}),
		Template:   patients.Template(),
		Selector:   deps.Selector,
		TokenCache: deps.TokenCache,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
	})
}
