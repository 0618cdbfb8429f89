// Package sheets owns the spreadsheet API client session: initialization,
// credential exchange and the record-level operations built on top of it.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/googleapi"

	"github.com/wolfman30/patient-sheets/internal/observability/metrics"
	"github.com/wolfman30/patient-sheets/internal/selection"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

var tracer = otel.Tracer("patientsheets.internal.sheets")

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultLoadTimeout bounds the client library load step.
const DefaultLoadTimeout = 5 * time.Second

// Options configures a Session.
type Options struct {
	APIKey       string
	ClientID     string
	Scopes       []string
	Capabilities []string

	Observers    []ReadinessObserver
	Loader       Loader
	NewExchanger ExchangerFactory
	LoadTimeout  time.Duration

	// Template is written into containers created by CreateContainer.
	Template Template

	Selector   *selection.Selector
	TokenCache TokenCache
	Metrics    *metrics.SessionMetrics
	Logger     *logging.Logger
}

// Session is the spreadsheet client manager. The zero value is not usable;
// construct with NewSession.
type Session struct {
	opts     Options
	selector *selection.Selector
	metrics  *metrics.SessionMetrics
	logger   *logging.Logger
	tokens   *tokenHolder

	group singleflight.Group

	mu         sync.RWMutex
	state      State
	lastErr    error
	remote     Remote
	exchanger  CredentialExchanger
	containers []Container
}

// NewSession creates a Session in the Uninitialized state.
func NewSession(opts Options) *Session {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = DefaultScopes
	}
	if len(opts.Capabilities) == 0 {
		opts.Capabilities = DefaultCapabilities
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	selector := opts.Selector
	if selector == nil {
		selector = selection.NewSelector(selection.NewMemoryStore())
	}
	return &Session{
		opts:     opts,
		selector: selector,
		metrics:  opts.Metrics,
		logger:   opts.Logger.Component("sheets"),
		tokens:   &tokenHolder{},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status is a snapshot of the session for display.
type Status struct {
	State     string `json:"state"`
	SignedIn  bool   `json:"signed_in"`
	LastError string `json:"last_error,omitempty"`
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{State: s.state.String(), SignedIn: s.tokens.present()}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Selector returns the selected-container accessor.
func (s *Session) Selector() *selection.Selector {
	return s.selector
}

// EnsureReady runs the initialization sequence unless the session is Ready.
// Concurrent callers share one run and receive the same outcome. The run is
// not cancelled when a caller's context ends; the caller just stops waiting.
func (s *Session) EnsureReady(ctx context.Context) error {
	if s.State() == StateReady {
		return nil
	}

	ch := s.group.DoChan("init", func() (interface{}, error) {
		return nil, s.initialize(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	s.state = StateInitializing
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "sheets.initialize")
	defer span.End()

	start := time.Now()
	remote, exchanger, err := s.runInit(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		s.state = StateFailed
		s.lastErr = err
		s.metrics.ObserveInit("failed", time.Since(start).Seconds())
		s.logger.Error("google api initialization failed", "error", err)
		return err
	}
	s.remote = remote
	s.exchanger = exchanger
	s.state = StateReady
	s.lastErr = nil
	s.metrics.ObserveInit("ready", time.Since(start).Seconds())
	s.logger.Info("google api initialized", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Session) runInit(ctx context.Context) (Remote, CredentialExchanger, error) {
	// a. both external surfaces
	g, gctx := errgroup.WithContext(ctx)
	for _, obs := range s.opts.Observers {
		obs := obs
		g.Go(func() error { return obs.Await(gctx) })
	}
	if err := g.Wait(); err != nil {
		var sle *ScriptLoadError
		if errors.As(err, &sle) {
			return nil, nil, err
		}
		return nil, nil, &ScriptLoadError{Surface: "external surface", Err: err}
	}

	// b. client library, bounded
	lib, err := s.loadLibrary(ctx)
	if err != nil {
		return nil, nil, err
	}

	// c. required settings
	if strings.TrimSpace(s.opts.APIKey) == "" {
		return nil, nil, &ConfigurationError{Setting: "Google API key"}
	}
	if strings.TrimSpace(s.opts.ClientID) == "" {
		return nil, nil, &ConfigurationError{Setting: "Google client ID"}
	}

	// d. configure the remote client
	remote, err := lib.Configure(ctx, ClientConfig{
		APIKey:       s.opts.APIKey,
		Capabilities: s.opts.Capabilities,
		TokenSource:  s.tokens,
	})
	if err != nil {
		return nil, nil, classifyConfigureError(err)
	}

	// e. credential-exchange handle
	if s.opts.NewExchanger == nil {
		return nil, nil, &InitializationError{Err: errors.New("no credential exchanger configured")}
	}
	exchanger, err := s.opts.NewExchanger(s.opts.ClientID, s.opts.Scopes)
	if err != nil {
		return nil, nil, &InitializationError{Err: err}
	}
	s.restoreCachedToken(ctx, exchanger)

	return remote, exchanger, nil
}

func (s *Session) loadLibrary(ctx context.Context) (Library, error) {
	if s.opts.Loader == nil {
		return nil, &ScriptLoadError{Surface: "Google API client", Err: errors.New("no loader configured")}
	}
	loadCtx, cancel := context.WithTimeout(ctx, s.opts.LoadTimeout)
	defer cancel()

	type result struct {
		lib Library
		err error
	}
	done := make(chan result, 1)
	go func() {
		lib, err := s.opts.Loader.Load(loadCtx)
		done <- result{lib: lib, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, &ScriptLoadError{Surface: "Google API client", Err: fmt.Errorf("timeout after %s", s.opts.LoadTimeout)}
			}
			return nil, &ScriptLoadError{Surface: "Google API client", Err: res.err}
		}
		if res.lib == nil {
			return nil, &ScriptLoadError{Surface: "Google API client", Err: errors.New("client is not available")}
		}
		return res.lib, nil
	case <-loadCtx.Done():
		return nil, &ScriptLoadError{Surface: "Google API client", Err: fmt.Errorf("timeout after %s", s.opts.LoadTimeout)}
	}
}

func classifyConfigureError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusForbidden:
			return &CapabilityError{Err: err}
		case http.StatusBadRequest:
			return &ConfigurationError{Err: err}
		}
	}
	return &InitializationError{Err: err}
}

// Reset drops the configured client and credential so the next operation
// re-runs initialization.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.state = StateUninitialized
	s.remote = nil
	s.exchanger = nil
	s.tokens.clear()
}

// SignIn ensures the session is ready and runs one credential exchange. Only
// one request may be outstanding; a second one supersedes the first.
func (s *Session) SignIn(ctx context.Context, present Presenter) (*oauth2.Token, error) {
	ctx, span := tracer.Start(ctx, "sheets.sign_in")
	defer span.End()

	if err := s.EnsureReady(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	_, exchanger, ok := s.client()
	if !ok {
		return nil, &OperationError{Op: "sign in", Err: errors.New("session was reset")}
	}

	grant := exchanger.RequestToken(ctx, present)
	s.metrics.ObserveSignIn(grant.Outcome.String())
	switch grant.Outcome {
	case GrantIssued:
		s.tokens.set(grant)
		if s.opts.TokenCache != nil {
			if err := s.opts.TokenCache.SaveToken(ctx, grant.Token); err != nil {
				s.logger.Warn("failed to cache credential", "error", err)
			}
		}
		s.logger.Info("credential received")
		return grant.Token, nil
	case GrantDenied:
		err := &ConsentError{Denied: true, Reason: grant.Reason}
		span.RecordError(err)
		return nil, err
	default:
		err := &ConsentError{Reason: grant.Reason, Err: grant.Err}
		span.RecordError(err)
		return nil, err
	}
}

// CompleteSignIn forwards the identity provider's redirect to the pending
// credential exchange.
func (s *Session) CompleteSignIn(ctx context.Context, state, code, errCode string) error {
	_, exchanger, ok := s.client()
	if !ok {
		return ErrUnknownConsentState
	}
	completer, ok := exchanger.(ConsentCompleter)
	if !ok {
		return fmt.Errorf("sheets: exchanger %T does not accept redirects", exchanger)
	}
	return completer.Complete(ctx, state, code, errCode)
}

func (s *Session) restoreCachedToken(ctx context.Context, exchanger CredentialExchanger) {
	if s.opts.TokenCache == nil || s.tokens.present() {
		return
	}
	tok, err := s.opts.TokenCache.LoadToken(ctx)
	if err != nil {
		s.logger.Warn("failed to read cached credential", "error", err)
		return
	}
	if tok == nil || (!tok.Valid() && tok.RefreshToken == "") {
		return
	}
	grant := Grant{Outcome: GrantIssued, Token: tok}
	if refresher, ok := exchanger.(TokenRefresher); ok {
		grant.Source = refresher.TokenSource(ctx, tok)
	}
	s.tokens.set(grant)
}

func (s *Session) client() (Remote, CredentialExchanger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady || s.remote == nil {
		return nil, nil, false
	}
	return s.remote, s.exchanger, true
}

// remoteCall performs one remote call with tracing, metrics and error wrapping.
func (s *Session) remoteCall(ctx context.Context, op string, fn func(ctx context.Context, remote Remote) error) error {
	remote, _, ok := s.client()
	if !ok {
		return &OperationError{Op: op, Err: errors.New("session was reset")}
	}

	start := time.Now()
	err := fn(ctx, remote)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveRemoteCall(op, status, time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		s.logger.Warn("authorization rejected; session reset", "op", op)
		s.Reset()
	}
	s.logger.Error("remote call failed", "op", op, "error", err)
	return &OperationError{Op: op, Err: err}
}

func (s *Session) selectedContainer(ctx context.Context) (string, error) {
	id, err := s.selector.Get(ctx)
	if err != nil {
		return "", &OperationError{Op: "read selected spreadsheet", Err: err}
	}
	if id == "" {
		return "", ErrNoContainerSelected
	}
	return id, nil
}

// ListContainers lists spreadsheets visible to the signed-in user, most
// recently modified first.
func (s *Session) ListContainers(ctx context.Context) ([]Container, error) {
	ctx, span := tracer.Start(ctx, "sheets.list_containers")
	defer span.End()

	if err := s.EnsureReady(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	var out []Container
	err := s.remoteCall(ctx, "list spreadsheets", func(ctx context.Context, r Remote) error {
		var err error
		out, err = r.ListSpreadsheets(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if out == nil {
		out = []Container{}
	}
	s.mu.Lock()
	s.containers = out
	s.mu.Unlock()
	return out, nil
}

// Containers returns the listing cached by the last ListContainers call.
func (s *Session) Containers() []Container {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Container(nil), s.containers...)
}

// CreateContainer creates a spreadsheet with the template sheet, writes the
// header row and refreshes the cached listing.
func (s *Session) CreateContainer(ctx context.Context, name string) (*Container, error) {
	ctx, span := tracer.Start(ctx, "sheets.create_container")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &OperationError{Op: "create spreadsheet", Err: errors.New("name is required")}
	}
	if err := s.EnsureReady(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	tmpl := s.opts.Template
	var created *Container
	err := s.remoteCall(ctx, "create spreadsheet", func(ctx context.Context, r Remote) error {
		var err error
		created, err = r.CreateSpreadsheet(ctx, name, tmpl)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("sheets.spreadsheet_id", created.ID))

	if len(tmpl.Header) > 0 {
		header := RowRange(tmpl.SheetTitle, 1, len(tmpl.Header))
		err = s.remoteCall(ctx, "write header row", func(ctx context.Context, r Remote) error {
			_, err := r.UpdateValues(ctx, created.ID, header, [][]string{tmpl.Header})
			return err
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if _, err := s.ListContainers(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("spreadsheet created", "spreadsheet_id", created.ID)
	return created, nil
}

// ReadRange returns the values of rng in the selected container.
func (s *Session) ReadRange(ctx context.Context, rng string) ([][]string, error) {
	ctx, span := tracer.Start(ctx, "sheets.read_range")
	defer span.End()
	span.SetAttributes(attribute.String("sheets.range", rng))

	if err := s.EnsureReady(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	id, err := s.selectedContainer(ctx)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	err = s.remoteCall(ctx, "get spreadsheet data", func(ctx context.Context, r Remote) error {
		var err error
		rows, err = r.GetValues(ctx, id, rng)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return rows, nil
}

// WriteRange overwrites rng in the selected container.
func (s *Session) WriteRange(ctx context.Context, rng string, rows [][]string) (*UpdateResult, error) {
	ctx, span := tracer.Start(ctx, "sheets.write_range")
	defer span.End()
	span.SetAttributes(attribute.String("sheets.range", rng))

	if err := s.EnsureReady(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	id, err := s.selectedContainer(ctx)
	if err != nil {
		return nil, err
	}
	var res *UpdateResult
	err = s.remoteCall(ctx, "update values", func(ctx context.Context, r Remote) error {
		var err error
		res, err = r.UpdateValues(ctx, id, rng, rows)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// AppendRows inserts rows after the table found in rng.
func (s *Session) AppendRows(ctx context.Context, rng string, rows [][]string) (*UpdateResult, error) {
	ctx, span := tracer.Start(ctx, "sheets.append_rows")
	defer span.End()
	span.SetAttributes(attribute.String("sheets.range", rng), attribute.Int("sheets.rows", len(rows)))

	if err := s.EnsureReady(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	id, err := s.selectedContainer(ctx)
	if err != nil {
		return nil, err
	}
	var res *UpdateResult
	err = s.remoteCall(ctx, "append values", func(ctx context.Context, r Remote) error {
		var err error
		res, err = r.AppendValues(ctx, id, rng, rows)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

// UpdateRow overwrites the 1-based row rowIndex of sheetName.
func (s *Session) UpdateRow(ctx context.Context, sheetName string, rowIndex int, values []string) error {
	if rowIndex < 1 {
		return &OperationError{Op: "update row", Err: fmt.Errorf("invalid row index %d", rowIndex)}
	}
	_, err := s.WriteRange(ctx, RowRange(sheetName, rowIndex, len(values)), [][]string{values})
	return err
}

// DeleteRow removes the 1-based row rowIndex of sheetName. The sheet's
// numeric id is looked up by title first; a missing sheet is a NotFoundError
// and nothing is deleted.
func (s *Session) DeleteRow(ctx context.Context, sheetName string, rowIndex int) error {
	ctx, span := tracer.Start(ctx, "sheets.delete_row")
	defer span.End()
	span.SetAttributes(attribute.String("sheets.sheet", sheetName), attribute.Int("sheets.row", rowIndex))

	if rowIndex < 1 {
		return &OperationError{Op: "delete row", Err: fmt.Errorf("invalid row index %d", rowIndex)}
	}
	if err := s.EnsureReady(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	id, err := s.selectedContainer(ctx)
	if err != nil {
		return err
	}

	var sheets []Sheet
	err = s.remoteCall(ctx, "get spreadsheet metadata", func(ctx context.Context, r Remote) error {
		var err error
		sheets, err = r.Sheets(ctx, id)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	sheetID, found := int64(0), false
	for _, sh := range sheets {
		if sh.Title == sheetName {
			sheetID, found = sh.ID, true
			break
		}
	}
	if !found {
		err := &NotFoundError{Kind: "sheet", Name: sheetName}
		span.RecordError(err)
		return err
	}

	err = s.remoteCall(ctx, "delete row", func(ctx context.Context, r Remote) error {
		return r.DeleteRows(ctx, id, sheetID, int64(rowIndex-1), int64(rowIndex))
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
