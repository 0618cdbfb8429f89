package sheets_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/wolfman30/patient-sheets/internal/selection"
	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/internal/sheets/sheetstest"
)

var patientTemplate = sheets.Template{
	SheetTitle: "Patients",
	Header:     []string{"Patient ID", "Patient Name", "Age", "Gender", "Phone", "Location", "Address", "Prescription", "Dose", "Visit Date", "Next Visit", "Physician Name", "Physician ID", "Physician Phone", "Bill"},
}

type countingLibrary struct {
	calls  atomic.Int32
	remote sheets.Remote
	err    error
}

func (l *countingLibrary) Configure(ctx context.Context, cfg sheets.ClientConfig) (sheets.Remote, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.remote, nil
}

func selectedSession(t *testing.T, remote *sheetstest.Remote, id string) *sheets.Session {
	t.Helper()
	sel := selection.NewSelector(selection.NewMemoryStore())
	if err := sel.Set(context.Background(), id); err != nil {
		t.Fatalf("select: %v", err)
	}
	return sheetstest.NewSession(remote, sheets.Options{Selector: sel, Template: patientTemplate})
}

func TestEnsureReadyRunsInitOnce(t *testing.T) {
	var loads atomic.Int32
	started := make(chan struct{})
	gate := make(chan struct{})
	lib := &countingLibrary{remote: sheetstest.NewRemote()}

	session := sheetstest.NewSession(nil, sheets.Options{
		Loader: sheets.LoaderFunc(func(ctx context.Context) (sheets.Library, error) {
			if loads.Add(1) == 1 {
				close(started)
			}
			<-gate
			return lib, nil
		}),
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = session.EnsureReady(context.Background())
		}(i)
	}

	<-started
	if got := session.State(); got != sheets.StateInitializing {
		t.Fatalf("expected initializing, got %s", got)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if loads.Load() != 1 || lib.calls.Load() != 1 {
		t.Fatalf("expected one load and configure, got %d/%d", loads.Load(), lib.calls.Load())
	}
	if session.State() != sheets.StateReady {
		t.Fatalf("expected ready, got %s", session.State())
	}

	// already ready: no further work
	if err := session.EnsureReady(context.Background()); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if loads.Load() != 1 {
		t.Fatalf("expected no reload, got %d loads", loads.Load())
	}
}

func TestEnsureReadySharesFailure(t *testing.T) {
	var loads atomic.Int32
	started := make(chan struct{})
	gate := make(chan struct{})
	boom := errors.New("network unreachable")

	session := sheetstest.NewSession(nil, sheets.Options{
		Loader: sheets.LoaderFunc(func(ctx context.Context) (sheets.Library, error) {
			if loads.Add(1) == 1 {
				close(started)
			}
			<-gate
			return nil, boom
		}),
	})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = session.EnsureReady(context.Background())
		}(i)
	}
	<-started
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		var sle *sheets.ScriptLoadError
		if !errors.As(err, &sle) || !errors.Is(err, boom) {
			t.Fatalf("caller %d: expected script load error wrapping cause, got %v", i, err)
		}
	}
	if loads.Load() != 1 {
		t.Fatalf("expected one load, got %d", loads.Load())
	}
	if session.State() != sheets.StateFailed {
		t.Fatalf("expected failed, got %s", session.State())
	}
}

func TestEnsureReadyRetriesAfterFailure(t *testing.T) {
	var loads atomic.Int32
	lib := &countingLibrary{remote: sheetstest.NewRemote()}
	session := sheetstest.NewSession(nil, sheets.Options{
		Loader: sheets.LoaderFunc(func(ctx context.Context) (sheets.Library, error) {
			if loads.Add(1) == 1 {
				return nil, errors.New("flaky")
			}
			return lib, nil
		}),
	})

	if err := session.EnsureReady(context.Background()); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if got := session.Status().LastError; !strings.Contains(got, "flaky") {
		t.Fatalf("expected last error recorded, got %q", got)
	}
	if err := session.EnsureReady(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if session.State() != sheets.StateReady || session.Status().LastError != "" {
		t.Fatalf("unexpected status %+v", session.Status())
	}
}

func TestEnsureReadyCallerCancelDoesNotAbortInit(t *testing.T) {
	var loads atomic.Int32
	started := make(chan struct{})
	gate := make(chan struct{})
	lib := &countingLibrary{remote: sheetstest.NewRemote()}
	session := sheetstest.NewSession(nil, sheets.Options{
		Loader: sheets.LoaderFunc(func(ctx context.Context) (sheets.Library, error) {
			loads.Add(1)
			close(started)
			<-gate
			return lib, nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.EnsureReady(ctx) }()
	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(gate)
	if err := session.EnsureReady(context.Background()); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if loads.Load() != 1 {
		t.Fatalf("expected a single load, got %d", loads.Load())
	}
}

func TestEnsureReadyMissingSettings(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		clientID string
		setting  string
	}{
		{name: "api key", apiKey: " ", clientID: "client", setting: "Google API key"},
		{name: "client id", apiKey: "key", clientID: " ", setting: "Google client ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := &countingLibrary{remote: sheetstest.NewRemote()}
			session := sheets.NewSession(sheets.Options{
				APIKey:   tt.apiKey,
				ClientID: tt.clientID,
				Loader:   sheets.LoaderFunc(func(context.Context) (sheets.Library, error) { return lib, nil }),
			})
			err := session.EnsureReady(context.Background())
			var cfgErr *sheets.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Setting != tt.setting {
				t.Fatalf("expected configuration error for %s, got %v", tt.setting, err)
			}
			if lib.calls.Load() != 0 {
				t.Fatal("configure should not be attempted")
			}
		})
	}
}

func TestEnsureReadyClassifiesConfigureErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name:  "forbidden",
			err:   &googleapi.Error{Code: http.StatusForbidden, Message: "API not enabled"},
			check: func(err error) bool { var e *sheets.CapabilityError; return errors.As(err, &e) },
		},
		{
			name:  "bad request",
			err:   &googleapi.Error{Code: http.StatusBadRequest, Message: "API key not valid"},
			check: func(err error) bool { var e *sheets.ConfigurationError; return errors.As(err, &e) && e.Setting == "" },
		},
		{
			name:  "server error",
			err:   &googleapi.Error{Code: http.StatusInternalServerError},
			check: func(err error) bool { var e *sheets.InitializationError; return errors.As(err, &e) },
		},
		{
			name:  "transport",
			err:   errors.New("connection reset"),
			check: func(err error) bool { var e *sheets.InitializationError; return errors.As(err, &e) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := &countingLibrary{err: tt.err}
			session := sheetstest.NewSession(nil, sheets.Options{
				Loader: sheets.LoaderFunc(func(context.Context) (sheets.Library, error) { return lib, nil }),
			})
			err := session.EnsureReady(context.Background())
			if !tt.check(err) {
				t.Fatalf("unexpected error type %T: %v", err, err)
			}
		})
	}
}

func TestEnsureReadyLoadTimeout(t *testing.T) {
	session := sheetstest.NewSession(nil, sheets.Options{
		LoadTimeout: 20 * time.Millisecond,
		Loader: sheets.LoaderFunc(func(ctx context.Context) (sheets.Library, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})

	start := time.Now()
	err := session.EnsureReady(context.Background())
	var sle *sheets.ScriptLoadError
	if !errors.As(err, &sle) {
		t.Fatalf("expected script load error, got %v", err)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected timeout message, got %q", err.Error())
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("load bound was not enforced")
	}
}

func TestEnsureReadyWaitsForObservers(t *testing.T) {
	var loads atomic.Int32
	session := sheetstest.NewSession(nil, sheets.Options{
		Observers: []sheets.ReadinessObserver{
			sheets.Ready,
			sheets.ReadinessFunc(func(context.Context) error {
				return &sheets.ScriptLoadError{Surface: "Google Identity Services", Err: errors.New("blocked")}
			}),
		},
		Loader: sheets.LoaderFunc(func(context.Context) (sheets.Library, error) {
			loads.Add(1)
			return &countingLibrary{}, nil
		}),
	})

	err := session.EnsureReady(context.Background())
	var sle *sheets.ScriptLoadError
	if !errors.As(err, &sle) || sle.Surface != "Google Identity Services" {
		t.Fatalf("expected identity surface failure, got %v", err)
	}
	if loads.Load() != 0 {
		t.Fatal("loader should not run before surfaces are ready")
	}
}

func TestAppendThenReadRoundTrip(t *testing.T) {
	remote := sheetstest.NewRemote()
	remote.AddSpreadsheet("S1", "Clinic", "Patients")
	session := selectedSession(t, remote, "S1")
	ctx := context.Background()

	row := []string{"P1", "Ann", "30", "Female", "555", "Pune", "", "X", "1", "2024-01-01", "", "Dr", "D1", "777", "100"}
	res, err := session.AppendRows(ctx, "Patients!A2:O2", [][]string{row})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if res.Rows != 1 || res.Columns != 15 {
		t.Fatalf("unexpected result %+v", res)
	}

	got, err := session.ReadRange(ctx, "Patients!A1:O")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || strings.Join(got[0], ",") != strings.Join(row, ",") {
		t.Fatalf("unexpected rows %v", got)
	}
}

func TestRangeOpsRequireSelection(t *testing.T) {
	remote := sheetstest.NewRemote()
	remote.AddSpreadsheet("S1", "Clinic", "Patients")
	session := sheetstest.NewSession(remote, sheets.Options{})
	ctx := context.Background()

	if _, err := session.ReadRange(ctx, "Patients!A1:O"); !errors.Is(err, sheets.ErrNoContainerSelected) {
		t.Fatalf("read: expected ErrNoContainerSelected, got %v", err)
	}
	if _, err := session.AppendRows(ctx, "Patients!A2:O2", [][]string{{"P1"}}); !errors.Is(err, sheets.ErrNoContainerSelected) {
		t.Fatalf("append: expected ErrNoContainerSelected, got %v", err)
	}
	if err := session.DeleteRow(ctx, "Patients", 2); !errors.Is(err, sheets.ErrNoContainerSelected) {
		t.Fatalf("delete: expected ErrNoContainerSelected, got %v", err)
	}
	if len(remote.Calls()) != 0 {
		t.Fatalf("expected no remote writes, got %v", remote.Calls())
	}
}

func TestUpdateRowWritesFullRowRange(t *testing.T) {
	remote := sheetstest.NewRemote()
	remote.AddSpreadsheet("S1", "Clinic", "Patients")
	session := selectedSession(t, remote, "S1")
	ctx := context.Background()

	values := make([]string, 15)
	values[0] = "P1"
	if err := session.UpdateRow(ctx, "Patients", 3, values); err != nil {
		t.Fatalf("update: %v", err)
	}
	calls := remote.Calls()
	if len(calls) != 1 || calls[0].Range != "Patients!A3:O3" {
		t.Fatalf("unexpected calls %v", calls)
	}
	if err := session.UpdateRow(ctx, "Patients", 0, values); err == nil {
		t.Fatal("expected invalid row index error")
	}
}

func TestDeleteRow(t *testing.T) {
	remote := sheetstest.NewRemote()
	remote.AddSpreadsheet("S1", "Clinic", "Other", "Patients")
	session := selectedSession(t, remote, "S1")
	ctx := context.Background()

	for _, id := range []string{"H", "R1", "R2", "R3"} {
		if _, err := session.AppendRows(ctx, "Patients!A1:O1", [][]string{{id}}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := session.DeleteRow(ctx, "Patients", 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows := remote.Rows("S1", "Patients")
	var ids []string
	for _, r := range rows {
		ids = append(ids, r[0])
	}
	if strings.Join(ids, ",") != "H,R1,R3" {
		t.Fatalf("unexpected rows after delete: %v", ids)
	}
}

func TestDeleteRowMissingSheet(t *testing.T) {
	remote := sheetstest.NewRemote()
	remote.AddSpreadsheet("S1", "Clinic", "Sheet1")
	session := selectedSession(t, remote, "S1")

	err := session.DeleteRow(context.Background(), "Patients", 2)
	var nf *sheets.NotFoundError
	if !errors.As(err, &nf) || nf.Name != "Patients" {
		t.Fatalf("expected not found error, got %v", err)
	}
	for _, c := range remote.Calls() {
		if c.Op == "delete" {
			t.Fatal("no destructive call expected")
		}
	}
}

func TestCreateContainerWritesHeaderAndRefreshesListing(t *testing.T) {
	remote := sheetstest.NewRemote()
	remote.AddSpreadsheet("S1", "Existing", "Patients")
	session := sheetstest.NewSession(remote, sheets.Options{Template: patientTemplate})
	ctx := context.Background()

	created, err := session.CreateContainer(ctx, "New Clinic")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rows := remote.Rows(created.ID, "Patients")
	if len(rows) != 1 || len(rows[0]) != 15 || rows[0][0] != "Patient ID" || rows[0][14] != "Bill" {
		t.Fatalf("unexpected header rows %v", rows)
	}
	listing := session.Containers()
	if len(listing) != 2 || listing[0].ID != created.ID {
		t.Fatalf("expected refreshed listing with new container first, got %v", listing)
	}
	if session.Selector().IsSelected(ctx) {
		t.Fatal("create should not change the selection")
	}

	if _, err := session.CreateContainer(ctx, "  "); err == nil {
		t.Fatal("expected error for blank name")
	}
}

func TestRemoteFailureWrapsOperationError(t *testing.T) {
	remote := sheetstest.NewRemote()
	remote.AddSpreadsheet("S1", "Clinic", "Patients")
	session := selectedSession(t, remote, "S1")
	ctx := context.Background()
	if err := session.EnsureReady(ctx); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}

	remote.Err = errors.New("quota exceeded")
	_, err := session.ReadRange(ctx, "Patients!A1:O")
	var opErr *sheets.OperationError
	if !errors.As(err, &opErr) || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected operation error, got %v", err)
	}
	if session.State() != sheets.StateReady {
		t.Fatal("ordinary failures keep the session ready")
	}

	remote.Err = &googleapi.Error{Code: http.StatusUnauthorized}
	if _, err := session.ReadRange(ctx, "Patients!A1:O"); err == nil {
		t.Fatal("expected error")
	}
	if session.State() != sheets.StateUninitialized {
		t.Fatalf("expected reset after 401, got %s", session.State())
	}
}

func TestSignInOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		grant  sheets.Grant
		denied bool
		ok     bool
	}{
		{name: "issued", grant: sheetstest.IssuedExchanger("tok").Grant, ok: true},
		{name: "denied", grant: sheets.Grant{Outcome: sheets.GrantDenied, Reason: "access_denied"}, denied: true},
		{name: "failed", grant: sheets.Grant{Outcome: sheets.GrantFailed, Reason: "popup_closed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &sheetstest.Exchanger{Grant: tt.grant}
			session := sheetstest.NewSession(sheetstest.NewRemote(), sheets.Options{
				NewExchanger: func(string, []string) (sheets.CredentialExchanger, error) { return ex, nil },
			})
			var presented string
			tok, err := session.SignIn(context.Background(), func(_ context.Context, url string) error {
				presented = url
				return nil
			})
			if presented == "" {
				t.Fatal("expected consent url to be presented")
			}
			if tt.ok {
				if err != nil || tok.AccessToken != "tok" {
					t.Fatalf("sign in: %v", err)
				}
				if !session.Status().SignedIn {
					t.Fatal("expected signed in")
				}
				return
			}
			var ce *sheets.ConsentError
			if !errors.As(err, &ce) || ce.Denied != tt.denied {
				t.Fatalf("expected consent error denied=%v, got %v", tt.denied, err)
			}
			if tt.denied && !strings.Contains(err.Error(), "access was denied") {
				t.Fatalf("unexpected message %q", err.Error())
			}
			if session.Status().SignedIn {
				t.Fatal("should not be signed in")
			}
		})
	}
}

func TestSignInCachesAndRestoresToken(t *testing.T) {
	store := selection.NewMemoryStore()
	cache := sheets.NewStoreTokenCache(store)
	remote := sheetstest.NewRemote()
	ctx := context.Background()

	first := sheetstest.NewSession(remote, sheets.Options{TokenCache: cache})
	if _, err := first.SignIn(ctx, nil); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	second := sheetstest.NewSession(remote, sheets.Options{TokenCache: cache})
	if err := second.EnsureReady(ctx); err != nil {
		t.Fatalf("ensure ready: %v", err)
	}
	if !second.Status().SignedIn {
		t.Fatal("expected cached credential to be restored")
	}
}
