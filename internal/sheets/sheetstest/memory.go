// Package sheetstest provides in-memory doubles for the sheets package.
package sheetstest

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/wolfman30/patient-sheets/internal/sheets"
)

type book struct {
	name   string
	sheets []sheets.Sheet
	grids  map[string][][]string
}

// Call records one mutating call made against a Remote.
type Call struct {
	Op            string
	SpreadsheetID string
	Range         string
}

// Remote is an in-memory sheets.Remote. Ranges are A1 notation; only the
// sheet title and starting row are interpreted.
type Remote struct {
	mu     sync.Mutex
	books  map[string]*book
	order  []string
	nextID int
	calls  []Call

	// Err, when set, is returned by every call.
	Err error
}

// NewRemote creates an empty Remote.
func NewRemote() *Remote {
	return &Remote{books: make(map[string]*book)}
}

// AddSpreadsheet seeds a spreadsheet with one sheet per title.
func (r *Remote) AddSpreadsheet(id, name string, titles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &book{name: name, grids: make(map[string][][]string)}
	for i, title := range titles {
		b.sheets = append(b.sheets, sheets.Sheet{ID: int64(i * 100), Title: title})
		b.grids[title] = nil
	}
	r.books[id] = b
	r.order = append([]string{id}, r.order...)
}

// Rows returns a copy of every row of the named sheet, header included.
func (r *Remote) Rows(id, sheet string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	if !ok {
		return nil
	}
	return copyRows(b.grids[sheet])
}

// Calls returns the mutating calls made so far.
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

func (r *Remote) ListSpreadsheets(ctx context.Context) ([]sheets.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]sheets.Container, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, sheets.Container{ID: id, Name: r.books[id].name})
	}
	return out, nil
}

func (r *Remote) CreateSpreadsheet(ctx context.Context, title string, tmpl sheets.Template) (*sheets.Container, error) {
	r.mu.Lock()
	if r.Err != nil {
		r.mu.Unlock()
		return nil, r.Err
	}
	r.nextID++
	id := fmt.Sprintf("created-%d", r.nextID)
	r.calls = append(r.calls, Call{Op: "create", SpreadsheetID: id})
	r.mu.Unlock()

	sheetTitle := tmpl.SheetTitle
	if sheetTitle == "" {
		sheetTitle = "Sheet1"
	}
	r.AddSpreadsheet(id, title, sheetTitle)
	return &sheets.Container{ID: id, Name: title}, nil
}

func (r *Remote) Sheets(ctx context.Context, id string) ([]sheets.Sheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	b, ok := r.books[id]
	if !ok {
		return nil, fmt.Errorf("spreadsheet %s not found", id)
	}
	return append([]sheets.Sheet(nil), b.sheets...), nil
}

func (r *Remote) GetValues(ctx context.Context, id, rng string) ([][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	grid, row, err := r.locate(id, rng)
	if err != nil {
		return nil, err
	}
	if row-1 >= len(grid) {
		return nil, nil
	}
	return copyRows(grid[row-1:]), nil
}

func (r *Remote) UpdateValues(ctx context.Context, id, rng string, rows [][]string) (*sheets.UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	title, row, err := parseRange(rng)
	if err != nil {
		return nil, err
	}
	grid, _, err := r.locate(id, rng)
	if err != nil {
		return nil, err
	}
	for len(grid) < row-1+len(rows) {
		grid = append(grid, nil)
	}
	for i, values := range rows {
		grid[row-1+i] = append([]string(nil), values...)
	}
	r.books[id].grids[title] = grid
	r.calls = append(r.calls, Call{Op: "update", SpreadsheetID: id, Range: rng})
	return result(rng, rows), nil
}

func (r *Remote) AppendValues(ctx context.Context, id, rng string, rows [][]string) (*sheets.UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	title, _, err := parseRange(rng)
	if err != nil {
		return nil, err
	}
	grid, _, err := r.locate(id, rng)
	if err != nil {
		return nil, err
	}
	for _, values := range rows {
		grid = append(grid, append([]string(nil), values...))
	}
	r.books[id].grids[title] = grid
	r.calls = append(r.calls, Call{Op: "append", SpreadsheetID: id, Range: rng})
	return result(rng, rows), nil
}

func (r *Remote) DeleteRows(ctx context.Context, id string, sheetID, start, end int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	b, ok := r.books[id]
	if !ok {
		return fmt.Errorf("spreadsheet %s not found", id)
	}
	for _, sh := range b.sheets {
		if sh.ID != sheetID {
			continue
		}
		grid := b.grids[sh.Title]
		if start < 0 || end > int64(len(grid)) || start >= end {
			return fmt.Errorf("rows %d-%d out of range", start, end)
		}
		b.grids[sh.Title] = append(grid[:start:start], grid[end:]...)
		r.calls = append(r.calls, Call{Op: "delete", SpreadsheetID: id, Range: fmt.Sprintf("%s:%d-%d", sh.Title, start, end)})
		return nil
	}
	return fmt.Errorf("sheet %d not found", sheetID)
}

func (r *Remote) locate(id, rng string) ([][]string, int, error) {
	b, ok := r.books[id]
	if !ok {
		return nil, 0, fmt.Errorf("spreadsheet %s not found", id)
	}
	title, row, err := parseRange(rng)
	if err != nil {
		return nil, 0, err
	}
	grid, ok := b.grids[title]
	if !ok {
		return nil, 0, fmt.Errorf("unable to parse range: %s", rng)
	}
	return grid, row, nil
}

var rangePattern = regexp.MustCompile(`^(.+)![A-Z]+(\d*)`)

func parseRange(rng string) (string, int, error) {
	m := rangePattern.FindStringSubmatch(rng)
	if m == nil {
		return "", 0, fmt.Errorf("unable to parse range: %s", rng)
	}
	title := strings.Trim(m[1], "'")
	row := 1
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			return "", 0, fmt.Errorf("unable to parse range: %s", rng)
		}
		row = n
	}
	return title, row, nil
}

func result(rng string, rows [][]string) *sheets.UpdateResult {
	res := &sheets.UpdateResult{Range: rng, Rows: int64(len(rows))}
	for _, values := range rows {
		if int64(len(values)) > res.Columns {
			res.Columns = int64(len(values))
		}
		res.Cells += int64(len(values))
	}
	return res
}

func copyRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// Library hands out Remote on Configure, or fails with Err.
type Library struct {
	Remote sheets.Remote
	Err    error
}

func (l *Library) Configure(ctx context.Context, cfg sheets.ClientConfig) (sheets.Remote, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Remote, nil
}

// Exchanger returns Grant from every request after presenting a fixed URL.
type Exchanger struct {
	Grant sheets.Grant
}

func (e *Exchanger) RequestToken(ctx context.Context, present sheets.Presenter) sheets.Grant {
	if present != nil {
		if err := present(ctx, "https://accounts.example.test/consent"); err != nil {
			return sheets.Grant{Outcome: sheets.GrantFailed, Err: err}
		}
	}
	return e.Grant
}

// IssuedExchanger returns an Exchanger that always grants token.
func IssuedExchanger(token string) *Exchanger {
	return &Exchanger{Grant: sheets.Grant{
		Outcome: sheets.GrantIssued,
		Token:   &oauth2.Token{AccessToken: token, TokenType: "Bearer"},
	}}
}

// NewSession returns a session wired to remote with valid settings and
// an exchanger that grants immediately.
func NewSession(remote sheets.Remote, opts sheets.Options) *sheets.Session {
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	if opts.ClientID == "" {
		opts.ClientID = "test-client"
	}
	if opts.Loader == nil {
		lib := &Library{Remote: remote}
		opts.Loader = sheets.LoaderFunc(func(context.Context) (sheets.Library, error) { return lib, nil })
	}
	if opts.NewExchanger == nil {
		ex := IssuedExchanger("test-token")
		opts.NewExchanger = func(string, []string) (sheets.CredentialExchanger, error) { return ex, nil }
	}
	return sheets.NewSession(opts)
}
