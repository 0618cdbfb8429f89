package sheets

import (
	"context"

	"golang.org/x/oauth2"
)

// Container is a spreadsheet acting as a patient-data store.
type Container struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Sheet is one worksheet inside a container.
type Sheet struct {
	ID    int64  `json:"sheet_id"`
	Title string `json:"title"`
}

// Template describes the first worksheet written into a new container.
type Template struct {
	SheetTitle string
	Header     []string
}

// UpdateResult summarises a write or append.
type UpdateResult struct {
	Range   string `json:"range"`
	Rows    int64  `json:"rows"`
	Columns int64  `json:"columns"`
	Cells   int64  `json:"cells"`
}

// Remote is the configured spreadsheet/file-storage client. Every method is
// exactly one remote call.
type Remote interface {
	ListSpreadsheets(ctx context.Context) ([]Container, error)
	CreateSpreadsheet(ctx context.Context, title string, tmpl Template) (*Container, error)
	Sheets(ctx context.Context, spreadsheetID string) ([]Sheet, error)
	GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) (*UpdateResult, error)
	AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) (*UpdateResult, error)
	DeleteRows(ctx context.Context, spreadsheetID string, sheetID, start, end int64) error
}

// ClientConfig is handed to Library.Configure.
type ClientConfig struct {
	APIKey       string
	Capabilities []string
	TokenSource  oauth2.TokenSource
}

// Library is a loaded API client that can be configured into a Remote.
type Library interface {
	Configure(ctx context.Context, cfg ClientConfig) (Remote, error)
}

// Loader loads the API client library.
type Loader interface {
	Load(ctx context.Context) (Library, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Library, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (Library, error) { return f(ctx) }
