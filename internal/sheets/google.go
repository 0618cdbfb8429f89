package sheets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Discovery documents declaring the spreadsheet and file-storage capabilities.
const (
	SheetsDiscoveryURL = "https://sheets.googleapis.com/$discovery/rest?version=v4"
	DriveDiscoveryURL  = "https://www.googleapis.com/discovery/v1/apis/drive/v3/rest"
)

// DefaultCapabilities are the API surfaces the client is configured with.
var DefaultCapabilities = []string{SheetsDiscoveryURL, DriveDiscoveryURL}

// OAuth scopes requested during sign-in.
var DefaultScopes = []string{
	sheetsapi.SpreadsheetsScope,
	drive.DriveFileScope,
}

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// GoogleLoaderConfig configures the production client loader.
type GoogleLoaderConfig struct {
	HTTPClient *http.Client
	// Discovery overrides the documents fetched while loading.
	Discovery []string
	// SheetsEndpoint and DriveEndpoint override API base paths.
	SheetsEndpoint string
	DriveEndpoint  string
}

type googleLoader struct {
	cfg GoogleLoaderConfig
}

// NewGoogleLoader returns a Loader backed by google.golang.org/api.
func NewGoogleLoader(cfg GoogleLoaderConfig) Loader {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if len(cfg.Discovery) == 0 {
		cfg.Discovery = DefaultCapabilities
	}
	return &googleLoader{cfg: cfg}
}

// Load fetches each discovery document so a missing API surface fails here
// rather than on the first data call.
func (l *googleLoader) Load(ctx context.Context) (Library, error) {
	for _, doc := range l.cfg.Discovery {
		if err := fetchDiscovery(ctx, l.cfg.HTTPClient, doc, ""); err != nil {
			return nil, err
		}
	}
	return &googleLibrary{cfg: l.cfg}, nil
}

type googleLibrary struct {
	cfg GoogleLoaderConfig
}

// Configure validates the API key against every capability and builds the
// Sheets and Drive services on the session's token source.
func (lib *googleLibrary) Configure(ctx context.Context, cfg ClientConfig) (Remote, error) {
	for _, doc := range cfg.Capabilities {
		if err := fetchDiscovery(ctx, lib.cfg.HTTPClient, doc, cfg.APIKey); err != nil {
			return nil, err
		}
	}

	sheetsOpts := []option.ClientOption{option.WithTokenSource(cfg.TokenSource)}
	if lib.cfg.SheetsEndpoint != "" {
		sheetsOpts = append(sheetsOpts, option.WithEndpoint(lib.cfg.SheetsEndpoint))
	}
	driveOpts := []option.ClientOption{option.WithTokenSource(cfg.TokenSource)}
	if lib.cfg.DriveEndpoint != "" {
		driveOpts = append(driveOpts, option.WithEndpoint(lib.cfg.DriveEndpoint))
	}
	return NewGoogleRemote(ctx, sheetsOpts, driveOpts)
}

func fetchDiscovery(ctx context.Context, client *http.Client, doc, apiKey string) error {
	target := doc
	if apiKey != "" {
		u, err := url.Parse(doc)
		if err != nil {
			return fmt.Errorf("parse discovery url: %w", err)
		}
		q := u.Query()
		q.Set("key", apiKey)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create discovery request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type googleRemote struct {
	sheets *sheetsapi.Service
	drive  *drive.Service
}

// NewGoogleRemote builds a Remote from explicit client options.
func NewGoogleRemote(ctx context.Context, sheetsOpts, driveOpts []option.ClientOption) (Remote, error) {
	sheetsSvc, err := sheetsapi.NewService(ctx, sheetsOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, driveOpts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &googleRemote{sheets: sheetsSvc, drive: driveSvc}, nil
}

func (g *googleRemote) ListSpreadsheets(ctx context.Context) ([]Container, error) {
	resp, err := g.drive.Files.List().
		Q(fmt.Sprintf("mimeType='%s'", spreadsheetMimeType)).
		Fields("files(id, name)").
		Spaces("drive").
		PageSize(50).
		OrderBy("modifiedTime desc").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	out := make([]Container, 0, len(resp.Files))
	for _, f := range resp.Files {
		out = append(out, Container{ID: f.Id, Name: f.Name})
	}
	return out, nil
}

func (g *googleRemote) CreateSpreadsheet(ctx context.Context, title string, tmpl Template) (*Container, error) {
	created, err := g.sheets.Spreadsheets.Create(&sheetsapi.Spreadsheet{
		Properties: &sheetsapi.SpreadsheetProperties{Title: title},
		Sheets: []*sheetsapi.Sheet{{
			Properties: &sheetsapi.SheetProperties{
				Title:          tmpl.SheetTitle,
				GridProperties: &sheetsapi.GridProperties{FrozenRowCount: 1},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	name := title
	if created.Properties != nil && created.Properties.Title != "" {
		name = created.Properties.Title
	}
	return &Container{ID: created.SpreadsheetId, Name: name}, nil
}

func (g *googleRemote) Sheets(ctx context.Context, spreadsheetID string) ([]Sheet, error) {
	ss, err := g.sheets.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make([]Sheet, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		out = append(out, Sheet{ID: sh.Properties.SheetId, Title: sh.Properties.Title})
	}
	return out, nil
}

func (g *googleRemote) GetValues(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	resp, err := g.sheets.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (g *googleRemote) UpdateValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) (*UpdateResult, error) {
	resp, err := g.sheets.Spreadsheets.Values.Update(spreadsheetID, rng, &sheetsapi.ValueRange{Values: toCells(rows)}).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return &UpdateResult{
		Range:   resp.UpdatedRange,
		Rows:    resp.UpdatedRows,
		Columns: resp.UpdatedColumns,
		Cells:   resp.UpdatedCells,
	}, nil
}

func (g *googleRemote) AppendValues(ctx context.Context, spreadsheetID, rng string, rows [][]string) (*UpdateResult, error) {
	resp, err := g.sheets.Spreadsheets.Values.Append(spreadsheetID, rng, &sheetsapi.ValueRange{Values: toCells(rows)}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if resp.Updates == nil {
		return &UpdateResult{Range: resp.TableRange}, nil
	}
	return &UpdateResult{
		Range:   resp.Updates.UpdatedRange,
		Rows:    resp.Updates.UpdatedRows,
		Columns: resp.Updates.UpdatedColumns,
		Cells:   resp.Updates.UpdatedCells,
	}, nil
}

func (g *googleRemote) DeleteRows(ctx context.Context, spreadsheetID string, sheetID, start, end int64) error {
	_, err := g.sheets.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			DeleteDimension: &sheetsapi.DeleteDimensionRequest{
				Range: &sheetsapi.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      start,
					EndIndex:        end,
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}).Context(ctx).Do()
	return err
}

func toCells(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}
