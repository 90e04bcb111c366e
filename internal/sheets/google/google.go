package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"marketpipe/internal/cache"
	"marketpipe/internal/core"
	ports "marketpipe/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Client addresses one Google spreadsheet as a ports.Workbook whose tabs
// are the partition sheets. Destination sheets are obtained with Sheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Existence checks need a spreadsheet metadata fetch; cache them so
	// repeated GetOrCreate calls during ingestion stay cheap.
	known *cache.LRUCache[bool]
}

var _ ports.Workbook = (*Client)(nil)

// NewService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "scope", gsheet.SpreadsheetsScope)
	return service, nil
}

// NewClient binds a service to one spreadsheet.
func NewClient(svc *gsheet.Service, spreadsheetID string) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		known:         cache.NewLRUCache[bool](256, 10*time.Minute),
	}, nil
}

// Sheet returns a named tab of the spreadsheet as an append-only dataset.
// The tab must already exist; destinations are provisioned by operators.
func (c *Client) Sheet(name string) ports.Sheet {
	return &tabSheet{client: c, name: name}
}

func (c *Client) GetOrCreate(ctx context.Context, key string) (ports.Sheet, error) {
	if _, ok := c.known.Get(key); ok {
		return c.Sheet(key), nil
	}

	titles, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range titles {
		c.known.Set(t, true)
	}
	for _, t := range titles {
		if t == key {
			return c.Sheet(key), nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: key},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("add sheet %s: %w", key, err)
	}

	header := make([]any, len(core.RowHeader))
	for i, h := range core.RowHeader {
		header[i] = h
	}
	vr := &gsheet.ValueRange{Values: [][]any{header}}
	rng := fmt.Sprintf("%s!A1", key)
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("write header for sheet %s: %w", key, err)
	}

	slog.InfoContext(ctx, "Created partition sheet", "sheet", key, "spreadsheet_id", c.spreadsheetID)
	c.known.Set(key, true)
	return c.Sheet(key), nil
}

func (c *Client) List(ctx context.Context) ([]string, error) {
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet %s: %w", c.spreadsheetID, err)
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	sort.Strings(titles)
	return titles, nil
}

// tabSheet implements ports.Sheet over one tab. Sheet row 1 is the header,
// so data offset n maps to sheet row n+1.
type tabSheet struct {
	client *Client
	name   string
}

var _ ports.Sheet = (*tabSheet)(nil)

func (t *tabSheet) AppendRows(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &gsheet.ValueRange{Values: rows}
	rng := fmt.Sprintf("%s!A1", t.name)
	_, err := t.client.svc.Spreadsheets.Values.Append(t.client.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append %d rows to %s: %w", len(rows), t.name, err)
	}
	return nil
}

func (t *tabSheet) ReadRows(ctx context.Context, start, count int64) ([][]any, error) {
	if start < 1 {
		return nil, fmt.Errorf("sheet %s: offset %d is not 1-based", t.name, start)
	}
	if count <= 0 {
		return nil, nil
	}
	rng := fmt.Sprintf("%s!A%d:I%d", t.name, start+1, start+count)
	resp, err := t.client.svc.Spreadsheets.Values.Get(t.client.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (t *tabSheet) RowCount(ctx context.Context) (int64, error) {
	rng := fmt.Sprintf("%s!A:A", t.name)
	resp, err := t.client.svc.Spreadsheets.Values.Get(t.client.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rng, err)
	}
	n := int64(len(resp.Values)) - 1 // header
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (t *tabSheet) Clear(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A2:I", t.name)
	_, err := t.client.svc.Spreadsheets.Values.Clear(t.client.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	return nil
}
