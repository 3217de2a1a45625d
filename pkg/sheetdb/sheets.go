package sheetdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultSheetsBaseURL = "https://sheets.googleapis.com/v4"

// TokenSource supplies a bearer token for the Sheets API. Token issuance
// (OAuth flow, service account exchange) lives outside this package.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken adapts a fixed access token into a TokenSource.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// SheetsBackend implements Backend against the Google Sheets v4 REST
// API. It does not retry: a failed call surfaces as-is, because retrying
// a non-idempotent append could duplicate a row.
type SheetsBackend struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewSheetsBackend builds the REST backend. An empty baseURL selects the
// public endpoint; tests point it at a local server.
func NewSheetsBackend(tokens TokenSource, baseURL string) (*SheetsBackend, error) {
	if tokens == nil {
		return nil, fmt.Errorf("sheets backend requires a token source")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultSheetsBaseURL
	}
	return &SheetsBackend{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

type valueRange struct {
	Range  string  `json:"range,omitempty"`
	Values [][]any `json:"values,omitempty"`
}

func (b *SheetsBackend) ReadRange(ctx context.Context, spreadsheetID string, rng Range) ([][]Cell, error) {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s?valueRenderOption=UNFORMATTED_VALUE",
		b.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng.A1()))
	var resp valueRange
	if err := b.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	grid := make([][]Cell, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]Cell, len(row))
		for j, v := range row {
			cells[j] = CellValue(v)
		}
		grid[i] = cells
	}
	return grid, nil
}

func (b *SheetsBackend) WriteRange(ctx context.Context, spreadsheetID string, rng Range, values [][]Cell) error {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s?valueInputOption=RAW",
		b.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng.A1()))
	payload := valueRange{Range: rng.A1(), Values: rawGrid(values)}
	return b.doJSON(ctx, http.MethodPut, endpoint, payload, nil)
}

func (b *SheetsBackend) AppendRow(ctx context.Context, spreadsheetID, sheet string, values []Cell) error {
	rng := Range{Sheet: sheet, StartRow: 1, StartCol: 1}
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		b.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng.A1()))
	payload := valueRange{Values: rawGrid([][]Cell{values})}
	return b.doJSON(ctx, http.MethodPost, endpoint, payload, nil)
}

func (b *SheetsBackend) DeleteRows(ctx context.Context, spreadsheetID string, sheetID int64, startRow, endRow int) error {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s:batchUpdate", b.baseURL, url.PathEscape(spreadsheetID))
	payload := map[string]any{
		"requests": []any{
			map[string]any{
				"deleteDimension": map[string]any{
					"range": map[string]any{
						"sheetId":    sheetID,
						"dimension":  "ROWS",
						"startIndex": startRow - 1,
						"endIndex":   endRow,
					},
				},
			},
		},
	}
	return b.doJSON(ctx, http.MethodPost, endpoint, payload, nil)
}

func (b *SheetsBackend) SheetMetadata(ctx context.Context, spreadsheetID string) ([]SheetInfo, error) {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s?fields=sheets.properties", b.baseURL, url.PathEscape(spreadsheetID))
	var resp struct {
		Sheets []struct {
			Properties struct {
				SheetID int64  `json:"sheetId"`
				Title   string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	if err := b.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	meta := make([]SheetInfo, 0, len(resp.Sheets))
	for _, sheet := range resp.Sheets {
		meta = append(meta, SheetInfo{ID: sheet.Properties.SheetID, Title: sheet.Properties.Title})
	}
	return meta, nil
}

func (b *SheetsBackend) CreateSpreadsheet(ctx context.Context, title string, sheets []string) (string, error) {
	endpoint := b.baseURL + "/spreadsheets"
	sheetSpecs := make([]any, 0, len(sheets))
	for _, name := range sheets {
		sheetSpecs = append(sheetSpecs, map[string]any{
			"properties": map[string]any{"title": name},
		})
	}
	payload := map[string]any{
		"properties": map[string]any{"title": title},
		"sheets":     sheetSpecs,
	}
	var resp struct {
		SpreadsheetID string `json:"spreadsheetId"`
	}
	if err := b.doJSON(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		return "", err
	}
	if resp.SpreadsheetID == "" {
		return "", fmt.Errorf("create spreadsheet: empty id in response")
	}
	return resp.SpreadsheetID, nil
}

func rawGrid(values [][]Cell) [][]any {
	grid := make([][]any, len(values))
	for i, row := range values {
		raw := make([]any, len(row))
		for j, cell := range row {
			raw[j] = cell.Value()
		}
		grid[i] = raw
	}
	return grid
}

func (b *SheetsBackend) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	token, err := b.tokens(ctx)
	if err != nil {
		return fmt.Errorf("sheets token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sheets api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
