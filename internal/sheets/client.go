// Package sheets reads ledger cells from the Google Sheets values API.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/restclient"
)

const DefaultBaseURL = "https://sheets.googleapis.com"

var ErrMissingCredentials = errors.New("sheets: api key or token required")

// FetchError wraps any failure to read the configured range.
type FetchError struct {
	Range string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Range, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Options struct {
	BaseURL string
	// APIKey authenticates with ?key= for sheets shared by link.
	APIKey string
	// Token is an OAuth access token sent as a bearer credential.
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	rest   *restclient.Client
	apiKey string
}

func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	token := strings.TrimSpace(opts.Token)
	if apiKey == "" && token == "" {
		return nil, ErrMissingCredentials
	}
	baseURL := opts.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	var restOpts []restclient.Option
	if token != "" {
		restOpts = append(restOpts, restclient.WithBearerToken("Bearer", token))
	}
	return &Client{
		rest:   restclient.New(baseURL, opts.HTTPClient, restOpts...),
		apiKey: apiKey,
	}, nil
}

type valueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension"`
	Values         [][]any `json:"values"`
}

// FetchRange returns the cells of a1Range in row-major order. Rows the API
// truncates are padded with nil so every row contributes exactly
// ledger.Columns cells.
func (c *Client) FetchRange(ctx context.Context, spreadsheetID, a1Range string) ([]any, error) {
	query := url.Values{}
	query.Set("valueRenderOption", "UNFORMATTED_VALUE")
	query.Set("dateTimeRenderOption", "FORMATTED_STRING")
	query.Set("majorDimension", "ROWS")
	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s", url.PathEscape(spreadsheetID), url.PathEscape(a1Range))

	var out valueRange
	if err := c.rest.DoJSON(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, &FetchError{Range: a1Range, Err: err}
	}
	cells := make([]any, 0, len(out.Values)*ledger.Columns)
	for _, row := range out.Values {
		for col := 0; col < ledger.Columns; col++ {
			if col < len(row) {
				cells = append(cells, row[col])
			} else {
				cells = append(cells, nil)
			}
		}
	}
	return cells, nil
}

// A1Range joins a sheet title and a cell range, quoting the title when
// the API requires it.
func A1Range(sheetName, cells string) string {
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		return cells
	}
	if strings.ContainsAny(sheetName, " '!") {
		sheetName = "'" + strings.ReplaceAll(sheetName, "'", "''") + "'"
	}
	return sheetName + "!" + cells
}
