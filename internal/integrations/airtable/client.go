package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

const pageSize = 100

// Record is an Airtable row.
type Record struct {
	ID          string                 `json:"id,omitempty"`
	CreatedTime string                 `json:"createdTime,omitempty"`
	Fields      map[string]interface{} `json:"fields"`
}

// StringField returns a text field value or "".
func (r *Record) StringField(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	switch v := r.Fields[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// ListOptions narrows a list call.
type ListOptions struct {
	Formula    string
	MaxRecords int
	Fields     []string
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

type writeRequest struct {
	Fields   map[string]interface{} `json:"fields"`
	Typecast bool                   `json:"typecast"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("airtable: %d %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("airtable: %d %s", e.StatusCode, e.Type)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

// errorBody handles both {"error":"NOT_FOUND"} and {"error":{"type":..,"message":..}}.
type errorBody struct {
	Error json.RawMessage `json:"error"`
}

// Client talks to one Airtable base.
type Client struct {
	http   *req.Client
	baseID string
}

func NewClient(baseURL, baseID, token string) *Client {
	if baseURL == "" {
		baseURL = "https://api.airtable.com/v0"
	}
	http := req.C().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")+"/"+baseID).
		SetCommonBearerAuthToken(token).
		SetTimeout(30 * time.Second)
	return &Client{http: http, baseID: baseID}
}

func (c *Client) BaseID() string { return c.baseID }

func (c *Client) check(resp *req.Response, err error) error {
	if err != nil {
		return fmt.Errorf("airtable request failed: %w", err)
	}
	if resp.IsSuccessState() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body errorBody
	if json.Unmarshal(resp.Bytes(), &body) == nil && len(body.Error) > 0 {
		var detail struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &detail) == nil {
			apiErr.Type, apiErr.Message = detail.Type, detail.Message
		} else {
			_ = json.Unmarshal(body.Error, &apiErr.Type)
		}
	}
	return apiErr
}

// ListRecords returns every record of table matching opts, following pagination.
func (c *Client) ListRecords(ctx context.Context, table string, opts ListOptions) ([]Record, error) {
	var records []Record
	offset := ""
	for {
		r := c.http.R().
			SetContext(ctx).
			SetPathParam("table", table).
			SetQueryParam("pageSize", strconv.Itoa(pageSize))
		if opts.Formula != "" {
			r.SetQueryParam("filterByFormula", opts.Formula)
		}
		if opts.MaxRecords > 0 {
			r.SetQueryParam("maxRecords", strconv.Itoa(opts.MaxRecords))
		}
		for _, f := range opts.Fields {
			r.AddQueryParam("fields[]", f)
		}
		if offset != "" {
			r.SetQueryParam("offset", offset)
		}

		var page listResponse
		resp, err := r.SetSuccessResult(&page).Get("/{table}")
		if err := c.check(resp, err); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if page.Offset == "" || (opts.MaxRecords > 0 && len(records) >= opts.MaxRecords) {
			return records, nil
		}
		offset = page.Offset
	}
}

func (c *Client) GetRecord(ctx context.Context, table, id string) (*Record, error) {
	var rec Record
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("table", table).
		SetPathParam("id", id).
		SetSuccessResult(&rec).
		Get("/{table}/{id}")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) CreateRecord(ctx context.Context, table string, fields map[string]interface{}) (*Record, error) {
	var rec Record
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("table", table).
		SetBody(&writeRequest{Fields: fields, Typecast: true}).
		SetSuccessResult(&rec).
		Post("/{table}")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateRecord patches only the given fields.
func (c *Client) UpdateRecord(ctx context.Context, table, id string, fields map[string]interface{}) (*Record, error) {
	var rec Record
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("table", table).
		SetPathParam("id", id).
		SetBody(&writeRequest{Fields: fields, Typecast: true}).
		SetSuccessResult(&rec).
		Patch("/{table}/{id}")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) DeleteRecord(ctx context.Context, table, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("table", table).
		SetPathParam("id", id).
		Delete("/{table}/{id}")
	return c.check(resp, err)
}

// RecordURL is the browser link of a record.
func (c *Client) RecordURL(table, id string) string {
	return RecordURL(c.baseID, table, id)
}

func RecordURL(baseID, table, id string) string {
	return fmt.Sprintf("https://airtable.com/%s/%s/%s", baseID, url.PathEscape(table), id)
}

// RecordIDFromURL extracts the rec... segment of a record link.
func RecordIDFromURL(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if strings.HasPrefix(seg, "rec") && len(seg) > 3 {
			return seg, true
		}
	}
	return "", false
}

// QuoteString renders s as a formula string literal.
func QuoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// ContainsEitherWayFormula matches records where field contains value or
// value contains field, ignoring case.
func ContainsEitherWayFormula(field, value string) string {
	ref := "{" + field + "}"
	v := QuoteString(strings.ToLower(value))
	return fmt.Sprintf("AND(%s != \"\", OR(SEARCH(LOWER(%s), %s), SEARCH(%s, LOWER(%s))))", ref, ref, v, v, ref)
}

// EqualsFormula matches records whose field equals value exactly.
func EqualsFormula(field, value string) string {
	return fmt.Sprintf("{%s} = %s", field, QuoteString(value))
}
