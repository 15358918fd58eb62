package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	extErrors "github.com/pkg/errors"
)

// HTTPClientOptions configures the REST transport to the store.
type HTTPClientOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// HTTPClient is the thin wire implementation of Client. It holds no state
// beyond the connection; all idempotency lives above this layer.
type HTTPClient struct {
	HTTPClientOptions
	http *http.Client
}

var _ Client = &HTTPClient{}

func NewHTTPClient(option HTTPClientOptions) (*HTTPClient, error) {
	if len(option.BaseURL) == 0 {
		return nil, fmt.Errorf("empty BaseURL is invalid")
	}
	if len(option.Token) == 0 {
		return nil, fmt.Errorf("empty Token is invalid")
	}
	if option.Timeout <= 0 {
		option.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		HTTPClientOptions: option,
		http:              &http.Client{Timeout: option.Timeout},
	}, nil
}

type recordPayload struct {
	ID           string            `json:"id"`
	Properties   map[string]string `json:"properties"`
	Associations []struct {
		ToType ObjectType `json:"toType"`
		ToID   string     `json:"toId"`
	} `json:"associations,omitempty"`
}

type searchPayload struct {
	Filters []Condition `json:"filters"`
	Fields  []string    `json:"fields,omitempty"`
	Limit   int         `json:"limit,omitempty"`
	After   string      `json:"after,omitempty"`
}

type pagePayload struct {
	Results []recordPayload `json:"results"`
	Paging  struct {
		After string `json:"after"`
	} `json:"paging"`
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return extErrors.Wrapf(err, "Cannot encode request for %s", op)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return extErrors.Wrapf(err, "Cannot build request for %s", op)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		// network failures look transient to the retry layer
		return &Error{Kind: KindTransient, Op: op, Message: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return classifyStatus(op, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return extErrors.Wrapf(err, "Cannot decode response for %s", op)
		}
	}
	return nil
}

func classifyStatus(op string, status int) *Error {
	e := &Error{Op: op, Status: status, Message: http.StatusText(status)}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		e.Kind = KindTransient
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status >= 400 && status < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindFatal
	}
	return e
}

func toRecord(p recordPayload) *Record {
	return &Record{ID: p.ID, Fields: p.Properties}
}

func toPage(p pagePayload) *Page {
	page := &Page{After: p.Paging.After, Records: make([]Record, 0, len(p.Results))}
	for _, r := range p.Results {
		page.Records = append(page.Records, *toRecord(r))
	}
	return page
}

func fieldsQuery(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	q := url.Values{}
	for _, f := range fields {
		q.Add("properties", f)
	}
	return "?" + q.Encode()
}

func (c *HTTPClient) get(ctx context.Context, op string, objectType ObjectType, id string, fields []string) (*Record, error) {
	var out recordPayload
	path := fmt.Sprintf("/objects/%s/%s%s", objectType, url.PathEscape(id), fieldsQuery(fields))
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return toRecord(out), nil
}

func (c *HTTPClient) update(ctx context.Context, op string, objectType ObjectType, id string, fields Fields) error {
	path := fmt.Sprintf("/objects/%s/%s", objectType, url.PathEscape(id))
	body := map[string]interface{}{"properties": fields}
	return c.do(ctx, op, http.MethodPatch, path, body, nil)
}

func (c *HTTPClient) search(ctx context.Context, op string, objectType ObjectType, filter Filter) (*Page, error) {
	var out pagePayload
	body := searchPayload{
		Filters: filter.Conditions,
		Fields:  filter.Fields,
		Limit:   filter.Limit,
		After:   filter.After,
	}
	path := fmt.Sprintf("/objects/%s/search", objectType)
	if err := c.do(ctx, op, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return toPage(out), nil
}

func (c *HTTPClient) create(ctx context.Context, op string, objectType ObjectType, fields Fields, assocs []Association) (*Record, error) {
	var out recordPayload
	body := map[string]interface{}{"properties": fields}
	if len(assocs) > 0 {
		body["associations"] = assocs
	}
	path := fmt.Sprintf("/objects/%s", objectType)
	if err := c.do(ctx, op, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return toRecord(out), nil
}

// -----------------------------------------------

func (c *HTTPClient) GetContract(ctx context.Context, id string, fields []string) (*Record, error) {
	return c.get(ctx, "GetContract", ObjectContract, id, fields)
}

func (c *HTTPClient) UpdateContract(ctx context.Context, id string, fields Fields) error {
	return c.update(ctx, "UpdateContract", ObjectContract, id, fields)
}

func (c *HTTPClient) SearchContracts(ctx context.Context, filter Filter) (*Page, error) {
	return c.search(ctx, "SearchContracts", ObjectContract, filter)
}

func (c *HTTPClient) ListLineItems(ctx context.Context, contractID string, fields []string) ([]Record, error) {
	var out pagePayload
	path := fmt.Sprintf("/objects/%s/%s/line_items%s",
		ObjectContract, url.PathEscape(contractID), fieldsQuery(fields))
	if err := c.do(ctx, "ListLineItems", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return toPage(out).Records, nil
}

func (c *HTTPClient) UpdateLineItem(ctx context.Context, id string, fields Fields) error {
	return c.update(ctx, "UpdateLineItem", ObjectLineItem, id, fields)
}

func (c *HTTPClient) SearchFulfillmentRecords(ctx context.Context, filter Filter) (*Page, error) {
	return c.search(ctx, "SearchFulfillmentRecords", ObjectFulfillment, filter)
}

func (c *HTTPClient) CreateFulfillmentRecord(ctx context.Context, fields Fields, assocs []Association) (*Record, error) {
	return c.create(ctx, "CreateFulfillmentRecord", ObjectFulfillment, fields, assocs)
}

func (c *HTTPClient) UpdateFulfillmentRecord(ctx context.Context, id string, fields Fields) error {
	return c.update(ctx, "UpdateFulfillmentRecord", ObjectFulfillment, id, fields)
}

func (c *HTTPClient) GetInvoice(ctx context.Context, id string, fields []string) (*Record, error) {
	return c.get(ctx, "GetInvoice", ObjectInvoice, id, fields)
}

func (c *HTTPClient) CreateInvoice(ctx context.Context, fields Fields) (*Record, error) {
	return c.create(ctx, "CreateInvoice", ObjectInvoice, fields, nil)
}

func (c *HTTPClient) UpdateInvoice(ctx context.Context, id string, fields Fields) error {
	return c.update(ctx, "UpdateInvoice", ObjectInvoice, id, fields)
}

func (c *HTTPClient) Associate(ctx context.Context, fromType ObjectType, fromID string, toType ObjectType, toID string) error {
	path := fmt.Sprintf("/associations/%s/%s/%s/%s",
		fromType, url.PathEscape(fromID), toType, url.PathEscape(toID))
	return c.do(ctx, "Associate", http.MethodPut, path, nil, nil)
}
