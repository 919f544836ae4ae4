// Package formsapi reads and deletes patient forms held by the remote forms
// API, a paginated REST service exposing /patients/.
package formsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/avc/patientforms/internal/screen"
)

// Config describes how to reach the forms API.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// listResponse is the limit/offset page envelope returned by the API.
type listResponse struct {
	Count   int                      `json:"count"`
	Results []map[string]interface{} `json:"results"`
}

type apiError struct {
	Detail string `json:"detail"`
}

// Client is a screen.RecordStore backed by the forms API. Owner scoping is
// applied by the API from the token's user.
type Client struct {
	http    *resty.Client
	columns []screen.Column
	logger  zerolog.Logger
}

func NewClient(cfg Config, columns []screen.Column, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("forms api base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		SetError(&apiError{})
	// only idempotent reads are retried on 5xx
	rc.AddRetryCondition(func(r *resty.Response, err error) bool {
		if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
			return false
		}
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})
	if cfg.Token != "" {
		rc.SetAuthScheme("Token").SetAuthToken(cfg.Token)
	}

	return &Client{
		http:    rc,
		columns: columns,
		logger:  logger.With().Str("component", "formsapi").Logger(),
	}, nil
}

func (c *Client) Columns() []screen.Column { return c.columns }

// Fetch translates the page request to limit/offset query parameters.
func (c *Client) Fetch(ctx context.Context, req screen.FetchRequest) (screen.FetchResult, error) {
	var out listResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"limit":  strconv.Itoa(req.Limit),
			"offset": strconv.Itoa(req.Limit * req.Page),
		}).
		SetResult(&out).
		Get("/patients/")
	if err != nil {
		return screen.FetchResult{}, fmt.Errorf("list patients: %w", err)
	}
	if resp.IsError() {
		return screen.FetchResult{}, responseError("list patients", resp)
	}

	res := screen.FetchResult{Records: make([]screen.Record, 0, len(out.Results)), Total: out.Count}
	for _, raw := range out.Results {
		rec, err := toRecord(raw)
		if err != nil {
			return screen.FetchResult{}, err
		}
		res.Records = append(res.Records, rec)
	}
	c.logger.Debug().Int("limit", req.Limit).Int("page", req.Page).Int("count", out.Count).Msg("fetched patients")
	return res, nil
}

// Delete issues one DELETE per id. A 404 means the form is already gone and
// counts as success; other failures are joined.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("id", id).
			Delete("/patients/{id}/")
		if err != nil {
			errs = append(errs, fmt.Errorf("delete patient %s: %w", id, err))
			continue
		}
		if resp.StatusCode() == http.StatusNotFound {
			c.logger.Debug().Str("id", id).Msg("patient already deleted")
			continue
		}
		if resp.IsError() {
			errs = append(errs, responseError("delete patient "+id, resp))
		}
	}
	return errors.Join(errs...)
}

func responseError(op string, resp *resty.Response) error {
	if e, ok := resp.Error().(*apiError); ok && e.Detail != "" {
		return fmt.Errorf("%s: %s: %s", op, resp.Status(), e.Detail)
	}
	return fmt.Errorf("%s: %s", op, resp.Status())
}

// toRecord splits the id out of an API object. Numeric ids are rendered
// without a fractional part. JSON nulls are left out, as unset fields are
// by the other stores; a required column left out still fails an export.
func toRecord(raw map[string]interface{}) (screen.Record, error) {
	var id string
	switch v := raw["id"].(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return screen.Record{}, fmt.Errorf("patient object without usable id: %v", raw["id"])
	}
	fields := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == "id" || v == nil {
			continue
		}
		fields[k] = v
	}
	return screen.Record{ID: id, Fields: fields}, nil
}
