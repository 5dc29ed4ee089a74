// Package bitrix wraps the Bitrix24 inbound-webhook REST API with typed
// requests, rate limiting, and retry on transient failures.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/resilience"
)

// Client is the CRM surface the pipeline depends on. Implementations must be
// safe for concurrent use.
type Client interface {
	// ListJunkLeads returns junk leads carrying a recognized junk reason,
	// ordered by creation time ascending.
	ListJunkLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// GetLead fetches a single lead by ID. Returns ErrLeadNotFound if the
	// lead does not exist.
	GetLead(ctx context.Context, id string) (*model.Lead, error)

	// UpdateLead sets the lead status and junk reason in one API call so the
	// CRM never observes a half-applied change. A nil reason clears the field.
	UpdateLead(ctx context.Context, id string, status string, reason *model.JunkReasonCode) error

	// CallStatistics returns the telephony history for a lead, newest first.
	CallStatistics(ctx context.Context, leadID string) ([]model.CallRecord, error)

	// CountJunkLeads returns the total number of junk leads with a recognized
	// junk reason, without fetching them.
	CountJunkLeads(ctx context.Context) (int, error)

	// Ping verifies the webhook is reachable and authorized.
	Ping(ctx context.Context) error
}

// ErrLeadNotFound is returned by GetLead when the lead ID does not exist.
var ErrLeadNotFound = eris.New("bitrix: lead not found")

// LeadFilter narrows ListJunkLeads.
type LeadFilter struct {
	// CreatedAfter limits results to leads created at or after this time.
	// Zero means no lower bound.
	CreatedAfter time.Time

	// Limit caps the number of leads returned. Zero means no cap.
	Limit int
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithRateLimit sets the request rate in requests per second. Bitrix enforces
// roughly 2 req/s per webhook; exceeding it returns QUERY_LIMIT_EXCEEDED.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithPageSize sets the list page size (Bitrix caps pages at 50).
func WithPageSize(n int) Option {
	return func(c *client) {
		if n > 0 && n <= 50 {
			c.pageSize = n
		}
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) { c.retry = cfg }
}

type client struct {
	webhookURL      string
	junkReasonField string
	junkStatus      string
	activeStatus    string
	pageSize        int

	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a Bitrix24 webhook client.
//
// webhookURL is the full inbound webhook base, e.g.
// https://example.bitrix24.ru/rest/1/abc123. junkReasonField is the user
// field holding the junk reason code; junkStatus and activeStatus are the
// STATUS_ID values for junk and re-activated leads.
func NewClient(webhookURL, junkReasonField, junkStatus, activeStatus string, opts ...Option) Client {
	c := &client{
		webhookURL:      strings.TrimRight(webhookURL, "/"),
		junkReasonField: junkReasonField,
		junkStatus:      junkStatus,
		activeStatus:    activeStatus,
		pageSize:        50,
		http:            &http.Client{Timeout: 30 * time.Second},
		limiter:         rate.NewLimiter(rate.Limit(2.0), 1),
		retry:           resilience.ForService("bitrix", "call"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call performs one webhook method invocation with rate limiting and retry.
// HTTP 5xx/429 and network errors are retried; application-level errors
// embedded in a 200 response become a permanent *APIError.
func (c *client) call(ctx context.Context, method string, params any) (*apiResponse, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*apiResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "bitrix: rate limit wait")
		}

		body, err := json.Marshal(params)
		if err != nil {
			return nil, eris.Wrap(err, "bitrix: marshal request")
		}

		url := c.webhookURL + "/" + method + ".json"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "bitrix: build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "bitrix: %s", method)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
		if err != nil {
			return nil, eris.Wrapf(err, "bitrix: %s: read response", method)
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("bitrix: %s: unexpected status %d", method, resp.StatusCode)
			return nil, resilience.MarkTransientHTTP(err, resp.StatusCode)
		}

		var envelope apiResponse
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, eris.Wrapf(err, "bitrix: %s: decode response", method)
		}

		// Bitrix reports failures inside a 200 body. Rate-limit rejections
		// are the one app-level error worth retrying.
		if envelope.Error != "" {
			apiErr := &APIError{Code: envelope.Error, Description: envelope.ErrorDescription}
			if envelope.Error == "QUERY_LIMIT_EXCEEDED" {
				return nil, resilience.NewTransientError(apiErr, http.StatusTooManyRequests)
			}
			return nil, apiErr
		}

		return &envelope, nil
	})
}

func (c *client) leadSelect() []string {
	return []string{"ID", "TITLE", "STATUS_ID", "DATE_CREATE", "NAME", "PHONE", "EMAIL", c.junkReasonField}
}

// junkFilter matches junk-status leads whose junk reason is one of the
// recognized codes. Leads with unrecognized reasons never enter a batch.
func (c *client) junkFilter(createdAfter time.Time) map[string]any {
	codes := model.JunkReasonCodes()
	values := make([]int, len(codes))
	for i, code := range codes {
		values[i] = int(code)
	}

	filter := map[string]any{
		"STATUS_ID":       c.junkStatus,
		c.junkReasonField: values,
	}
	if !createdAfter.IsZero() {
		filter[">=DATE_CREATE"] = createdAfter.Format(time.RFC3339)
	}
	return filter
}

func (c *client) ListJunkLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	var leads []model.Lead
	start := 0

	for {
		resp, err := c.call(ctx, "crm.lead.list", map[string]any{
			"filter": c.junkFilter(filter.CreatedAfter),
			"select": c.leadSelect(),
			"order":  map[string]string{"DATE_CREATE": "ASC"},
			"start":  start,
		})
		if err != nil {
			return nil, err
		}

		var page []map[string]any
		if err := json.Unmarshal(resp.Result, &page); err != nil {
			return nil, eris.Wrap(err, "bitrix: decode lead list")
		}

		for _, record := range page {
			leads = append(leads, parseLead(record, c.junkReasonField))
			if filter.Limit > 0 && len(leads) >= filter.Limit {
				return leads, nil
			}
		}

		if resp.Next == 0 || len(page) == 0 {
			break
		}
		start = resp.Next
	}

	zap.L().Debug("listed junk leads", zap.Int("count", len(leads)))
	return leads, nil
}

func (c *client) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	resp, err := c.call(ctx, "crm.lead.get", map[string]any{"id": id})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "NOT_FOUND" {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}

	var record map[string]any
	if err := json.Unmarshal(resp.Result, &record); err != nil {
		return nil, eris.Wrap(err, "bitrix: decode lead")
	}
	if len(record) == 0 {
		return nil, ErrLeadNotFound
	}

	lead := parseLead(record, c.junkReasonField)
	return &lead, nil
}

func (c *client) UpdateLead(ctx context.Context, id string, status string, reason *model.JunkReasonCode) error {
	// Clearing the junk reason is encoded as an empty string; Bitrix treats
	// it as field removal for list-type user fields.
	var reasonValue any = ""
	if reason != nil {
		reasonValue = int(*reason)
	}

	resp, err := c.call(ctx, "crm.lead.update", map[string]any{
		"id": id,
		"fields": map[string]any{
			"STATUS_ID":       status,
			c.junkReasonField: reasonValue,
		},
	})
	if err != nil {
		return err
	}

	var ok bool
	if err := json.Unmarshal(resp.Result, &ok); err == nil && !ok {
		return eris.Errorf("bitrix: update lead %s rejected", id)
	}

	zap.L().Info("lead updated",
		zap.String("lead_id", id),
		zap.String("status", status),
		zap.Any("junk_reason", reasonValue),
	)
	return nil
}

func (c *client) CallStatistics(ctx context.Context, leadID string) ([]model.CallRecord, error) {
	var calls []model.CallRecord
	start := 0

	for {
		resp, err := c.call(ctx, "voximplant.statistic.get", map[string]any{
			"FILTER": map[string]any{
				"CRM_ENTITY_TYPE": "LEAD",
				"CRM_ENTITY_ID":   leadID,
			},
			"SORT":  "CALL_START_DATE",
			"ORDER": "DESC",
			"start": start,
		})
		if err != nil {
			return nil, err
		}

		var page []map[string]any
		if err := json.Unmarshal(resp.Result, &page); err != nil {
			return nil, eris.Wrap(err, "bitrix: decode call statistics")
		}
		for _, record := range page {
			calls = append(calls, parseCallRecord(record))
		}

		if resp.Next == 0 || len(page) == 0 {
			break
		}
		start = resp.Next
	}

	return calls, nil
}

func (c *client) CountJunkLeads(ctx context.Context) (int, error) {
	resp, err := c.call(ctx, "crm.lead.list", map[string]any{
		"filter": c.junkFilter(time.Time{}),
		"select": []string{"ID"},
		"start":  0,
	})
	if err != nil {
		return 0, err
	}
	return resp.Total, nil
}

func (c *client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "profile", map[string]any{})
	if err != nil {
		return fmt.Errorf("bitrix ping: %w", err)
	}
	return nil
}
