// Package bossdesk implements the connector's Sink against a
// BOSSDesk-style service desk API: JSON service request creation and
// lookup, authenticated with an ApiKey authorization header.
package bossdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"

	"github.com/deskbridge/deskbridge/pkg/connector"
)

// Client creates and looks up service requests.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	retry      connector.RetryPolicy
	log        hclog.Logger
}

var _ connector.Sink = (*Client)(nil)

// Option is a functional option for creating a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log hclog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithRetryPolicy sets the retry policy for transient write failures.
func WithRetryPolicy(p connector.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a sink client for the given API endpoint.
func NewClient(endpoint, apiKey string, httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		retry:      connector.DefaultRetryPolicy(),
		log:        hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// serviceRequest is the wire shape of a created service request. The
// API returns either the bare object or a {"service_request": {...}}
// envelope depending on version, so responses are decoded generically
// first and mapped afterwards.
type serviceRequest struct {
	ID          json.Number `mapstructure:"id"`
	ExternalRef string      `mapstructure:"external_ref"`
	Subject     string      `mapstructure:"subject"`
	Category    string      `mapstructure:"category"`
}

// createPayload is the request body for service request creation. The
// appointment identifier rides along as external_ref so a ticket can
// be matched back to its appointment after a crash.
type createPayload struct {
	Subject        string `json:"subject"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	ExternalRef    string `json:"external_ref"`
	RequesterName  string `json:"requester_name"`
	RequesterEmail string `json:"requester_email"`
	RequesterPhone string `json:"requester_phone,omitempty"`
}

// Create submits the draft and returns the created ticket identifier.
func (c *Client) Create(ctx context.Context, draft connector.ServiceRequestDraft) (string, error) {
	payload := createPayload{
		Subject:        draft.Subject,
		Description:    draft.Description,
		Category:       draft.Category,
		ExternalRef:    draft.ExternalRef,
		RequesterName:  draft.RequesterName,
		RequesterEmail: draft.RequesterEmail,
		RequesterPhone: draft.RequesterPhone,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &connector.WriteError{AppointmentID: draft.ExternalRef, Err: err}
	}

	var ticketID string
	err = c.retry.Do(ctx, func() error {
		id, err := c.create(ctx, draft.ExternalRef, body)
		if err != nil {
			c.log.Warn("service request create failed",
				"appointment_id", draft.ExternalRef, "error", err)
			return err
		}
		ticketID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	c.log.Debug("service request created",
		"appointment_id", draft.ExternalRef, "ticket_id", ticketID)
	return ticketID, nil
}

func (c *Client) create(ctx context.Context, apptID string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/service_requests", bytes.NewReader(body))
	if err != nil {
		return "", &connector.WriteError{AppointmentID: apptID, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &connector.WriteError{AppointmentID: apptID, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &connector.WriteError{AppointmentID: apptID, Transient: true, Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		// Decoded below.
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &connector.AuthError{
			System:     "sink",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	default:
		return "", &connector.WriteError{
			AppointmentID: apptID,
			StatusCode:    resp.StatusCode,
			Transient:     connector.TransientStatus(resp.StatusCode),
			Err:           fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	sr, err := decodeServiceRequest(respBody)
	if err != nil {
		return "", &connector.WriteError{AppointmentID: apptID, Err: err}
	}
	if sr.ID.String() == "" {
		return "", &connector.WriteError{AppointmentID: apptID, Err: fmt.Errorf("create response missing ticket id")}
	}
	return sr.ID.String(), nil
}

// FindByExternalRef looks up a service request by the appointment
// identifier it carries. ok is false when no ticket exists. Lookup
// failures are surfaced as WriteErrors so the caller can decide
// whether to fall back to at-least-once semantics.
func (c *Client) FindByExternalRef(ctx context.Context, externalRef string) (string, bool, error) {
	q := url.Values{}
	q.Set("external_ref", externalRef)
	lookupURL := fmt.Sprintf("%s/service_requests?%s", c.endpoint, q.Encode())

	var ticketID string
	var found bool

	err := c.retry.Do(ctx, func() error {
		id, ok, err := c.find(ctx, externalRef, lookupURL)
		if err != nil {
			return err
		}
		ticketID, found = id, ok
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return ticketID, found, nil
}

func (c *Client) find(ctx context.Context, externalRef, lookupURL string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", false, &connector.WriteError{AppointmentID: externalRef, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, &connector.WriteError{AppointmentID: externalRef, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, &connector.WriteError{AppointmentID: externalRef, Transient: true, Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Decoded below.
	case resp.StatusCode == http.StatusNotFound:
		return "", false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", false, &connector.AuthError{
			System:     "sink",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	default:
		return "", false, &connector.WriteError{
			AppointmentID: externalRef,
			StatusCode:    resp.StatusCode,
			Transient:     connector.TransientStatus(resp.StatusCode),
			Err:           fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	srs, err := decodeServiceRequestList(respBody)
	if err != nil {
		return "", false, &connector.WriteError{AppointmentID: externalRef, Err: err}
	}
	for _, sr := range srs {
		if sr.ExternalRef == externalRef {
			return sr.ID.String(), true, nil
		}
	}
	return "", false, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// decodeServiceRequest handles both response shapes: a bare service
// request object and a {"service_request": {...}} envelope.
func decodeServiceRequest(body []byte) (*serviceRequest, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("decoding service request response: %w", err)
	}

	payload := generic
	if inner, ok := generic["service_request"].(map[string]interface{}); ok {
		payload = inner
	}

	var sr serviceRequest
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &sr,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("decoding service request fields: %w", err)
	}
	return &sr, nil
}

// decodeServiceRequestList handles the listing shapes: a bare array
// and a {"service_requests": [...]} envelope.
func decodeServiceRequestList(body []byte) ([]serviceRequest, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding service request listing: %w", err)
	}

	items, ok := raw.([]interface{})
	if !ok {
		envelope, isMap := raw.(map[string]interface{})
		if !isMap {
			return nil, fmt.Errorf("unexpected service request listing shape")
		}
		items, _ = envelope["service_requests"].([]interface{})
	}

	srs := make([]serviceRequest, 0, len(items))
	for _, item := range items {
		var sr serviceRequest
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &sr,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(item); err != nil {
			return nil, fmt.Errorf("decoding service request fields: %w", err)
		}
		srs = append(srs, sr)
	}
	return srs, nil
}
