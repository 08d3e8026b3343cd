package catalog

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

	"github.com/clinicdesk/booking-engine/pkg/logging"
)

const defaultTimeout = 20 * time.Second

// Client is an HTTP Gateway implementation against the remote clinic
// API. The remote endpoints are inconsistent about response envelopes
// (bare arrays, {"data": [...]}, {"available_dates": [...]}); all of
// that tolerance lives here so the workflow core only ever sees
// normalized slices.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Component("catalog"),
	}
}

// ListClinics returns the clinics a patient can be referred to.
func (c *Client) ListClinics(ctx context.Context) ([]ClinicRef, error) {
	body, err := c.get(ctx, "/clinics", nil)
	if err != nil {
		return nil, err
	}
	var clinics []ClinicRef
	if err := unwrapList(body, &clinics, "clinics"); err != nil {
		return nil, fmt.Errorf("catalog: decode clinics: %w", err)
	}
	return clinics, nil
}

// ListDoctorsByClinic returns the doctors attached to a clinic.
func (c *Client) ListDoctorsByClinic(ctx context.Context, clinicID string) ([]DoctorRef, error) {
	if strings.TrimSpace(clinicID) == "" {
		return nil, fmt.Errorf("catalog: missing clinic id")
	}
	body, err := c.get(ctx, "/clinics/"+url.PathEscape(clinicID)+"/doctors", nil)
	if err != nil {
		return nil, err
	}
	var doctors []DoctorRef
	if err := unwrapList(body, &doctors, "doctors"); err != nil {
		return nil, fmt.Errorf("catalog: decode doctors: %w", err)
	}
	return doctors, nil
}

// ListAvailableDates returns the bookable dates for a doctor.
func (c *Client) ListAvailableDates(ctx context.Context, doctorID string) ([]string, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, fmt.Errorf("catalog: missing doctor id")
	}
	body, err := c.get(ctx, "/doctors/"+url.PathEscape(doctorID)+"/available-dates", nil)
	if err != nil {
		return nil, err
	}
	var dates []string
	if err := unwrapList(body, &dates, "available_dates"); err != nil {
		return nil, fmt.Errorf("catalog: decode available dates: %w", err)
	}
	return dates, nil
}

// ListAvailableTimes returns the bookable slot tokens for doctor+date.
func (c *Client) ListAvailableTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, fmt.Errorf("catalog: missing doctor id")
	}
	if strings.TrimSpace(date) == "" {
		return nil, fmt.Errorf("catalog: missing date")
	}
	body, err := c.get(ctx, "/doctors/"+url.PathEscape(doctorID)+"/available-times", url.Values{"date": {date}})
	if err != nil {
		return nil, err
	}
	var times []string
	if err := unwrapList(body, &times, "available_times"); err != nil {
		return nil, fmt.Errorf("catalog: decode available times: %w", err)
	}
	return times, nil
}

// SubmitReservation persists a completed booking.
func (c *Client) SubmitReservation(ctx context.Context, req ReservationRequest) (*ReservationResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal reservation: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reservations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("catalog: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("catalog: submit reservation: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("catalog: submit reservation: status %d: %s", resp.StatusCode, truncate(body))
	}

	var result struct {
		ReservationResult
		Data *ReservationResult `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("catalog: decode reservation result: %w", err)
	}
	if result.Data != nil {
		return result.Data, nil
	}
	return &result.ReservationResult, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: GET %s: status %d: %s", path, resp.StatusCode, truncate(body))
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// unwrapList decodes body into out, accepting a bare JSON array, a
// {"data": [...]} envelope, or an envelope keyed by altKey.
func unwrapList(body []byte, out any, altKey string) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return err
	}
	for _, key := range []string{"data", altKey} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return nil
		}
		return json.Unmarshal(raw, out)
	}
	return fmt.Errorf("no recognized list envelope (want array, \"data\" or %q)", altKey)
}

func truncate(body []byte) string {
	msg := string(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
