// Package clinicapi talks to the upstream clinic REST service and exposes it
// as an appointment.Repository.
package clinicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/session"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

// APIError is a non-2xx answer other than 404.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clinicapi: status %d: %s", e.StatusCode, e.Message)
}

// Client is an HTTP client for the clinic service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a client rooted at baseURL (e.g. "https://api.example.com/v1").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logging.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func clinicPath(clinic string, parts ...string) string {
	p := "/clinics/" + url.PathEscape(clinic)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func idPart(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (c *Client) ListByClinic(ctx context.Context, clinic string, f appointment.Filters) ([]appointment.Appointment, error) {
	q := url.Values{}
	if f.DoctorID != 0 {
		q.Set("doctor_id", idPart(f.DoctorID))
	}
	if f.PatientID != 0 {
		q.Set("patient_id", idPart(f.PatientID))
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.From != nil {
		q.Set("from", f.From.String())
	}
	if f.To != nil {
		q.Set("to", f.To.String())
	}
	if f.SeriesID != uuid.Nil {
		q.Set("series_id", f.SeriesID.String())
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}

	path := clinicPath(clinic, "appointments")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []appointment.Appointment
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListByDoctor(ctx context.Context, clinic string, doctorID int64) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	if err := c.do(ctx, http.MethodGet, clinicPath(clinic, "doctors", idPart(doctorID), "appointments"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListByPatient(ctx context.Context, clinic string, patientID int64) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	if err := c.do(ctx, http.MethodGet, clinicPath(clinic, "patients", idPart(patientID), "appointments"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, clinic string, id int64) (*appointment.Appointment, error) {
	var out appointment.Appointment
	if err := c.do(ctx, http.MethodGet, clinicPath(clinic, "appointments", idPart(id)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, clinic string, d appointment.Draft) (*appointment.Appointment, error) {
	var out appointment.Appointment
	if err := c.do(ctx, http.MethodPost, clinicPath(clinic, "appointments"), d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBatch submits every instance in one request; the clinic service
// persists them atomically.
func (c *Client) CreateBatch(ctx context.Context, clinic string, ds []appointment.Draft) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	body := map[string]any{"appointments": ds}
	if err := c.do(ctx, http.MethodPost, clinicPath(clinic, "appointments", "batch"), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, clinic string, id int64, p appointment.Patch) (*appointment.Appointment, error) {
	var out appointment.Appointment
	if err := c.do(ctx, http.MethodPut, clinicPath(clinic, "appointments", idPart(id)), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSeries(ctx context.Context, clinic string, id int64, p appointment.Patch) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	if err := c.do(ctx, http.MethodPut, clinicPath(clinic, "appointments", idPart(id), "series"), p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, clinic string, id int64) error {
	return c.do(ctx, http.MethodDelete, clinicPath(clinic, "appointments", idPart(id)), nil, nil)
}

func (c *Client) DeleteSeries(ctx context.Context, clinic string, id int64) error {
	return c.do(ctx, http.MethodDelete, clinicPath(clinic, "appointments", idPart(id), "series"), nil, nil)
}

// Ping checks that the clinic service answers on /health.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("clinicapi: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("clinicapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess, ok := session.FromContext(ctx); ok {
		if sess.Token != "" {
			req.Header.Set("Authorization", "Bearer "+sess.Token)
		}
		if sess.RequestID != "" {
			req.Header.Set("X-Request-ID", sess.RequestID)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clinicapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("clinic api call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusNotFound {
		return appointment.ErrAppointmentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("clinicapi: decode response: %w", err)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
