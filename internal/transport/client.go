package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"firespread-sim/internal/fire"
	"firespread-sim/internal/logging"
)

const (
	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 8 * 1024 * 1024
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Client talks to the remote simulation service over REST and holds at most
// one WebSocket subscription.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	dialer  *websocket.Dialer
	log     *slog.Logger

	mu  sync.Mutex
	sub *subscription
}

// Health is the body of the health endpoint.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
}

// New creates a client from opts.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		timeout: timeout,
		client:  httpClient,
		dialer:  dialer,
		log:     log,
	}
}

// BaseURL returns the configured service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthCheck probes the service health endpoint.
func (c *Client) HealthCheck(ctx context.Context) (Health, error) {
	var out Health
	err := c.request(ctx, http.MethodGet, "/api/health", nil, &out)
	return out, err
}

// CreateSession creates a remote simulation for the given scenario inputs.
func (c *Client) CreateSession(ctx context.Context, params fire.SimulationParameters, points []fire.IgnitionPoint) (fire.Update, error) {
	if points == nil {
		points = []fire.IgnitionPoint{}
	}
	body := fire.SessionRequest{Parameters: params, IgnitionPoints: points}
	out, err := c.sessionCall(ctx, http.MethodPost, "/api/simulations", body)
	if err != nil {
		return fire.Update{}, err
	}
	if out.SimulationID == "" {
		return fire.Update{}, fmt.Errorf("%w: create simulation response without simulationId", ErrProtocol)
	}
	return out, nil
}

// StartSession asks the service to run simulation id.
func (c *Client) StartSession(ctx context.Context, id string) (fire.Update, error) {
	return c.sessionCall(ctx, http.MethodPost, simulationPath(id, "start"), nil)
}

// PauseSession asks the service to pause simulation id.
func (c *Client) PauseSession(ctx context.Context, id string) (fire.Update, error) {
	return c.sessionCall(ctx, http.MethodPost, simulationPath(id, "pause"), nil)
}

// StopSession asks the service to stop simulation id.
func (c *Client) StopSession(ctx context.Context, id string) (fire.Update, error) {
	return c.sessionCall(ctx, http.MethodPost, simulationPath(id, "stop"), nil)
}

// SessionStatus fetches the current state of simulation id.
func (c *Client) SessionStatus(ctx context.Context, id string) (fire.Update, error) {
	return c.sessionCall(ctx, http.MethodGet, simulationPath(id, ""), nil)
}

// DeleteSession removes simulation id from the service.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, simulationPath(id, ""), nil, nil)
}

// ListScenarios returns all stored scenarios.
func (c *Client) ListScenarios(ctx context.Context) ([]fire.Scenario, error) {
	var out []fire.Scenario
	if err := c.request(ctx, http.MethodGet, "/api/scenarios", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetScenario fetches one scenario record.
func (c *Client) GetScenario(ctx context.Context, id string) (fire.Scenario, error) {
	var out fire.Scenario
	err := c.request(ctx, http.MethodGet, "/api/scenarios/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CreateScenario stores a scenario; the service assigns id and timestamps.
func (c *Client) CreateScenario(ctx context.Context, sc fire.Scenario) (fire.Scenario, error) {
	body := scenarioBody(sc)
	var out fire.Scenario
	err := c.request(ctx, http.MethodPost, "/api/scenarios", body, &out)
	return out, err
}

// UpdateScenario replaces the editable fields of scenario id.
func (c *Client) UpdateScenario(ctx context.Context, id string, sc fire.Scenario) (fire.Scenario, error) {
	body := scenarioBody(sc)
	var out fire.Scenario
	err := c.request(ctx, http.MethodPut, "/api/scenarios/"+url.PathEscape(id), body, &out)
	return out, err
}

// DeleteScenario removes scenario id.
func (c *Client) DeleteScenario(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/scenarios/"+url.PathEscape(id), nil, nil)
}

type scenarioRequest struct {
	Name           string                    `json:"name"`
	Description    string                    `json:"description"`
	Parameters     fire.SimulationParameters `json:"parameters"`
	IgnitionPoints []fire.IgnitionPoint      `json:"ignitionPoints"`
}

func scenarioBody(sc fire.Scenario) scenarioRequest {
	points := sc.IgnitionPoints
	if points == nil {
		points = []fire.IgnitionPoint{}
	}
	return scenarioRequest{
		Name:           sc.Name,
		Description:    sc.Description,
		Parameters:     sc.Parameters,
		IgnitionPoints: points,
	}
}

func simulationPath(id, action string) string {
	p := "/api/simulations/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) sessionCall(ctx context.Context, method, path string, body any) (fire.Update, error) {
	var out fire.Update
	if err := c.request(ctx, method, path, body, &out); err != nil {
		return fire.Update{}, err
	}
	if out.Status != "" && !out.Status.Valid() {
		return fire.Update{}, fmt.Errorf("%w: unknown simulation status %q", ErrProtocol, out.Status)
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.Debug("api request", "method", method, "url", req.URL.String())
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("api request failed", "method", method, "path", path, "err", err)
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", ErrTransport, method, path, err)
	}
	c.log.Debug("api response", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeRequestError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ErrProtocol, method, path, err)
	}
	return nil
}

func decodeRequestError(status int, data []byte) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	reqErr := &RequestError{StatusCode: status}
	if err := json.Unmarshal(data, &payload); err == nil {
		reqErr.Message = payload.Error
		if reqErr.Message == "" {
			reqErr.Message = payload.Message
		}
	}
	return reqErr
}
