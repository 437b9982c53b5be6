// Package bridge is a thin client for the bridge's REST endpoints. The sync
// core only needs the resolver for these URLs; the client exists for the
// pages that show logs, device health and stage data next to the live
// panels.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rangebridge/kiosk/internal/endpoint"
)

// Client calls the bridge REST API. Requests run through a circuit breaker
// so a dead bridge fails fast instead of stacking up timeouts on the kiosk.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a Client over the resolver's API URL.
func NewClient(resolver *endpoint.Resolver) *Client {
	return newClient(resolver.APIURL())
}

func newClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "bridge-api",
			Interval: 60 * time.Second,
			Timeout:  15 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}
}

// HealthStatus is the bridge's health report.
type HealthStatus struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptimeSec,omitempty"`
}

// LogEntry is one bridge log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Device describes one sensor/timer device the bridge knows about.
type Device struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Kind     string     `json:"kind"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Stage is a course-of-fire definition served by the bridge.
type Stage struct {
	League      string `json:"league"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Strings     int    `json:"strings,omitempty"`
	MinRounds   int    `json:"minRounds,omitempty"`
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("bridge returned %d for %s: %s", resp.StatusCode, path, body)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil, nil
	})
	return err
}

// Health fetches the bridge health report.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return HealthStatus{}, err
	}
	return out, nil
}

// Logs fetches the most recent bridge log entries, newest first.
func (c *Client) Logs(ctx context.Context, limit int) ([]LogEntry, error) {
	var out []LogEntry
	if err := c.getJSON(ctx, "/logs?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Devices fetches the bridge's device inventory.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := c.getJSON(ctx, "/admin/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stages fetches all stage definitions.
func (c *Client) Stages(ctx context.Context) ([]Stage, error) {
	var out []Stage
	if err := c.getJSON(ctx, "/stages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stage fetches a single stage by league and name.
func (c *Client) Stage(ctx context.Context, league, name string) (Stage, error) {
	var out Stage
	if err := c.getJSON(ctx, "/stages/"+league+"/"+name, &out); err != nil {
		return Stage{}, err
	}
	return out, nil
}
