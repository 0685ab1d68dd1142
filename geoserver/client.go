// Package geoserver talks to the GeoServer REST API: feature types, layer
// security rules and the GeoWebCache seeding endpoint.
package geoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/GrainArc/LayerSync/metrics"
)

// Error is the class of every GeoServer failure.
var Error = errs.Class("geoserver")

// StatusError is an unexpected HTTP status returned by GeoServer.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// IsNotFound reports whether err carries a 404 from GeoServer.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

type Config struct {
	URL       string
	User      string
	Password  string
	Workspace string
	Store     string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
				TLSHandshakeTimeout: cfg.ConnectTimeout,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log.Named("geoserver"),
	}
}

// StoreName is the qualified data store name used in feature type payloads.
func (c *Client) StoreName() string { return c.cfg.Workspace + ":" + c.cfg.Store }

// do sends a JSON request and returns the status and body. Transport
// failures are returned as errors, status handling is left to the caller.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, Error.New("%s: encode payload: %v", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
	if err != nil {
		return 0, nil, Error.New("%s: %v", op, err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GeoServerDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.GeoServerRequestsTotal.WithLabelValues(op, metrics.StatusClass(0)).Inc()
		return 0, nil, Error.New("%s: %v", op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.GeoServerRequestsTotal.WithLabelValues(op, metrics.StatusClass(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, Error.New("%s: read response: %v", op, err)
	}
	c.log.Debug("request", zap.String("op", op), zap.String("method", method),
		zap.String("path", path), zap.Int("status", resp.StatusCode))
	return resp.StatusCode, data, nil
}

func statusError(op string, status int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > 500 {
		text = text[:500]
	}
	return Error.Wrap(&StatusError{Op: op, Status: status, Body: text})
}

func (c *Client) featureTypesPath() string {
	return fmt.Sprintf("/rest/workspaces/%s/datastores/%s/featuretypes",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(c.cfg.Store))
}
