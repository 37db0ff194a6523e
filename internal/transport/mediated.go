package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
)

// MediatedClient calls the local hub-mediation service. Every operation is
// one POST whose body carries the hub credentials; a 200 with a JSON body
// is success and anything else is ErrTransportUnreachable.
type MediatedClient struct {
	addr       string
	baseURL    string
	httpClient *http.Client
	logger     Logger
}

// NewMediatedClient creates a client for the service at host:port.
func NewMediatedClient(host string, port int) *MediatedClient {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &MediatedClient{
		addr:       addr,
		baseURL:    "http://" + addr,
		httpClient: &http.Client{},
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *MediatedClient) SetLogger(logger Logger) {
	c.logger = logger
}

// Post sends body as JSON to path and returns the raw JSON response.
func (c *MediatedClient) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrTransportUnreachable, err) //nolint:errorlint // sentinel carries the classification
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransportUnreachable, path, err) //nolint:errorlint // sentinel carries the classification
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading response: %v", ErrTransportUnreachable, path, err) //nolint:errorlint // sentinel carries the classification
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("mediation service error", "path", path, "status", resp.StatusCode, "body", truncate(data, 200))
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrTransportUnreachable, path, resp.StatusCode)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s: response is not JSON", ErrTransportUnreachable, path)
	}
	return data, nil
}

// Ping reports whether the service accepts connections.
func (c *MediatedClient) Ping(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnreachable, err) //nolint:errorlint // sentinel carries the classification
	}
	return conn.Close()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
