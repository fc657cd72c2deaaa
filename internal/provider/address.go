package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"omniacore/internal/config"
	"omniacore/internal/types"
)

// AddressParser defines the interface to the address-parsing backend.
// The sanitizer runs on its output; absent fields stay absent.
type AddressParser interface {
	Parse(ctx context.Context, text string) (map[string]string, error)
}

// HTTPAddressParser talks to the backend over HTTP.
type HTTPAddressParser struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPAddressParser creates a client for the address-parsing backend.
func NewHTTPAddressParser(cfg config.AddressParserConfig) (*HTTPAddressParser, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("address parser base URL is required")
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAddressParser{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type addressRequest struct {
	Text string `json:"text"`
}

type addressResponse struct {
	Fields map[string]string `json:"fields"`
	Error  string            `json:"error,omitempty"`
}

// Parse posts the text and returns the backend's field map.
func (c *HTTPAddressParser) Parse(ctx context.Context, text string) (map[string]string, error) {
	body, err := json.Marshal(addressRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode address request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build address request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("address parse failed: %v: %w", err, types.ErrEngineUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("address backend returned %d: %s: %w", resp.StatusCode, data, types.ErrEngineUnavailable)
	}

	var ar addressResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("failed to decode address response: %v: %w", err, types.ErrSchemaInvalid)
	}
	if ar.Error != "" {
		return nil, fmt.Errorf("address backend error: %s: %w", ar.Error, types.ErrEngineUnavailable)
	}
	return ar.Fields, nil
}
