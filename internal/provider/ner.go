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

// Entity is one span the NER model recognized.
type Entity struct {
	Type  string  `json:"type"`
	Text  string  `json:"text"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
}

// NERClient defines the interface to the entity model service.
type NERClient interface {
	Entities(ctx context.Context, text string) ([]Entity, error)
}

// HTTPNERClient talks to the model service over HTTP.
type HTTPNERClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPNERClient creates a client for the NER model service.
func NewHTTPNERClient(cfg config.NERConfig) (*HTTPNERClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("NER base URL is required")
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNERClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type nerRequest struct {
	Text string `json:"text"`
}

type nerResponse struct {
	Entities []Entity `json:"entities"`
	Error    string   `json:"error,omitempty"`
}

// Entities posts the text and returns recognized spans. Transport errors
// and non-2xx replies classify as ErrEngineUnavailable.
func (c *HTTPNERClient) Entities(ctx context.Context, text string) ([]Entity, error) {
	body, err := json.Marshal(nerRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode NER request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/entities", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build NER request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NER call failed: %v: %w", err, types.ErrEngineUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("NER service returned %d: %s: %w", resp.StatusCode, data, types.ErrEngineUnavailable)
	}

	var nr nerResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return nil, fmt.Errorf("failed to decode NER response: %v: %w", err, types.ErrSchemaInvalid)
	}
	if nr.Error != "" {
		return nil, fmt.Errorf("NER service error: %s: %w", nr.Error, types.ErrEngineUnavailable)
	}
	return nr.Entities, nil
}
