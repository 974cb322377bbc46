package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/memorycore/memorycore/internal/domain/memcore"
	apperrors "github.com/memorycore/memorycore/pkg/errors"
	"github.com/memorycore/memorycore/pkg/resilience"
)

// OllamaClient generates text via Ollama's /api/generate HTTP endpoint,
// following the same base-URL/http.Client/logger shape as
// embedding.OllamaEmbedder. Every call is gated by the shared "llm" named
// circuit so a failing backend stops accepting traffic instead of piling
// up timeouts.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
	circuit *resilience.Circuit
}

// NewOllamaClient creates an OllamaClient. circuit is typically
// registry.GetCircuit("llm", ...) from the shared resilience.Registry.
func NewOllamaClient(baseURL, model string, circuit *resilience.Circuit, logger *zap.Logger) *OllamaClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
		circuit: circuit,
	}
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate implements memcore.LLMClient.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts memcore.GenerateOptions) (string, error) {
	if c.circuit != nil && !c.circuit.CanExecute() {
		return "", apperrors.New(apperrors.KindSystemCircuitOpen, "llm circuit is open")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.doGenerate(callCtx, prompt, opts.Temperature)
	if c.circuit != nil {
		if err != nil {
			c.circuit.RecordFailure()
		} else {
			c.circuit.RecordSuccess()
		}
	}
	return out, err
}

func (c *OllamaClient) doGenerate(ctx context.Context, prompt string, temperature float64) (string, error) {
	reqBody := generateRequest{Model: c.model, Prompt: prompt, Stream: false, Temperature: temperature}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInputBadFormat, "marshal generate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindSystemInternal, "build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperrors.Wrap(apperrors.KindFetchTimeout, "llm generate timed out", err)
		}
		return "", apperrors.Wrap(apperrors.KindHostUnreachable, "llm generate request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", apperrors.New(apperrors.KindSystemRateLimited, "llm backend rate-limited the request")
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", apperrors.New(apperrors.KindFetchProviderErr, fmt.Sprintf("llm generate returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperrors.Wrap(apperrors.KindFetchLoadFailed, "decode generate response", err)
	}
	return out.Response, nil
}

var _ memcore.LLMClient = (*OllamaClient)(nil)
