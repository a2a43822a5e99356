package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/errs"
)

// HTTPClient calls a local embedding server's batch endpoint, mirroring the
// single-model-name, single-endpoint shape of an Ollama-style embed API.
type HTTPClient struct {
	baseURL   string
	model     string
	batchHint int
	client    *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL (e.g. http://localhost:11434).
func NewHTTPClient(baseURL, model string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		model:     model,
		batchHint: 512,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) BatchSizeHint() int { return c.batchHint }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EncodeBatch posts the texts to the embedding server's /api/embed endpoint
// and returns one vector per input text, in order.
func (c *HTTPClient) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, errs.Wrap(errs.ErrEnrich, "embedder.EncodeBatch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.ErrEnrich, "embedder.EncodeBatch", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransient, "embedder.EncodeBatch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Wrap(errs.ErrTransient, "embedder.EncodeBatch", fmt.Errorf("embed server returned %d", resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.ErrEnrich, "embedder.EncodeBatch", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, errs.Wrap(errs.ErrEnrich, "embedder.EncodeBatch", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Embeddings)))
	}
	return out.Embeddings, nil
}
