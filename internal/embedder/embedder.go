// Package embedder batches text into fixed-dimension vectors via a remote
// embedding API, with retry/backoff and a zero-vector short circuit for
// empty input.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wikirag/internal/config"
)

const (
	maxBatchSize  = 100
	maxAttempts   = 3
	retryBaseWait = time.Second
)

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Client calls an OpenAI-compatible batch embedding endpoint.
type Client struct {
	cfg  config.EmbeddingConfig
	http *http.Client
}

// New builds a Client bound to the given embedding configuration.
func New(cfg config.EmbeddingConfig) *Client {
	return &Client{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Dimension() int { return c.cfg.Dimension }

// Embed embeds a single string.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of at most maxBatchSize, preserving
// input order. Empty/whitespace-only entries never reach the remote API;
// they are filled with a zero vector of the configured dimension.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var toSend []string
	var sendIdx []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, c.cfg.Dimension)
			continue
		}
		toSend = append(toSend, t)
		sendIdx = append(sendIdx, i)
	}
	if len(toSend) == 0 {
		return out, nil
	}

	for start := 0; start < len(toSend); start += maxBatchSize {
		end := min(start+maxBatchSize, len(toSend))
		vecs, err := c.embedWithRetry(ctx, toSend[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: got %d vectors, want %d", len(vecs), end-start)
		}
		for i, v := range vecs {
			out[sendIdx[start+i]] = v
		}
	}
	return out, nil
}

// embedWithRetry implements the retry policy: up to maxAttempts, waiting
// base*2^attempt on rate-limit or 5xx errors, failing immediately on
// anything else.
func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		vecs, retryable, err := c.callOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		wait := retryBaseWait * time.Duration(1<<attempt)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("embedder: exhausted retries: %w", lastErr)
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) callOnce(ctx context.Context, texts []string) ([][]float32, bool, error) {
	body, _ := json.Marshal(embedReq{Model: c.cfg.Model, Input: texts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if strings.Contains(strings.ToLower(string(respBody)), "rate_limit") || resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("embedder: rate limited: %s", resp.Status)
	}
	if resp.StatusCode/100 == 5 {
		return nil, true, fmt.Errorf("embedder: server error %s: %s", resp.Status, string(respBody))
	}
	if resp.StatusCode/100 != 2 {
		return nil, false, fmt.Errorf("embedder: request failed %s: %s", resp.Status, string(respBody))
	}

	var er embedResp
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, false, fmt.Errorf("embedder: decode response: %w", err)
	}
	vecs := make([][]float32, len(er.Data))
	for i, d := range er.Data {
		vecs[i] = d.Embedding
	}
	return vecs, false, nil
}

// Ping sends a minimal embed call to verify the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.callOnce(ctx, []string{"ping"})
	return err
}
