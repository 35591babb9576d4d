package embedding

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// embeddingCache is a fixed-size FIFO cache keyed by a hash of the model
// and text, so repeated indexing or search calls over the same content
// skip the round trip to Ollama.
type embeddingCache struct {
	mu      sync.Mutex
	items   map[string][]float32
	order   []string
	maxSize int
}

func newEmbeddingCache(maxSize int) *embeddingCache {
	return &embeddingCache{
		items:   make(map[string][]float32, maxSize),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

func (c *embeddingCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *embeddingCache) set(key string, emb []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
	}
	c.items[key] = emb
}

// OllamaProvider implements Provider against a local Ollama server's
// /api/embeddings endpoint.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
	cache   *embeddingCache
}

// NewOllamaProvider returns a Provider backed by Ollama. baseURL defaults
// to http://localhost:11434, model to nomic-embed-text (768 dims).
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
		cache:   newEmbeddingCache(256),
	}
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// cacheKey returns a stable cache key for the given text and model.
func (p *OllamaProvider) cacheKey(text string) string {
	h := sha256.Sum256([]byte(p.model + "\x00" + text))
	return fmt.Sprintf("%x", h[:16]) // 128-bit prefix is plenty
}

// Embed satisfies Provider.
func (p *OllamaProvider) Embed(text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embedding: empty text")
	}

	key := p.cacheKey(text)
	if cached, ok := p.cache.get(key); ok {
		return cached, nil
	}

	reqBody, err := json.Marshal(ollamaEmbeddingRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	resp, err := p.client.Post(p.baseURL+"/api/embeddings", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: ollama error (status %d): %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding: empty embedding returned")
	}

	p.cache.set(key, result.Embedding)
	return result.Embedding, nil
}
