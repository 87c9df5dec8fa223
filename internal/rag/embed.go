package rag

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/zeebo/blake3"
)

// Embedder turns text into a vector. Ingestion and retrieval against one
// collection must use the same embedder and model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	// Model names the embedding function, recorded with each collection.
	Model() string
}

// Embedder kinds accepted by NewEmbedder.
const (
	EmbedderOllama = "ollama"
	EmbedderHash   = "hash"
)

// EmbedderConfig selects and configures an Embedder.
type EmbedderConfig struct {
	Kind       string
	URL        string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// NewEmbedder builds the embedder named by c.Kind.
func NewEmbedder(c EmbedderConfig) (Embedder, error) {
	switch c.Kind {
	case EmbedderOllama:
		if c.URL == "" || strings.TrimSpace(c.Model) == "" {
			return nil, errors.New("ollama embedder needs a url and a model")
		}
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		return NewOllamaEmbedder(c.URL, c.Model, timeout), nil
	case EmbedderHash:
		return NewHashEmbedder(c.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q (want %s or %s)", c.Kind, EmbedderOllama, EmbedderHash)
	}
}

// OllamaEmbedder calls an Ollama-compatible /api/embeddings endpoint.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaEmbedder returns an embedder for model served at baseURL.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Model implements Embedder.
func (e *OllamaEmbedder) Model() string { return "ollama/" + e.model }

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(e.model) == "" {
		return nil, errors.New("embedding model is empty")
	}
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, errors.New("embedding response returned empty vector")
	}
	return parsed.Embedding, nil
}

// DefaultHashDimensions is the vector size of the hash embedder.
const DefaultHashDimensions = 512

// HashEmbedder is a deterministic, offline embedder. Every lower-cased
// word and every character trigram of a word is hashed with BLAKE3 into a
// signed bucket of a fixed-size vector, which is then normalized.
// Similarity is purely lexical.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hash embedder producing dims-sized vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Model implements Embedder.
func (e *HashEmbedder) Model() string { return "hash-blake3-" + strconv.Itoa(e.dims) }

// Embed implements Embedder.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v := make([]float64, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		e.add(v, "w:"+w, 1)
		runes := []rune(w)
		for i := 0; i+3 <= len(runes); i++ {
			e.add(v, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	Normalize(v)
	return v, nil
}

func (e *HashEmbedder) add(v []float64, feature string, weight float64) {
	sum := blake3.Sum256([]byte(feature))
	bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(e.dims)
	if sum[8]&1 == 1 {
		weight = -weight
	}
	v[bucket] += weight
}
