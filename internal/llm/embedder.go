// internal/llm/embedder.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"

	"nurture-engine/internal/common/config"
)

const embedCacheSize = 10000

// Embedder generates text embeddings through the OpenAI embeddings API.
// Results are cached so repeated template seeds cost one API call.
type Embedder struct {
	config     *config.LLMConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
}

func NewEmbedder(cfg *config.LLMConfig) (*Embedder, error) {
	cache, err := lru.New[string, []float32](embedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &Embedder{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		cache: cache,
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	var embedding []float32
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		embedding, err = e.callAPI(ctx, text)
		if err == nil {
			break
		}
		if attempt < 2 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("embed after retries: %w", err)
	}

	e.cache.Add(text, embedding)
	return embedding, nil
}

// Func adapts the embedder to the signature the template store expects.
func (e *Embedder) Func() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}

// LocalEmbeddingFunc returns a deterministic token-hash embedding for runs
// without an embeddings API. Similarity quality is rough, but template
// search keeps working and results are stable across restarts.
func LocalEmbeddingFunc() chromem.EmbeddingFunc {
	const dim = 256
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		for _, token := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(token))
			vec[h.Sum32()%dim]++
		}

		var sum float64
		for _, v := range vec {
			sum += float64(v * v)
		}
		if sum == 0 {
			vec[0] = 1
			return vec, nil
		}
		norm := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= norm
		}
		return vec, nil
	}
}

func (e *Embedder) callAPI(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]interface{}{
		"model": e.config.EmbeddingModel,
		"input": []string{text},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("response has no embeddings")
	}

	return apiResp.Data[0].Embedding, nil
}
