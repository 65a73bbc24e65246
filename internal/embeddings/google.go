package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	// ModelGeminiEmbedding001 is the default Gemini embedding model.
	ModelGeminiEmbedding001 = "gemini-embedding-001"

	geminiDefaultDimensions = 3072
	maxGeminiBatch          = 100

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GoogleEmbedder generates embeddings with the Gemini API. Documents and
// queries are embedded with their matching retrieval task types.
type GoogleEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGoogleEmbedder creates a Gemini embedder. A zero dims keeps the
// model's native output size.
func NewGoogleEmbedder(ctx context.Context, apiKey, model string, dims int) (*GoogleEmbedder, error) {
	if model == "" {
		model = ModelGeminiEmbedding001
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GoogleEmbedder{client: client, model: model, dims: dims}, nil
}

func (e *GoogleEmbedder) Name() string {
	return e.model
}

func (e *GoogleEmbedder) Dimensions() int {
	if e.dims > 0 {
		return e.dims
	}
	return geminiDefaultDimensions
}

func (e *GoogleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxGeminiBatch {
		end := min(i+maxGeminiBatch, len(texts))
		vecs, err := e.embed(ctx, texts[i:end], taskRetrievalDocument)
		if err != nil {
			return nil, err
		}
		all = append(all, vecs...)
	}
	return all, nil
}

func (e *GoogleEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *GoogleEmbedder) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}

	cfg := &genai.EmbedContentConfig{TaskType: taskType}
	if e.dims > 0 {
		dims := int32(e.dims)
		cfg.OutputDimensionality = &dims
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings, expected %d", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("gemini returned empty embedding for text %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
