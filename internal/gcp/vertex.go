package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/htareportflow/internal/llm"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// embeddingTaskType tells the embedding models the vectors are used for retrieval.
const embeddingTaskType = "RETRIEVAL_DOCUMENT"

// safetySettings disable blocking; reports discuss diseases and treatments in clinical terms.
var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
}

// VertexClient is an llm.Generator backed by Gemini models and Vertex AI text embeddings.
type VertexClient struct {
	baseClient    *genai.Client
	predictClient *aiplatform.PredictionClient
	projectID     string
	region        string
}

var _ llm.Generator = (*VertexClient)(nil)

// NewVertexClient creates a new client for generation and embedding in one region.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	predictClient, err := aiplatform.NewPredictionClient(ctx, option.WithEndpoint(region+"-aiplatform.googleapis.com:443"))
	if err != nil {
		_ = baseClient.Close()
		return nil, fmt.Errorf("aiplatform.NewPredictionClient: %w", err)
	}

	return &VertexClient{
		baseClient:    baseClient,
		predictClient: predictClient,
		projectID:     projectID,
		region:        region,
	}, nil
}

// Complete runs one generation request on the named Gemini model.
func (c *VertexClient) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	model := c.baseClient.GenerativeModel(req.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(req.MaxOutputTokens))
	}
	model.SafetySettings = safetySettings

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", classifyError(fmt.Errorf("failed to generate content from %s: %w", req.Model, err))
	}
	return responseText(resp), nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// Embed returns the text embedding of text from the named publisher model.
func (c *VertexClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	instance, err := structpb.NewValue(map[string]interface{}{
		"content":   text,
		"task_type": embeddingTaskType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding instance: %w", err)
	}

	resp, err := c.predictClient.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:  c.publisherModel(model),
		Instances: []*structpb.Value{instance},
	})
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to embed with %s: %w", model, err))
	}
	return embeddingValues(resp)
}

func (c *VertexClient) publisherModel(model string) string {
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", c.projectID, c.region, model)
}

// embeddingValues reads predictions[0].embeddings.values.
func embeddingValues(resp *aiplatformpb.PredictResponse) ([]float32, error) {
	if resp == nil || len(resp.Predictions) == 0 {
		return nil, nil
	}
	embeddings := resp.Predictions[0].GetStructValue().GetFields()["embeddings"]
	values := embeddings.GetStructValue().GetFields()["values"].GetListValue().GetValues()
	if values == nil {
		return nil, errors.New("prediction has no embeddings.values")
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}
	return vec, nil
}

// classifyError maps quota and availability failures to llm.StatusError.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500) {
		return &llm.StatusError{Code: gerr.Code, Err: err}
	}
	// status.Code unwraps wrapped gRPC errors.
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return &llm.StatusError{Code: http.StatusTooManyRequests, Err: err}
	case codes.Unavailable:
		return &llm.StatusError{Code: http.StatusServiceUnavailable, Err: err}
	case codes.Internal:
		return &llm.StatusError{Code: http.StatusInternalServerError, Err: err}
	}
	return err
}

// Close releases both underlying clients.
func (c *VertexClient) Close() error {
	var errs []error
	if c.baseClient != nil {
		errs = append(errs, c.baseClient.Close())
	}
	if c.predictClient != nil {
		errs = append(errs, c.predictClient.Close())
	}
	return errors.Join(errs...)
}
