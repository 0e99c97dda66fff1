package ai

import (
	"context"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaycrm/enrich-core/pkg/gemini"
)

// Default models per provider, overridable per stored key or per request.
var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-haiku-4-5",
	"gemini":    "gemini-2.0-flash",
	"grok":      "grok-2-latest",
	"deepseek":  "deepseek-chat",
}

// Base URLs for the OpenAI-compatible providers.
var openAICompatibleBaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"grok":     "https://api.x.ai/v1",
	"deepseek": "https://api.deepseek.com/v1",
}

const defaultMaxTokens = 2048

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request is a provider-independent completion request.
type Request struct {
	Messages    []Message
	Model       string // empty uses the stored or default model
	Temperature *float64
	MaxTokens   int
}

// Completion is a provider-independent completion result.
type Completion struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// ProviderResult pairs one provider's outcome with its name. Exactly one of
// Completion and Err is set; a provider failure is data, not a panic or an
// early return for its siblings.
type ProviderResult struct {
	Provider   string      `json:"provider"`
	Completion *Completion `json:"completion,omitempty"`
	Err        string      `json:"error,omitempty"`
}

// openAICaller is the slice of go-openai's client the service uses.
type openAICaller interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// anthropicCaller is the slice of anthropic-sdk-go the service uses.
type anthropicCaller interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Service routes completion requests to the right provider client. Three
// wire shapes exist: OpenAI-compatible (openai, grok, deepseek), Gemini,
// and Anthropic.
type Service struct {
	keys     *KeyResolver
	baseURLs map[string]string // per-provider overrides
	timeout  time.Duration

	// Client factories, replaced in tests.
	newOpenAI    func(apiKey, baseURL string) openAICaller
	newGemini    func(apiKey string) gemini.Client
	newAnthropic func(apiKey string) anthropicCaller
}

// NewService creates a Service. baseURLs may override any provider's
// endpoint (self-hosted gateways, test servers); nil uses the defaults.
func NewService(keys *KeyResolver, baseURLs map[string]string) *Service {
	return &Service{
		keys:     keys,
		baseURLs: baseURLs,
		timeout:  90 * time.Second,
		newOpenAI: func(apiKey, baseURL string) openAICaller {
			cfg := openai.DefaultConfig(apiKey)
			cfg.BaseURL = baseURL
			return openai.NewClientWithConfig(cfg)
		},
		newGemini: func(apiKey string) gemini.Client {
			return gemini.NewClient(apiKey)
		},
		newAnthropic: func(apiKey string) anthropicCaller {
			c := sdk.NewClient(option.WithAPIKey(apiKey))
			return &c.Messages
		},
	}
}

// Complete runs one request against one provider.
func (s *Service) Complete(ctx context.Context, provider string, req Request) (*Completion, error) {
	rec, err := s.keys.Resolve(ctx, provider)
	if err != nil {
		return nil, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = rec.Model
	}
	if modelName == "" {
		modelName = defaultModels[provider]
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var comp *Completion
	switch provider {
	case "openai", "grok", "deepseek":
		comp, err = s.completeOpenAI(ctx, provider, rec.Secret, modelName, req)
	case "gemini":
		comp, err = s.completeGemini(ctx, rec.Secret, modelName, req)
	case "anthropic":
		comp, err = s.completeAnthropic(ctx, rec.Secret, modelName, req)
	default:
		return nil, eris.Errorf("ai: unknown provider %s", provider)
	}
	if err != nil {
		return nil, err
	}

	s.keys.MarkUsed(ctx, rec)
	zap.L().Debug("completion finished",
		zap.String("provider", provider),
		zap.String("model", comp.Model),
		zap.Int("prompt_tokens", comp.PromptTokens),
		zap.Int("completion_tokens", comp.CompletionTokens))
	return comp, nil
}

// CompleteMultiple fans one request out to several providers concurrently
// and waits for all of them. Every provider produces a result; failures are
// recorded per provider and never abort the batch.
func (s *Service) CompleteMultiple(ctx context.Context, providers []string, req Request) []ProviderResult {
	results := make([]ProviderResult, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(providers))
	for i, provider := range providers {
		g.Go(func() error {
			comp, err := s.Complete(gctx, provider, req)
			if err != nil {
				results[i] = ProviderResult{Provider: provider, Err: err.Error()}
				return nil
			}
			results[i] = ProviderResult{Provider: provider, Completion: comp}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	return results
}

func (s *Service) completeOpenAI(ctx context.Context, provider, apiKey, modelName string, req Request) (*Completion, error) {
	baseURL := s.baseURLs[provider]
	if baseURL == "" {
		baseURL = openAICompatibleBaseURLs[provider]
	}
	client := s.newOpenAI(apiKey, baseURL)

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	oaReq := openai.ChatCompletionRequest{
		Model:     modelName,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		oaReq.Temperature = float32(*req.Temperature)
	}

	resp, err := client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return nil, eris.Wrapf(err, "ai: %s completion", provider)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("ai: %s returned no choices", provider)
	}

	return &Completion{
		Provider:         provider,
		Model:            resp.Model,
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (s *Service) completeGemini(ctx context.Context, apiKey, modelName string, req Request) (*Completion, error) {
	client := s.newGemini(apiKey)

	greq := gemini.GenerateRequest{Model: modelName}
	for _, m := range req.Messages {
		part := gemini.Part{Text: m.Content}
		switch m.Role {
		case "system":
			greq.SystemUser = &gemini.Content{Parts: []gemini.Part{part}}
		case "assistant":
			greq.Contents = append(greq.Contents, gemini.Content{Role: "model", Parts: []gemini.Part{part}})
		default:
			greq.Contents = append(greq.Contents, gemini.Content{Role: "user", Parts: []gemini.Part{part}})
		}
	}
	greq.GenerationConfig = &gemini.GenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: &req.MaxTokens,
	}

	resp, err := client.GenerateContent(ctx, greq)
	if err != nil {
		return nil, eris.Wrap(err, "ai: gemini completion")
	}
	text := resp.Text()
	if text == "" {
		return nil, eris.New("ai: gemini returned no candidates")
	}

	return &Completion{
		Provider:         "gemini",
		Model:            modelName,
		Content:          text,
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

func (s *Service) completeAnthropic(ctx context.Context, apiKey, modelName string, req Request) (*Completion, error) {
	client := s.newAnthropic(apiKey)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelName),
		MaxTokens: int64(req.MaxTokens),
	}
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "system":
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := client.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "ai: anthropic completion")
	}

	var text string
	for _, b := range msg.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return &Completion{
		Provider:         "anthropic",
		Model:            string(msg.Model),
		Content:          text,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}
