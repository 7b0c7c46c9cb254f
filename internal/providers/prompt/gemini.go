package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

const geminiDefaultTimeout = 15 * time.Second

// GeminiOptions controls how the Gemini interpreter is configured.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// GeminiInterpreter refines editing prompts through the Gemini
// generateContent API. Failures never escape: the caller receives a degraded
// result carrying the original prompt.
type GeminiInterpreter struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *infra.Logger
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	CandidateCount  int     `json:"candidateCount,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// NewGeminiInterpreter constructs a Gemini-backed interpreter.
func NewGeminiInterpreter(opts GeminiOptions) (*GeminiInterpreter, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &GeminiInterpreter{
		apiKey:  opts.APIKey,
		model:   model,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}, nil
}

// Interpret asks the model for a single refined instruction. Any failure is
// converted into a degraded result and logged.
func (g *GeminiInterpreter) Interpret(ctx context.Context, prompt string) Interpretation {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildInterpretPrompt(prompt)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     0.7,
			CandidateCount:  1,
			MaxOutputTokens: 2048,
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.degrade(prompt, fmt.Errorf("encode request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return g.degrade(prompt, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.degrade(prompt, fmt.Errorf("invoke gemini: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return g.degrade(prompt, fmt.Errorf("gemini status %d", resp.StatusCode))
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.degrade(prompt, fmt.Errorf("decode response: %w", err))
	}
	for _, candidate := range out.Candidates {
		for _, part := range candidate.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return Interpretation{Text: text}
			}
		}
	}
	return g.degrade(prompt, errors.New("no text candidates returned"))
}

func (g *GeminiInterpreter) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

func (g *GeminiInterpreter) degrade(prompt string, cause error) Interpretation {
	g.logger.Warn().
		Err(cause).
		Str("model", g.model).
		Msg("prompt: interpretation failed; falling back to original prompt")
	return Degrade(prompt, cause)
}

func buildInterpretPrompt(prompt string) string {
	var b strings.Builder
	b.WriteString("Rewrite the following photo editing request as one concise, ")
	b.WriteString("concrete instruction for an image editing model. ")
	b.WriteString("Keep the user's intent, drop filler words, reply with the instruction only.\n\n")
	b.WriteString("Request: ")
	b.WriteString(prompt)
	return b.String()
}

var _ Interpreter = (*GeminiInterpreter)(nil)
