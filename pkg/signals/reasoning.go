package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/bulwark-ai/bulwark/pkg/guard"
)

// reasoningSystemPrompt instructs the model to emit one JSON object.
// Models still wrap it in prose or fences often enough that parsing
// goes through jsonrepair before strict decoding.
const reasoningSystemPrompt = `You are a guardrail analyst. Inspect the given AI-generated text for failures.
Failure classes: prompt_injection, toxicity, bias, fabricated_concept, fabricated_fact, missing_grounding, overconfidence, domain_mismatch.
Respond with exactly one JSON object and nothing else:
{"class": "<failure class or none>", "confidence": <0.0-1.0>, "explanation": "<one sentence>"}`

// ReasoningConfig configures the Tier 3 LLM client. BaseURL points at
// any OpenAI-compatible endpoint (OpenRouter, Ollama, vLLM).
type ReasoningConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// DefaultReasoningConfig targets a local Ollama endpoint.
func DefaultReasoningConfig() ReasoningConfig {
	return ReasoningConfig{
		BaseURL:     "http://localhost:11434/v1",
		Model:       "llama3.2",
		Temperature: 0.0,
		MaxTokens:   256,
	}
}

// ReasoningAgent is the Tier 3 collaborator: a chat-completion call
// against an OpenAI-compatible API, with the response forced into the
// verdict JSON shape.
type ReasoningAgent struct {
	cfg    ReasoningConfig
	client *http.Client
	log    *zap.Logger
}

// NewReasoningAgent builds the agent. The HTTP client timeout is a
// backstop; per-request budgets come from the router via context.
func NewReasoningAgent(cfg ReasoningConfig, log *zap.Logger) *ReasoningAgent {
	return &ReasoningAgent{
		cfg:    cfg,
		client: NewHTTPClient(30 * time.Second),
		log:    log,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type reasoningVerdict struct {
	Class       string  `json:"class"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Evaluate implements guard.TierDetector.
func (a *ReasoningAgent) Evaluate(ctx context.Context, text string, reqCtx map[string]string, budget time.Duration) guard.TierOutcome {
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	verdict, err := a.analyze(cctx, text, reqCtx)
	if err != nil {
		status := guard.StatusErrored
		if cctx.Err() == context.DeadlineExceeded {
			status = guard.StatusTimedOut
		}
		a.log.Warn("reasoning call failed", zap.Error(err))
		return guard.TierOutcome{
			Status:      status,
			Elapsed:     time.Since(start),
			Explanation: fmt.Sprintf("reasoning failed: %v", err),
		}
	}

	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return guard.TierOutcome{
		Status:      guard.StatusCompleted,
		Class:       guard.NormalizeClass(verdict.Class),
		Confidence:  confidence,
		Elapsed:     time.Since(start),
		Explanation: verdict.Explanation,
	}
}

func (a *ReasoningAgent) analyze(ctx context.Context, text string, reqCtx map[string]string) (*reasoningVerdict, error) {
	user := &strings.Builder{}
	if domain := reqCtx["domain"]; domain != "" {
		fmt.Fprintf(user, "Deployment domain: %s\n\n", domain)
	}
	fmt.Fprintf(user, "Text to inspect:\n%s", text)

	body, err := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: reasoningSystemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reasoning request: %w", err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp, "reasoning"); err != nil {
		return nil, err
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("empty completion")
	}

	return parseReasoningVerdict(chat.Choices[0].Message.Content)
}

// parseReasoningVerdict extracts the verdict JSON from model output,
// tolerating markdown fences and minor JSON damage.
func parseReasoningVerdict(content string) (*reasoningVerdict, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	var v reasoningVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, fmt.Errorf("unparseable verdict: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return nil, fmt.Errorf("unparseable verdict after repair: %w", err)
		}
	}
	return &v, nil
}

func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
