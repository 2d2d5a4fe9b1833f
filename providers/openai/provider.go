// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai adapts OpenAI's chat completions API to the
// providers.Provider contract, hand-rolling the HTTP call rather than
// depending on a vendor SDK.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mak-mm/privaguard/pricing"
	"github.com/mak-mm/privaguard/providers"
)

const defaultBaseURL = "https://api.openai.com/v1/chat/completions"
const defaultModel = "gpt-4o-mini"

// HTTPClient is the subset of *http.Client the adapter needs, seamed out for
// tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements providers.Provider against OpenAI's chat completions API.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
}

// Option configures a Provider at construction time.
type Option func(*Provider)

func WithBaseURL(url string) Option      { return func(p *Provider) { p.baseURL = url } }
func WithModel(model string) Option      { return func(p *Provider) { p.model = model } }
func WithHTTPClient(c HTTPClient) Option { return func(p *Provider) { p.client = c } }

// New builds an OpenAI Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string                { return "openai" }
func (p *Provider) Type() providers.ProviderType { return providers.ProviderTypeOpenAI }
func (p *Provider) SupportsStreaming() bool      { return true }

func (p *Provider) Capabilities() []providers.Capability {
	return []providers.Capability{
		providers.CapabilityTextGeneration,
		providers.CapabilityCodeAnalysis,
		providers.CapabilityFunctionCall,
	}
}

func (p *Provider) EstimateCost(tokens int) float64 {
	return pricing.Cost(providers.ProviderTypeOpenAI, tokens)
}

// EstimateTokens approximates OpenAI's cl100k-family tokenization at roughly
// 4 characters per token, without pulling in a full BPE tokenizer.
func (p *Provider) EstimateTokens(text string) int {
	return len(text)/4 + 10
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponseBody struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate implements providers.Provider.
func (p *Provider) Generate(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequestBody{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindServer, "request failed", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "read response", err)
	}

	var out chatResponseBody
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "decode response", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindRateLimit, "rate limited", nil)
	}
	if httpResp.StatusCode == http.StatusUnauthorized {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindAuth, "authentication failed", nil)
	}
	if out.Error != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindServer, out.Error.Message, nil)
	}
	if httpResp.StatusCode >= 500 {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindServer, fmt.Sprintf("status %d", httpResp.StatusCode), nil)
	}
	if len(out.Choices) == 0 {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "empty choices", nil)
	}

	return &providers.CompletionResponse{
		Content:      out.Choices[0].Message.Content,
		Model:        out.Model,
		TokensUsed:   out.Usage.TotalTokens,
		PromptTokens: out.Usage.PromptTokens,
		FinishReason: out.Choices[0].FinishReason,
		Latency:      time.Since(start),
	}, nil
}

// HealthCheck sends a minimal request to verify the API key and connectivity.
func (p *Provider) HealthCheck(ctx context.Context) (providers.HealthStatus, error) {
	_, err := p.Generate(ctx, providers.CompletionRequest{Prompt: "ping", MaxTokens: 1})
	if err != nil {
		return providers.HealthUnavailable, err
	}
	return providers.HealthAvailable, nil
}

var _ providers.Provider = (*Provider)(nil)
