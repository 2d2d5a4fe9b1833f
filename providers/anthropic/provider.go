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

// Package anthropic adapts Anthropic's Messages API to the providers.Provider
// contract, hand-rolling the HTTP call rather than depending on a vendor SDK.
package anthropic

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

const defaultBaseURL = "https://api.anthropic.com/v1/messages"
const defaultModel = "claude-3-5-sonnet-20241022"

// HTTPClient is the subset of *http.Client the adapter needs, seamed out for
// tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements providers.Provider against Anthropic's Messages API.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
}

// Option configures a Provider at construction time.
type Option func(*Provider)

// WithBaseURL overrides the default Anthropic API base URL (used in tests).
func WithBaseURL(url string) Option { return func(p *Provider) { p.baseURL = url } }

// WithModel overrides the default completion model.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithHTTPClient overrides the HTTP client, for testing.
func WithHTTPClient(c HTTPClient) Option { return func(p *Provider) { p.client = c } }

// New builds an Anthropic Provider authenticating with apiKey.
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

func (p *Provider) Name() string               { return "anthropic" }
func (p *Provider) Type() providers.ProviderType { return providers.ProviderTypeAnthropic }
func (p *Provider) SupportsStreaming() bool     { return true }

func (p *Provider) Capabilities() []providers.Capability {
	return []providers.Capability{
		providers.CapabilityTextGeneration,
		providers.CapabilityCodeAnalysis,
		providers.CapabilitySensitiveData,
	}
}

func (p *Provider) EstimateCost(tokens int) float64 {
	return pricing.Cost(providers.ProviderTypeAnthropic, tokens)
}

// EstimateTokens approximates Claude's tokenizer at roughly 3.5 characters
// per token, slightly denser than OpenAI's cl100k family.
func (p *Provider) EstimateTokens(text string) int {
	return len(text)*2/7 + 10
}

type messageBlock struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequestBody struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature,omitempty"`
	System      string         `json:"system,omitempty"`
	Messages    []messageBlock `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type completionResponseBody struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Model      string         `json:"model"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements providers.Provider.
func (p *Provider) Generate(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	body := completionRequestBody{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      req.SystemPrompt,
		Messages:    []messageBlock{{Role: "user", Content: req.Prompt}},
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
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

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

	var out completionResponseBody
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "decode response", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindRateLimit, "rate limited", nil)
	}
	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindAuth, "authentication failed", nil)
	}
	if out.Error != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindServer, out.Error.Message, nil)
	}
	if httpResp.StatusCode >= 500 {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindServer, fmt.Sprintf("status %d", httpResp.StatusCode), nil)
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &providers.CompletionResponse{
		Content:      text,
		Model:        out.Model,
		TokensUsed:   out.Usage.InputTokens + out.Usage.OutputTokens,
		PromptTokens: out.Usage.InputTokens,
		FinishReason: out.StopReason,
		Latency:      time.Since(start),
	}, nil
}

// HealthCheck sends a minimal request to verify the API key and connectivity.
func (p *Provider) HealthCheck(ctx context.Context) (providers.HealthStatus, error) {
	_, _, err := p.healthProbe(ctx)
	if err != nil {
		return providers.HealthUnavailable, err
	}
	return providers.HealthAvailable, nil
}

func (p *Provider) healthProbe(ctx context.Context) (*providers.CompletionResponse, string, error) {
	resp, err := p.Generate(ctx, providers.CompletionRequest{Prompt: "ping", MaxTokens: 1})
	return resp, p.Name(), err
}

var _ providers.Provider = (*Provider)(nil)
