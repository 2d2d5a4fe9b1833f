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

// Package gemini adapts Google's Gemini generateContent API to the
// providers.Provider contract, hand-rolling the HTTP call rather than
// depending on a vendor SDK.
package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
const defaultModel = "gemini-1.5-flash"

// HTTPClient is the subset of *http.Client the adapter needs, seamed out for
// tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements providers.Provider against Gemini's generateContent API.
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

// New builds a Gemini Provider authenticating with apiKey.
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

func (p *Provider) Name() string                { return "gemini" }
func (p *Provider) Type() providers.ProviderType { return providers.ProviderTypeGemini }
func (p *Provider) SupportsStreaming() bool      { return false }

func (p *Provider) Capabilities() []providers.Capability {
	return []providers.Capability{
		providers.CapabilityTextGeneration,
		providers.CapabilityVision,
	}
}

func (p *Provider) EstimateCost(tokens int) float64 {
	return pricing.Cost(providers.ProviderTypeGemini, tokens)
}

// EstimateTokens approximates Gemini's tokenizer at roughly 4 characters per
// token.
func (p *Provider) EstimateTokens(text string) int {
	return len(text)/4 + 10
}

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type generateRequestBody struct {
	Contents         []content `json:"contents"`
	SystemInstruction *content `json:"systemInstruction,omitempty"`
	GenerationConfig struct {
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		Temperature     float64 `json:"temperature,omitempty"`
	} `json:"generationConfig,omitempty"`
}

type generateResponseBody struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate implements providers.Provider.
func (p *Provider) Generate(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := generateRequestBody{
		Contents: []content{{Role: "user", Parts: []contentPart{{Text: req.Prompt}}}},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []contentPart{{Text: req.SystemPrompt}}}
	}
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens
	body.GenerationConfig.Temperature = req.Temperature

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "marshal request", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var out generateResponseBody
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
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindSafetyFilter, "no candidates returned", nil)
	}

	var text string
	for _, part := range out.Candidates[0].Content.Parts {
		text += part.Text
	}

	return &providers.CompletionResponse{
		Content:      text,
		Model:        model,
		TokensUsed:   out.UsageMetadata.TotalTokenCount,
		PromptTokens: out.UsageMetadata.PromptTokenCount,
		FinishReason: out.Candidates[0].FinishReason,
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
