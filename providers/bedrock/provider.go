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

// Package bedrock adapts AWS Bedrock's Anthropic-on-Bedrock runtime to the
// providers.Provider contract via the aws-sdk-go-v2 bedrockruntime client,
// the one adapter in this module backed by a vendor SDK rather than a
// hand-rolled HTTP client.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/mak-mm/privaguard/pricing"
	"github.com/mak-mm/privaguard/providers"
)

const defaultModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// InvokeClient is the subset of *bedrockruntime.Client the adapter needs,
// seamed out for tests.
type InvokeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements providers.Provider against AWS Bedrock.
type Provider struct {
	client  InvokeClient
	modelID string
}

// Option configures a Provider at construction time.
type Option func(*Provider)

func WithModelID(id string) Option           { return func(p *Provider) { p.modelID = id } }
func WithInvokeClient(c InvokeClient) Option { return func(p *Provider) { p.client = c } }

// New builds a Bedrock Provider, loading AWS credentials the default way
// (env vars, shared config, IAM role) unless overridden with WithInvokeClient.
func New(ctx context.Context, region string, opts ...Option) (*Provider, error) {
	p := &Provider{modelID: defaultModelID}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("bedrock: load aws config: %w", err)
		}
		p.client = bedrockruntime.NewFromConfig(cfg)
	}
	return p, nil
}

func (p *Provider) Name() string                { return "bedrock" }
func (p *Provider) Type() providers.ProviderType { return providers.ProviderTypeBedrock }
func (p *Provider) SupportsStreaming() bool      { return false }

func (p *Provider) Capabilities() []providers.Capability {
	return []providers.Capability{
		providers.CapabilityTextGeneration,
		providers.CapabilitySensitiveData,
	}
}

func (p *Provider) EstimateCost(tokens int) float64 {
	return pricing.Cost(providers.ProviderTypeBedrock, tokens)
}

// EstimateTokens approximates the underlying Claude-on-Bedrock tokenizer at
// roughly 3.5 characters per token.
func (p *Provider) EstimateTokens(text string) int {
	return len(text)*2/7 + 10
}

type anthropicOnBedrockBody struct {
	AnthropicVersion string         `json:"anthropic_version"`
	MaxTokens        int            `json:"max_tokens"`
	Temperature      float64        `json:"temperature,omitempty"`
	System           string         `json:"system,omitempty"`
	Messages         []bedrockMsg   `json:"messages"`
}

type bedrockMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicOnBedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate implements providers.Provider.
func (p *Provider) Generate(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	body := anthropicOnBedrockBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		System:           req.SystemPrompt,
		Messages:         []bedrockMsg{{Role: "user", Content: req.Prompt}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "marshal request", err)
	}

	model := req.Model
	if model == "" {
		model = p.modelID
	}

	start := time.Now()
	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindServer, "invoke model failed", err)
	}

	var resp anthropicOnBedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, providers.NewProviderError(p.Name(), providers.ErrKindUnexpected, "decode response", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &providers.CompletionResponse{
		Content:      text,
		Model:        model,
		TokensUsed:   resp.Usage.InputTokens + resp.Usage.OutputTokens,
		PromptTokens: resp.Usage.InputTokens,
		FinishReason: resp.StopReason,
		Latency:      time.Since(start),
	}, nil
}

// HealthCheck sends a minimal invocation to verify credentials and connectivity.
func (p *Provider) HealthCheck(ctx context.Context) (providers.HealthStatus, error) {
	_, err := p.Generate(ctx, providers.CompletionRequest{Prompt: "ping", MaxTokens: 1})
	if err != nil {
		return providers.HealthUnavailable, err
	}
	return providers.HealthAvailable, nil
}

var _ providers.Provider = (*Provider)(nil)
