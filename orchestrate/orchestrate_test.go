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

package orchestrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mak-mm/privaguard/aggregate"
	"github.com/mak-mm/privaguard/enhance"
	"github.com/mak-mm/privaguard/fragment"
	"github.com/mak-mm/privaguard/intelligence"
	"github.com/mak-mm/privaguard/providers"
)

type stubProvider struct {
	name     string
	pt       providers.ProviderType
	response string
	err      error
}

func (s *stubProvider) Name() string                { return s.name }
func (s *stubProvider) Type() providers.ProviderType { return s.pt }
func (s *stubProvider) SupportsStreaming() bool      { return false }
func (s *stubProvider) EstimateCost(tokens int) float64 { return 0.01 }
func (s *stubProvider) EstimateTokens(text string) int  { return len(text)/4 + 10 }
func (s *stubProvider) Capabilities() []providers.Capability {
	return []providers.Capability{providers.CapabilityTextGeneration, providers.CapabilitySensitiveData}
}
func (s *stubProvider) HealthCheck(ctx context.Context) (providers.HealthStatus, error) {
	return providers.HealthAvailable, nil
}
func (s *stubProvider) Generate(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &providers.CompletionResponse{Content: s.response, TokensUsed: 42, FinishReason: "stop"}, nil
}

func newTestRouter(provs ...*stubProvider) *providers.Router {
	reg := providers.NewRegistry()
	for _, p := range provs {
		reg.Register(p)
	}
	return providers.NewRouter(reg)
}

func TestOrchestrator_ProcessSimpleQueryNoSensitiveData(t *testing.T) {
	router := newTestRouter(&stubProvider{name: "openai", pt: providers.ProviderTypeOpenAI, response: "The capital of France is Paris."})
	o := New(router)

	resp, err := o.Process(context.Background(), Request{Query: "What is the capital of France?", PrivacyLevel: intelligence.PrivacyLevelPublic})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 1, resp.FragmentsProcessed)
	assert.Contains(t, resp.AggregatedResponse, "Paris")
	assert.Equal(t, int64(1), o.Metrics().SuccessfulRequests)
}

func TestOrchestrator_ProcessRoutesSensitiveFragmentToAnthropic(t *testing.T) {
	router := newTestRouter(
		&stubProvider{name: "anthropic", pt: providers.ProviderTypeAnthropic, response: "Contact noted."},
		&stubProvider{name: "openai", pt: providers.ProviderTypeOpenAI, response: "Should not be used for PII."},
	)
	o := New(router)

	resp, err := o.Process(context.Background(), Request{
		Query:        "My email is john@example.com, please reply",
		PrivacyLevel: intelligence.PrivacyLevelRestricted,
	})
	require.NoError(t, err)
	assert.Equal(t, intelligence.PrivacyLevelRestricted, resp.PrivacyLevelAchieved)
	for _, pu := range resp.ProvidersUsed {
		assert.Equal(t, "anthropic", pu)
	}
}

func TestOrchestrator_ProcessFailsWhenAllFragmentsFail(t *testing.T) {
	router := newTestRouter(&stubProvider{name: "openai", pt: providers.ProviderTypeOpenAI, err: errors.New("boom")})
	o := New(router)

	_, err := o.Process(context.Background(), Request{Query: "hello there", PrivacyLevel: intelligence.PrivacyLevelPublic})
	require.Error(t, err)
	assert.Equal(t, int64(1), o.Metrics().FailedRequests)
}

func TestOrchestrator_ProcessUsesProvidedRequestID(t *testing.T) {
	router := newTestRouter(&stubProvider{name: "openai", pt: providers.ProviderTypeOpenAI, response: "ok"})
	o := New(router)

	resp, err := o.Process(context.Background(), Request{RequestID: "req_fixed", Query: "hi", PrivacyLevel: intelligence.PrivacyLevelPublic})
	require.NoError(t, err)
	assert.Equal(t, "req_fixed", resp.RequestID)
}

func TestOrchestrator_ProcessWithEnhancerReplacesFragmentContentBeforeDispatch(t *testing.T) {
	enhancerModel := &stubProvider{
		name: "enhancer-model",
		pt:   providers.ProviderTypeOpenAI,
		response: `{"enhanced_content": "Please answer concisely: what is 2+2?", "context_added": "tone", "instructions_added": "be brief", "rationale": "clarity", "quality_score": 0.9}`,
	}
	var seenPrompt string
	worker := &capturingProvider{name: "openai", pt: providers.ProviderTypeOpenAI, response: "4", seen: &seenPrompt}
	router := newTestRouter(worker)

	o := New(router, WithEnhancer(enhance.New(enhancerModel)))
	_, err := o.Process(context.Background(), Request{Query: "what is 2+2?", PrivacyLevel: intelligence.PrivacyLevelPublic})
	require.NoError(t, err)
	assert.Contains(t, seenPrompt, "Please answer concisely")
}

type capturingProvider struct {
	name     string
	pt       providers.ProviderType
	response string
	seen     *string
}

func (c *capturingProvider) Name() string                { return c.name }
func (c *capturingProvider) Type() providers.ProviderType { return c.pt }
func (c *capturingProvider) SupportsStreaming() bool      { return false }
func (c *capturingProvider) EstimateCost(tokens int) float64 { return 0.01 }
func (c *capturingProvider) EstimateTokens(text string) int  { return len(text)/4 + 10 }
func (c *capturingProvider) Capabilities() []providers.Capability {
	return []providers.Capability{providers.CapabilityTextGeneration, providers.CapabilitySensitiveData}
}
func (c *capturingProvider) HealthCheck(ctx context.Context) (providers.HealthStatus, error) {
	return providers.HealthAvailable, nil
}
func (c *capturingProvider) Generate(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	*c.seen = req.Prompt
	return &providers.CompletionResponse{Content: c.response, TokensUsed: 10, FinishReason: "stop"}, nil
}

func TestDetermineAchievedPrivacyLevel_AllHighPrivacyIsRestricted(t *testing.T) {
	results := []FragmentProcessingResult{
		{FragmentResult: fragResultWithScore(0.9)},
		{FragmentResult: fragResultWithScore(0.85)},
	}
	level := determineAchievedPrivacyLevel(Request{PrivacyLevel: intelligence.PrivacyLevelPublic}, results)
	assert.Equal(t, intelligence.PrivacyLevelRestricted, level)
}

func TestDetermineAchievedPrivacyLevel_FallsBackToRequestedWhenMostlyLow(t *testing.T) {
	results := []FragmentProcessingResult{
		{FragmentResult: fragResultWithScore(0.2)},
		{FragmentResult: fragResultWithScore(0.3)},
	}
	level := determineAchievedPrivacyLevel(Request{PrivacyLevel: intelligence.PrivacyLevelConfidential}, results)
	assert.Equal(t, intelligence.PrivacyLevelConfidential, level)
}

func TestRequiresSensitiveHandling_PIIFragmentAlwaysTrue(t *testing.T) {
	f := fragment.Fragment{FragmentType: fragment.TypePII}
	assert.True(t, requiresSensitiveHandling(f, Request{PrivacyLevel: intelligence.PrivacyLevelPublic}))
}

func TestRequiresSensitiveHandling_RestrictedPrivacyForcesTrueOnGeneralFragment(t *testing.T) {
	f := fragment.Fragment{FragmentType: fragment.TypeGeneral}
	assert.True(t, requiresSensitiveHandling(f, Request{PrivacyLevel: intelligence.PrivacyLevelTopSecret}))
	assert.False(t, requiresSensitiveHandling(f, Request{PrivacyLevel: intelligence.PrivacyLevelPublic}))
}

func fragResultWithScore(score float64) aggregate.FragmentResult {
	return aggregate.FragmentResult{PrivacyScore: score}
}
