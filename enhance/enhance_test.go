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

package enhance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mak-mm/privaguard/fragment"
	"github.com/mak-mm/privaguard/providers"
)

type stubModel struct {
	response string
	err      error
}

func (s *stubModel) Name() string                     { return "stub" }
func (s *stubModel) Type() providers.ProviderType      { return providers.ProviderTypeAnthropic }
func (s *stubModel) SupportsStreaming() bool           { return false }
func (s *stubModel) EstimateCost(tokens int) float64   { return 0 }
func (s *stubModel) EstimateTokens(text string) int    { return len(text)/4 + 10 }
func (s *stubModel) Capabilities() []providers.Capability {
	return []providers.Capability{providers.CapabilityTextGeneration}
}
func (s *stubModel) HealthCheck(ctx context.Context) (providers.HealthStatus, error) {
	return providers.HealthAvailable, nil
}
func (s *stubModel) Generate(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &providers.CompletionResponse{Content: s.response}, nil
}

func TestEnhancer_AnalyzeIntentParsesValidJSON(t *testing.T) {
	model := &stubModel{response: `{"primary_intent": "troubleshooting", "expected_response_type": "steps", "key_requirements": ["clarity"], "domain_expertise": "networking", "response_format": "list", "context_preservation_priority": 8}`}
	e := New(model)
	sess := NewSession("why is my wifi slow")

	analysis := e.AnalyzeIntent(context.Background(), sess)
	assert.Equal(t, "troubleshooting", analysis.PrimaryIntent)
	assert.Equal(t, 8, analysis.ContextPreservationPriority)
	assert.Equal(t, analysis, sess.Analysis)
	assert.NotEmpty(t, sess.History)
}

func TestEnhancer_AnalyzeIntentFallsBackOnModelError(t *testing.T) {
	model := &stubModel{err: errors.New("boom")}
	e := New(model)
	sess := NewSession("hello")

	analysis := e.AnalyzeIntent(context.Background(), sess)
	assert.Equal(t, defaultQueryAnalysis(), analysis)
}

func TestEnhancer_AnalyzeIntentFallsBackOnInvalidJSON(t *testing.T) {
	model := &stubModel{response: "not json at all"}
	e := New(model)
	sess := NewSession("hello")

	analysis := e.AnalyzeIntent(context.Background(), sess)
	assert.Equal(t, defaultQueryAnalysis(), analysis)
}

func TestEnhancer_EnhanceFragmentAppliesModelOutput(t *testing.T) {
	model := &stubModel{response: `{"enhanced_content": "Please answer precisely.", "context_added": "precision", "instructions_added": "be precise", "rationale": "clarity matters", "quality_score": 0.9}`}
	e := New(model)
	sess := NewSession("q")
	sess.Analysis = defaultQueryAnalysis()

	f := fragment.Fragment{Content: "original", FragmentType: fragment.TypeGeneral}
	enhanced := e.EnhanceFragment(context.Background(), sess, f, providers.ProviderTypeOpenAI)

	assert.Equal(t, "Please answer precisely.", enhanced.Content)
	assert.Equal(t, "original", enhanced.OriginalContent)
	assert.InDelta(t, 0.9, enhanced.EnhancementMetadata.QualityScore, 0.0001)
}

func TestEnhancer_EnhanceFragmentDegradesGracefullyOnError(t *testing.T) {
	model := &stubModel{err: errors.New("down")}
	e := New(model)
	sess := NewSession("q")
	sess.Analysis = defaultQueryAnalysis()

	f := fragment.Fragment{Content: "original", FragmentType: fragment.TypeGeneral}
	enhanced := e.EnhanceFragment(context.Background(), sess, f, providers.ProviderTypeOpenAI)

	assert.Equal(t, "original", enhanced.Content)
	assert.Equal(t, float64(0), enhanced.EnhancementMetadata.QualityScore)
}

func TestEnhancer_EnhanceFragmentDegradesGracefullyOnMalformedJSON(t *testing.T) {
	model := &stubModel{response: "garbage, no json here"}
	e := New(model)
	sess := NewSession("q")
	sess.Analysis = defaultQueryAnalysis()

	f := fragment.Fragment{Content: "original"}
	enhanced := e.EnhanceFragment(context.Background(), sess, f, providers.ProviderTypeOpenAI)
	assert.Equal(t, "original", enhanced.Content)
	assert.Equal(t, float64(0), enhanced.EnhancementMetadata.QualityScore)
}

func TestEnhancer_AggregateUsesModelOutput(t *testing.T) {
	model := &stubModel{response: "here is the synthesized answer"}
	e := New(model)
	sess := NewSession("q")
	sess.append("system", "some prior context")

	out := e.Aggregate(context.Background(), sess, []string{"resp one", "resp two"})
	assert.Equal(t, "here is the synthesized answer", out)
}

func TestEnhancer_AggregateFallsBackToConcatenationOnError(t *testing.T) {
	model := &stubModel{err: errors.New("down")}
	e := New(model)
	sess := NewSession("q")

	out := e.Aggregate(context.Background(), sess, []string{"resp one", "resp two"})
	assert.Contains(t, out, "resp one")
	assert.Contains(t, out, "resp two")
}

func TestEnhancer_EnhanceAllAnalyzesOnceAndEnhancesEachFragment(t *testing.T) {
	model := &stubModel{response: `{"enhanced_content": "x", "quality_score": 0.5}`}
	e := New(model)
	sess := NewSession("q")

	fragments := []fragment.Fragment{
		{Content: "a", FragmentType: fragment.TypeGeneral},
		{Content: "b", FragmentType: fragment.TypeGeneral},
	}
	targets := []providers.ProviderType{providers.ProviderTypeOpenAI, providers.ProviderTypeAnthropic}

	out := e.EnhanceAll(context.Background(), sess, fragments, targets)
	require.Len(t, out, 2)
	assert.NotEmpty(t, sess.Analysis.PrimaryIntent)
	for _, ef := range out {
		assert.Equal(t, "x", ef.Content)
	}
}
