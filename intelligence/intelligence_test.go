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

package intelligence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mak-mm/privaguard/detect"
	"github.com/mak-mm/privaguard/fragment"
	"github.com/mak-mm/privaguard/providers"
)

func TestPrivacyIntelligence_AssessPrivacyLevelEscalatesOnPII(t *testing.T) {
	p := NewPrivacyIntelligence()
	report := detect.Report{
		HasPII:   true,
		PIISpans: []detect.PIISpan{{Type: detect.PIITypeSSN}, {Type: detect.PIITypeCreditCard}},
	}
	fragments := []fragment.Fragment{{FragmentType: fragment.TypePII, ContainsSensitiveData: true}}

	decision := p.assessPrivacyLevel(PrivacyLevelConfidential, report, fragments)
	assert.Equal(t, "privacy_intelligence", decision.Component)
	assert.NotEmpty(t, decision.Recommendation)
	assert.Contains(t, decision.Reasoning, "PII detected")
}

func TestPrivacyIntelligence_RecommendProviderRoutingHighSensitivityRestrictsToAnthropic(t *testing.T) {
	p := NewPrivacyIntelligence()
	f := fragment.Fragment{FragmentID: "f1", FragmentType: fragment.TypePII, ContainsSensitiveData: true}

	decision := p.recommendProviderRouting(f, detect.Report{}, PrivacyLevelPublic)
	assert.Equal(t, "route_to_anthropic", decision.Recommendation)
}

func TestPrivacyIntelligence_RecommendProviderRoutingLowSensitivityAllowsAll(t *testing.T) {
	p := NewPrivacyIntelligence()
	f := fragment.Fragment{FragmentID: "f1", FragmentType: fragment.TypeGeneral}

	decision := p.recommendProviderRouting(f, detect.Report{}, PrivacyLevelPublic)
	assert.Contains(t, decision.Recommendation, "anthropic")
	assert.Contains(t, decision.Recommendation, "openai")
}

func TestPrivacyIntelligence_CheckComplianceFlagsHighRiskPIIAndEU(t *testing.T) {
	p := NewPrivacyIntelligence()
	report := detect.Report{PIISpans: []detect.PIISpan{{Type: detect.PIITypeCreditCard}}}

	decision := p.checkCompliance(report, "EU")
	assert.Equal(t, "enforce_strict_compliance_measures", decision.Recommendation)
	issues, ok := decision.Metadata["compliance_issues"].([]string)
	require.True(t, ok)
	assert.Len(t, issues, 2)
}

func TestPrivacyIntelligence_CheckComplianceCleanWhenNoIssues(t *testing.T) {
	p := NewPrivacyIntelligence()
	decision := p.checkCompliance(detect.Report{}, "US")
	assert.Equal(t, "standard_compliance_sufficient", decision.Recommendation)
}

func TestCostOptimizer_AnalyzeCostOptionsSortsByRatio(t *testing.T) {
	c := NewCostOptimizer()
	fragments := []fragment.Fragment{{FragmentID: "f1", Content: "hello world this is a fragment of decent length"}}
	available := map[string][]providers.ProviderType{
		"f1": {providers.ProviderTypeAzureOpenAI, providers.ProviderTypeGemini, providers.ProviderTypeOpenAI},
	}

	analysis := c.AnalyzeCostOptions(fragments, available)
	options := analysis["f1"]
	require.Len(t, options, 3)
	for i := 1; i < len(options); i++ {
		assert.LessOrEqual(t, options[i-1].CostPerformanceRatio, options[i].CostPerformanceRatio)
	}
}

func TestCostOptimizer_SelectCostOptimalProviderFlagsBudgetExceeded(t *testing.T) {
	c := NewCostOptimizer()
	options := []CostOption{{Provider: providers.ProviderTypeOpenAI, CostEstimate: 5.0, PerformanceScore: 0.95}}

	decision := c.SelectCostOptimalProvider("f1", options, 0.01)
	assert.Contains(t, decision.Recommendation, "budget_exceeded")
	assert.Equal(t, 0.6, decision.Confidence)
}

func TestCostOptimizer_SelectCostOptimalProviderNoOptions(t *testing.T) {
	c := NewCostOptimizer()
	decision := c.SelectCostOptimalProvider("f1", nil, 1.0)
	assert.Equal(t, "no_providers_available", decision.Recommendation)
	assert.Equal(t, 0.0, decision.Confidence)
}

func TestCostOptimizer_CheckBudgetComplianceSumsCheapestPerFragment(t *testing.T) {
	c := NewCostOptimizer()
	analysis := map[string][]CostOption{
		"f1": {{CostEstimate: 0.1}},
		"f2": {{CostEstimate: 0.2}},
	}
	decision := c.CheckBudgetCompliance(analysis, 0.5)
	assert.Equal(t, "budget_compliant", decision.Recommendation)

	decision = c.CheckBudgetCompliance(analysis, 0.2)
	assert.Equal(t, "budget_exceeded_optimization_needed", decision.Recommendation)
}

func TestPerformanceMonitor_AnalyzeOverallPerformanceFlagsHighLatency(t *testing.T) {
	m := NewPerformanceMonitor()
	results := []FragmentResult{{FragmentID: "f1", ProviderID: "openai", ProcessingTimeMs: 1000, FinishReason: "stop"}}

	decision := m.analyzeOverallPerformance(results, 40000)
	assert.Contains(t, decision.Recommendation, "consider_fragment_reduction")
}

func TestPerformanceMonitor_AnalyzeOverallPerformanceAcceptable(t *testing.T) {
	m := NewPerformanceMonitor()
	results := []FragmentResult{{FragmentID: "f1", ProviderID: "openai", ProcessingTimeMs: 500, FinishReason: "stop"}}

	decision := m.analyzeOverallPerformance(results, 1000)
	assert.Equal(t, "performance_acceptable", decision.Recommendation)
}

func TestPerformanceMonitor_AnalyzeProviderPerformanceFlagsUnreliable(t *testing.T) {
	m := NewPerformanceMonitor()
	results := []FragmentResult{
		{FragmentID: "f1", ProviderID: "openai", ProcessingTimeMs: 100, FinishReason: "stop"},
		{FragmentID: "f2", ProviderID: "openai", ProcessingTimeMs: 100, FinishReason: "error"},
	}

	decisions := m.analyzeProviderPerformance(results)
	require.Len(t, decisions, 1)
	assert.Contains(t, decisions[0].Recommendation, "unreliable")
}

func TestPerformanceMonitor_IdentifyBottlenecksDetectsSlowFragment(t *testing.T) {
	m := NewPerformanceMonitor()
	results := []FragmentResult{
		{FragmentID: "f1", ProviderID: "openai", ProcessingTimeMs: 100},
		{FragmentID: "f2", ProviderID: "openai", ProcessingTimeMs: 5000},
		{FragmentID: "f3", ProviderID: "openai", ProcessingTimeMs: 100},
	}

	decision := m.identifyBottlenecks(results)
	assert.Equal(t, "address_identified_bottlenecks", decision.Recommendation)
}

func TestPerformanceMonitor_MonitorCombinesAllDecisions(t *testing.T) {
	m := NewPerformanceMonitor()
	results := []FragmentResult{{FragmentID: "f1", ProviderID: "openai", ProcessingTimeMs: 100, FinishReason: "stop"}}

	decisions := m.Monitor(results, 200)
	assert.GreaterOrEqual(t, len(decisions), 3)
}
