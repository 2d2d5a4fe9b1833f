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

// Package intelligence implements the intelligence layer (C6): privacy-aware
// routing advice, cost optimization, and performance monitoring, all
// expressed as advisory Decision values the orchestrator logs and can act on.
//
// Cost and privacy numbers are never duplicated here — every estimate goes
// through the pricing package (Open Question Decision #2).
package intelligence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mak-mm/privaguard/detect"
	"github.com/mak-mm/privaguard/fragment"
	"github.com/mak-mm/privaguard/pricing"
	"github.com/mak-mm/privaguard/providers"
)

// PrivacyLevel is the closed set of user-declared privacy requirements
// (spec §3).
type PrivacyLevel string

const (
	PrivacyLevelPublic       PrivacyLevel = "public"
	PrivacyLevelInternal     PrivacyLevel = "internal"
	PrivacyLevelConfidential PrivacyLevel = "confidential"
	PrivacyLevelRestricted   PrivacyLevel = "restricted"
	PrivacyLevelTopSecret    PrivacyLevel = "top_secret"
)

var privacyLevelScores = map[PrivacyLevel]float64{
	PrivacyLevelPublic:       0.0,
	PrivacyLevelInternal:     0.2,
	PrivacyLevelConfidential: 0.5,
	PrivacyLevelRestricted:   0.8,
	PrivacyLevelTopSecret:    1.0,
}

// Decision is one advisory output from an intelligence component.
type Decision struct {
	Component      string
	DecisionType   string
	Recommendation string
	Confidence     float64
	Reasoning      string
	Metadata       map[string]any
}

// PrivacyIntelligence produces privacy-aware routing advice.
type PrivacyIntelligence struct{}

// NewPrivacyIntelligence builds a PrivacyIntelligence advisor.
func NewPrivacyIntelligence() *PrivacyIntelligence { return &PrivacyIntelligence{} }

// AnalyzePrivacyRequirements runs the full privacy assessment: overall
// privacy level, per-fragment provider routing, and a compliance check.
func (p *PrivacyIntelligence) AnalyzePrivacyRequirements(
	privacyLevel PrivacyLevel,
	userLocation string,
	report detect.Report,
	fragments []fragment.Fragment,
) []Decision {
	decisions := []Decision{p.assessPrivacyLevel(privacyLevel, report, fragments)}
	for _, f := range fragments {
		decisions = append(decisions, p.recommendProviderRouting(f, report, privacyLevel))
	}
	decisions = append(decisions, p.checkCompliance(report, userLocation))
	return decisions
}

func (p *PrivacyIntelligence) assessPrivacyLevel(privacyLevel PrivacyLevel, report detect.Report, fragments []fragment.Fragment) Decision {
	score := 0.0
	var factors []string

	if report.HasPII {
		piiScore := float64(len(report.PIISpans)) * 0.2
		if piiScore > 1.0 {
			piiScore = 1.0
		}
		score += piiScore
		factors = append(factors, fmt.Sprintf("PII detected (%d spans)", len(report.PIISpans)))
	}

	if report.Code.HasCode {
		score += report.Code.Confidence * 0.3
		factors = append(factors, fmt.Sprintf("code detected (confidence: %.2f)", report.Code.Confidence))
	}

	userScore, ok := privacyLevelScores[privacyLevel]
	if !ok {
		userScore = 0.5
	}
	score += userScore
	factors = append(factors, fmt.Sprintf("user privacy level: %s", privacyLevel))

	sensitiveFragments := 0
	for _, f := range fragments {
		if f.FragmentType == fragment.TypePII || f.FragmentType == fragment.TypeCode {
			sensitiveFragments++
		}
	}
	if sensitiveFragments > 0 && len(fragments) > 0 {
		score += (float64(sensitiveFragments) / float64(len(fragments))) * 0.3
		factors = append(factors, fmt.Sprintf("sensitive fragments: %d/%d", sensitiveFragments, len(fragments)))
	}

	score = score / 2.0
	if score > 1.0 {
		score = 1.0
	}

	var recommendation string
	switch {
	case score >= 0.8:
		recommendation = "require_top_tier_privacy_providers"
	case score >= 0.6:
		recommendation = "prefer_privacy_focused_providers"
	case score >= 0.4:
		recommendation = "use_standard_privacy_measures"
	default:
		recommendation = "standard_routing_acceptable"
	}

	return Decision{
		Component:      "privacy_intelligence",
		DecisionType:   "privacy_level_assessment",
		Recommendation: recommendation,
		Confidence:     0.9,
		Reasoning:      fmt.Sprintf("privacy score: %.2f. factors: %s", score, strings.Join(factors, ", ")),
		Metadata:       map[string]any{"privacy_score": score, "factors": factors},
	}
}

func (p *PrivacyIntelligence) recommendProviderRouting(f fragment.Fragment, report detect.Report, privacyLevel PrivacyLevel) Decision {
	sensitivity := fragmentSensitivity(f)

	var recommended []providers.ProviderType
	var reasoning string
	switch {
	case sensitivity >= 0.8 || privacyLevel == PrivacyLevelRestricted || privacyLevel == PrivacyLevelTopSecret:
		recommended = []providers.ProviderType{providers.ProviderTypeAnthropic}
		reasoning = "high sensitivity detected - routing to privacy-focused providers only"
	case sensitivity >= 0.5 || privacyLevel == PrivacyLevelConfidential:
		recommended = []providers.ProviderType{providers.ProviderTypeAnthropic, providers.ProviderTypeOpenAI}
		reasoning = "medium sensitivity - preferring privacy-focused providers"
	default:
		recommended = pricing.GeneralProviders
		reasoning = "low sensitivity - all providers acceptable"
	}

	names := make([]string, len(recommended))
	for i, pt := range recommended {
		names[i] = string(pt)
	}

	return Decision{
		Component:      "privacy_intelligence",
		DecisionType:   "provider_routing",
		Recommendation: "route_to_" + strings.Join(names, ","),
		Confidence:     0.85,
		Reasoning:      reasoning,
		Metadata: map[string]any{
			"fragment_id":          f.FragmentID,
			"sensitivity_score":    sensitivity,
			"recommended_providers": names,
		},
	}
}

func (p *PrivacyIntelligence) checkCompliance(report detect.Report, userLocation string) Decision {
	var issues []string

	for _, span := range report.PIISpans {
		switch span.Type {
		case detect.PIITypeCreditCard, detect.PIITypeSSN, detect.PIITypePassport:
			issues = append(issues, fmt.Sprintf("high-risk PII detected: %s", span.Type))
		}
	}

	if report.Code.HasCode && report.Code.Confidence > 0.8 {
		issues = append(issues, "high-confidence proprietary code detected")
	}

	if strings.EqualFold(userLocation, "EU") {
		issues = append(issues, "GDPR compliance required for EU user")
	}

	recommendation := "standard_compliance_sufficient"
	reasoning := "no specific compliance issues detected"
	confidence := 0.8
	if len(issues) > 0 {
		recommendation = "enforce_strict_compliance_measures"
		reasoning = "compliance issues detected: " + strings.Join(issues, ", ")
		confidence = 0.95
	}

	return Decision{
		Component:      "privacy_intelligence",
		DecisionType:   "compliance_check",
		Recommendation: recommendation,
		Confidence:     confidence,
		Reasoning:      reasoning,
		Metadata:       map[string]any{"compliance_issues": issues},
	}
}

func fragmentSensitivity(f fragment.Fragment) float64 {
	typeScores := map[fragment.Type]float64{
		fragment.TypePII:      0.8,
		fragment.TypeCode:     0.7,
		fragment.TypeSemantic: 0.3,
		fragment.TypeGeneral:  0.1,
	}
	sensitivity := typeScores[f.FragmentType]
	if f.ContainsSensitiveData {
		sensitivity += 0.4
	}
	if sensitivity > 1.0 {
		sensitivity = 1.0
	}
	return sensitivity
}

// CostOption is one provider's cost/performance estimate for a fragment.
type CostOption struct {
	Provider             providers.ProviderType
	CostEstimate         float64
	PerformanceScore     float64
	CostPerformanceRatio float64
	EstimatedTokens      int
}

// TokenEstimator reports how many tokens a provider would consume for text.
// A return of 0 means "no opinion" and the generic fallback applies.
type TokenEstimator func(pt providers.ProviderType, text string) int

// CostOptimizer produces cost-aware routing advice, sourcing every number
// from the pricing package rather than maintaining its own tables.
type CostOptimizer struct {
	estimateTokens TokenEstimator
}

// NewCostOptimizer builds a CostOptimizer. An optional TokenEstimator defers
// tokenization to each provider's own adapter (spec §4.4/§6); omitting one
// falls back to the generic chars/4 heuristic for every provider.
func NewCostOptimizer(estimator ...TokenEstimator) *CostOptimizer {
	c := &CostOptimizer{}
	if len(estimator) > 0 {
		c.estimateTokens = estimator[0]
	}
	return c
}

func estimateFragmentTokens(f fragment.Fragment) int {
	return len(f.Content)/4 + 10
}

func (c *CostOptimizer) tokensFor(pt providers.ProviderType, f fragment.Fragment) int {
	if c.estimateTokens != nil {
		if n := c.estimateTokens(pt, f.Content); n > 0 {
			return n
		}
	}
	return estimateFragmentTokens(f)
}

// AnalyzeCostOptions estimates cost/performance for every available provider
// per fragment, sorted ascending by cost-performance ratio (cheapest and
// best-performing first).
func (c *CostOptimizer) AnalyzeCostOptions(fragments []fragment.Fragment, available map[string][]providers.ProviderType) map[string][]CostOption {
	out := make(map[string][]CostOption, len(fragments))
	for _, f := range fragments {
		var options []CostOption
		for _, pt := range available[f.FragmentID] {
			tokens := c.tokensFor(pt, f)
			cost := pricing.Cost(pt, tokens)
			perf := pricing.Performance(pt)
			ratio := cost / maxFloat(perf, 0.1)
			options = append(options, CostOption{
				Provider:             pt,
				CostEstimate:         cost,
				PerformanceScore:     perf,
				CostPerformanceRatio: ratio,
				EstimatedTokens:      tokens,
			})
		}
		sort.SliceStable(options, func(i, j int) bool { return options[i].CostPerformanceRatio < options[j].CostPerformanceRatio })
		out[f.FragmentID] = options
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// SelectCostOptimalProvider picks the best-ratio option for one fragment,
// flagging when even the cheapest option exceeds maxCostPerFragment.
func (c *CostOptimizer) SelectCostOptimalProvider(fragmentID string, options []CostOption, maxCostPerFragment float64) Decision {
	if len(options) == 0 {
		return Decision{
			Component:      "cost_optimizer",
			DecisionType:   "provider_selection",
			Recommendation: "no_providers_available",
			Confidence:     0.0,
			Reasoning:      "no providers available for cost optimization",
		}
	}

	best := options[0]
	var alternatives []string
	for _, opt := range options[1:min(3, len(options))] {
		alternatives = append(alternatives, string(opt.Provider))
	}

	recommendation := fmt.Sprintf("use_provider_%s", best.Provider)
	reasoning := fmt.Sprintf("most cost-effective option: $%.4f with performance score %.2f", best.CostEstimate, best.PerformanceScore)
	confidence := 0.9
	if best.CostEstimate > maxCostPerFragment {
		recommendation = fmt.Sprintf("use_provider_%s_budget_exceeded", best.Provider)
		reasoning = fmt.Sprintf("all options exceed budget. cheapest option: $%.4f (budget: $%.4f)", best.CostEstimate, maxCostPerFragment)
		confidence = 0.6
	}

	return Decision{
		Component:      "cost_optimizer",
		DecisionType:   "provider_selection",
		Recommendation: recommendation,
		Confidence:     confidence,
		Reasoning:      reasoning,
		Metadata: map[string]any{
			"fragment_id":       fragmentID,
			"selected_provider": string(best.Provider),
			"cost_estimate":     best.CostEstimate,
			"alternatives":      alternatives,
		},
	}
}

// CheckBudgetCompliance sums each fragment's cheapest option and compares
// against maxTotalCost.
func (c *CostOptimizer) CheckBudgetCompliance(costAnalysis map[string][]CostOption, maxTotalCost float64) Decision {
	total := 0.0
	fragmentCosts := map[string]float64{}
	for fragmentID, options := range costAnalysis {
		if len(options) == 0 {
			continue
		}
		total += options[0].CostEstimate
		fragmentCosts[fragmentID] = options[0].CostEstimate
	}

	recommendation := "budget_compliant"
	reasoning := fmt.Sprintf("total estimated cost $%.4f within budget $%.4f", total, maxTotalCost)
	confidence := 0.9
	if total > maxTotalCost {
		recommendation = "budget_exceeded_optimization_needed"
		reasoning = fmt.Sprintf("total estimated cost $%.4f exceeds budget $%.4f", total, maxTotalCost)
		confidence = 0.8
	}

	return Decision{
		Component:      "cost_optimizer",
		DecisionType:   "budget_compliance",
		Recommendation: recommendation,
		Confidence:     confidence,
		Reasoning:      reasoning,
		Metadata:       map[string]any{"total_estimated_cost": total, "budget_limit": maxTotalCost, "fragment_costs": fragmentCosts},
	}
}

// Optimize runs the full cost-optimization pass: per-fragment selection
// followed by an overall budget compliance check.
func (c *CostOptimizer) Optimize(fragments []fragment.Fragment, available map[string][]providers.ProviderType, maxCostPerFragment, maxTotalCost float64) []Decision {
	analysis := c.AnalyzeCostOptions(fragments, available)

	var decisions []Decision
	for _, f := range fragments {
		decisions = append(decisions, c.SelectCostOptimalProvider(f.FragmentID, analysis[f.FragmentID], maxCostPerFragment))
	}
	decisions = append(decisions, c.CheckBudgetCompliance(analysis, maxTotalCost))
	return decisions
}

// FragmentResult is the minimal per-fragment processing outcome the
// performance monitor needs (spec §3's FragmentProcessingResult, narrowed).
type FragmentResult struct {
	FragmentID       string
	ProviderID       string
	ProcessingTimeMs float64
	FinishReason     string
}

// Thresholds gate when the performance monitor flags an issue.
type Thresholds struct {
	MaxLatencyMs        float64
	MinSuccessRate      float64
	MaxFragmentTimeMs   float64
}

// DefaultThresholds mirrors the original's static thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxLatencyMs: 30000, MinSuccessRate: 0.95, MaxFragmentTimeMs: 10000}
}

// PerformanceMonitor analyzes per-request fragment processing results for
// latency, reliability, and load-balance issues.
type PerformanceMonitor struct {
	thresholds Thresholds
}

// NewPerformanceMonitor builds a PerformanceMonitor with the default
// thresholds.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{thresholds: DefaultThresholds()}
}

func calculateSuccessRate(results []FragmentResult) float64 {
	if len(results) == 0 {
		return 0.0
	}
	successful := 0
	for _, r := range results {
		if r.FinishReason == "stop" {
			successful++
		}
	}
	return float64(successful) / float64(len(results))
}

func (m *PerformanceMonitor) analyzeOverallPerformance(results []FragmentResult, totalProcessingTimeMs float64) Decision {
	var issues, recommendations []string

	if totalProcessingTimeMs > m.thresholds.MaxLatencyMs {
		issues = append(issues, fmt.Sprintf("high latency: %.0fms", totalProcessingTimeMs))
		recommendations = append(recommendations, "consider_fragment_reduction")
	}

	successRate := calculateSuccessRate(results)
	if successRate < m.thresholds.MinSuccessRate {
		issues = append(issues, fmt.Sprintf("low success rate: %.2f%%", successRate*100))
		recommendations = append(recommendations, "review_provider_selection")
	}

	avgFragmentTime := totalProcessingTimeMs / float64(max(len(results), 1))
	if avgFragmentTime > m.thresholds.MaxFragmentTimeMs {
		issues = append(issues, fmt.Sprintf("slow fragment processing: %.0fms avg", avgFragmentTime))
		recommendations = append(recommendations, "optimize_fragmentation_strategy")
	}

	recommendation := "performance_acceptable"
	reasoning := fmt.Sprintf("good performance: %.0fms total, %.2f%% success rate", totalProcessingTimeMs, successRate*100)
	confidence := 0.9
	if len(issues) > 0 {
		recommendation = strings.Join(recommendations, ";")
		reasoning = "performance issues detected: " + strings.Join(issues, ", ")
		confidence = 0.85
	}

	return Decision{
		Component:      "performance_monitor",
		DecisionType:   "overall_performance",
		Recommendation: recommendation,
		Confidence:     confidence,
		Reasoning:      reasoning,
		Metadata: map[string]any{
			"total_time_ms":       totalProcessingTimeMs,
			"success_rate":        successRate,
			"fragment_count":      len(results),
			"avg_fragment_time_ms": avgFragmentTime,
		},
	}
}

type providerStats struct {
	times      []float64
	successes  int
	total      int
}

func (m *PerformanceMonitor) analyzeProviderPerformance(results []FragmentResult) []Decision {
	stats := map[string]*providerStats{}
	var order []string
	for _, r := range results {
		s, ok := stats[r.ProviderID]
		if !ok {
			s = &providerStats{}
			stats[r.ProviderID] = s
			order = append(order, r.ProviderID)
		}
		s.times = append(s.times, r.ProcessingTimeMs)
		s.total++
		if r.FinishReason == "stop" {
			s.successes++
		}
	}

	var decisions []Decision
	for _, providerID := range order {
		s := stats[providerID]
		var sum float64
		for _, t := range s.times {
			sum += t
		}
		avgTime := sum / float64(len(s.times))
		successRate := float64(s.successes) / float64(s.total)

		var recommendation, reasoning string
		confidence := 0.9
		switch {
		case avgTime > 15000:
			recommendation = fmt.Sprintf("provider_%s_slow", providerID)
			reasoning = fmt.Sprintf("provider %s average time: %.0fms", providerID, avgTime)
			confidence = 0.8
		case successRate < 0.9:
			recommendation = fmt.Sprintf("provider_%s_unreliable", providerID)
			reasoning = fmt.Sprintf("provider %s success rate: %.2f%%", providerID, successRate*100)
			confidence = 0.85
		default:
			recommendation = fmt.Sprintf("provider_%s_performing_well", providerID)
			reasoning = fmt.Sprintf("provider %s: %.0fms avg, %.2f%% success", providerID, avgTime, successRate*100)
		}

		decisions = append(decisions, Decision{
			Component:      "performance_monitor",
			DecisionType:   "provider_performance",
			Recommendation: recommendation,
			Confidence:     confidence,
			Reasoning:      reasoning,
			Metadata: map[string]any{
				"provider_id":   providerID,
				"avg_time_ms":   avgTime,
				"success_rate":  successRate,
				"request_count": s.total,
			},
		})
	}
	return decisions
}

func (m *PerformanceMonitor) identifyBottlenecks(results []FragmentResult) Decision {
	var bottlenecks []string

	if len(results) > 0 {
		var sum, maxTime float64
		var slowest FragmentResult
		for _, r := range results {
			sum += r.ProcessingTimeMs
			if r.ProcessingTimeMs > maxTime {
				maxTime = r.ProcessingTimeMs
				slowest = r
			}
		}
		avg := sum / float64(len(results))
		if maxTime > avg*2 {
			bottlenecks = append(bottlenecks, fmt.Sprintf("slow fragment: %s (%.0fms)", slowest.FragmentID, slowest.ProcessingTimeMs))
		}
	}

	counts := map[string]int{}
	for _, r := range results {
		counts[r.ProviderID]++
	}
	if len(counts) > 1 {
		minLoad, maxLoad := -1, 0
		for _, c := range counts {
			if minLoad == -1 || c < minLoad {
				minLoad = c
			}
			if c > maxLoad {
				maxLoad = c
			}
		}
		if maxLoad > minLoad*2 {
			bottlenecks = append(bottlenecks, "uneven provider load distribution")
		}
	}

	recommendation := "no_significant_bottlenecks"
	reasoning := "no significant performance bottlenecks detected"
	confidence := 0.7
	if len(bottlenecks) > 0 {
		recommendation = "address_identified_bottlenecks"
		reasoning = "bottlenecks identified: " + strings.Join(bottlenecks, ", ")
		confidence = 0.8
	}

	return Decision{
		Component:      "performance_monitor",
		DecisionType:   "bottleneck_analysis",
		Recommendation: recommendation,
		Confidence:     confidence,
		Reasoning:      reasoning,
		Metadata:       map[string]any{"bottlenecks": bottlenecks},
	}
}

// Monitor runs the full performance-monitoring pass over one request's
// fragment results.
func (m *PerformanceMonitor) Monitor(results []FragmentResult, totalProcessingTimeMs float64) []Decision {
	decisions := []Decision{m.analyzeOverallPerformance(results, totalProcessingTimeMs)}
	decisions = append(decisions, m.analyzeProviderPerformance(results)...)
	decisions = append(decisions, m.identifyBottlenecks(results))
	return decisions
}
