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

package detect

import (
	"strconv"
	"strings"
	"time"
)

// casualContextKeywords whitelist everyday location/person mentions so
// they don't inflate sensitivity (spec §4.1, §4.2).
var casualContextKeywords = []string{
	"weather", "news", "restaurant", "hotel", "flight", "train",
	"tourist", "visit", "travel", "directions", "map", "what is",
}

// sensitiveKeywords each contribute 0.25 to keyword_factor, capped at 1.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api key", "private key",
	"ssn", "social security", "credit card", "bank account",
	"medical", "diagnosis", "prescription", "health",
	"confidential", "proprietary", "internal",
	"revenue", "profit", "salary", "compensation",
	"strategy", "roadmap", "acquisition", "merger",
}

// MaxFragmentSize is the default query-length threshold, in bytes, that triggers
// length_based fragmentation (strategy table step 8); callers may override
// via EngineOption.
const MaxFragmentSize = 500

// Engine is the detection report assembler (C1): it runs the PII, code and
// entity analyzers in parallel (worker pool of 3, one per analyzer) and
// computes the unified detection report.
type Engine struct {
	pii    PIIAnalyzer
	code   CodeAnalyzer
	entity EntityAnalyzer

	maxFragmentSize int
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithMaxFragmentSize overrides the default max-fragment-size threshold
// used by strategy-selection step 8.
func WithMaxFragmentSize(n int) EngineOption {
	return func(e *Engine) { e.maxFragmentSize = n }
}

// NewEngine builds an Engine over the given analyzers, defaulting to this
// module's regex/heuristic implementations when nil is passed for any of
// them.
func NewEngine(pii PIIAnalyzer, code CodeAnalyzer, entity EntityAnalyzer, opts ...EngineOption) *Engine {
	if pii == nil {
		pii = NewRegexPIIAnalyzer()
	}
	if code == nil {
		code = NewRegexCodeAnalyzer()
	}
	if entity == nil {
		entity = NewHeuristicEntityAnalyzer()
	}
	e := &Engine{pii: pii, code: code, entity: entity, maxFragmentSize: MaxFragmentSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// analysisResult carries one analyzer's output back from its worker.
type analysisResult struct {
	piiSpans []PIISpan
	code     CodeDetection
	entities []Entity
}

// Analyze runs the three analyzers concurrently (one goroutine each, a
// worker pool of size 3 matching the reference ThreadPoolExecutor) and
// assembles the detection report.
func (e *Engine) Analyze(query string) Report {
	start := time.Now()

	piiCh := make(chan []PIISpan, 1)
	codeCh := make(chan CodeDetection, 1)
	entityCh := make(chan []Entity, 1)

	go func() { piiCh <- e.pii.Detect(query) }()
	go func() { codeCh <- e.code.Detect(query) }()
	go func() { entityCh <- e.entity.Recognize(query) }()

	result := analysisResult{
		piiSpans: <-piiCh,
		code:     <-codeCh,
		entities: <-entityCh,
	}

	piiDensity := computePIIDensity(query, result.piiSpans)
	factors := e.computeSensitivityFactors(query, result.piiSpans, result.code, result.entities)
	sensitivityScore := factors.Overall()
	strategy, requiresOrchestrator := e.selectStrategy(query, sensitivityScore, factors, result.code, result.piiSpans, result.entities)
	hasPII := e.hasSignificantPII(query, result.piiSpans, result.entities)

	return Report{
		HasPII:               hasPII,
		PIISpans:             result.piiSpans,
		PIIDensity:           piiDensity,
		Code:                 result.code,
		Entities:             result.entities,
		Factors:              factors,
		SensitivityScore:     sensitivityScore,
		RecommendedStrategy:  strategy,
		RequiresOrchestrator: requiresOrchestrator,
		AnalyzerTimeMs:       float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

// computePIIDensity dedupes overlapping spans by (start,end,kind) and sums
// their covered character ranges, clamped to [0,1] of the query length.
func computePIIDensity(query string, spans []PIISpan) float64 {
	if len(query) == 0 {
		return 0
	}
	seen := map[string]bool{}
	covered := 0
	for _, s := range spans {
		key := string(s.Type) + ":" + strconv.Itoa(s.Start) + ":" + strconv.Itoa(s.End)
		if seen[key] {
			continue
		}
		seen[key] = true
		covered += s.End - s.Start
	}
	density := float64(covered) / float64(len(query))
	if density > 1 {
		density = 1
	}
	return density
}

func isCasualContext(queryLower string) bool {
	for _, kw := range casualContextKeywords {
		if strings.Contains(queryLower, kw) {
			return true
		}
	}
	return false
}

func (e *Engine) computeSensitivityFactors(query string, pii []PIISpan, code CodeDetection, entities []Entity) SensitivityFactors {
	queryLower := strings.ToLower(query)
	casual := isCasualContext(queryLower)

	var piiFactor float64
	if len(pii) > 0 {
		highRiskCount := 0
		onlyCasualTypes := true
		for _, p := range pii {
			if highRiskPII[p.Type] {
				highRiskCount++
			}
			if p.Type != PIITypeLocation && p.Type != PIITypePerson {
				onlyCasualTypes = false
			}
		}
		if casual && onlyCasualTypes {
			piiFactor = 0.1
		} else {
			piiFactor = min1(0.3 + float64(len(pii))*0.1 + float64(highRiskCount)*0.2)
		}
	}

	var codeFactor float64
	if code.HasCode {
		codeFactor = code.Confidence
		if IsHighRiskLanguage(code.Language) {
			codeFactor = min1(codeFactor + 0.2)
		}
	}

	entityFactor := Sensitivity(entities)
	if casual {
		entityFactor *= 0.3
	}

	keywordFactor := computeKeywordFactor(queryLower)

	return SensitivityFactors{
		PIIFactor:     piiFactor,
		CodeFactor:    codeFactor,
		EntityFactor:  entityFactor,
		KeywordFactor: keywordFactor,
	}
}

func computeKeywordFactor(queryLower string) float64 {
	hits := 0
	for _, kw := range sensitiveKeywords {
		if strings.Contains(queryLower, kw) {
			hits++
		}
	}
	return min1(float64(hits) * 0.25)
}

// hasSignificantPII implements spec §4.1's has_pii rule: high-risk types
// always count; location/person only count outside casual context and
// above a 0.8 confidence bar (checked against named entities labeled
// PERSON/GPE/LOC, since those are what a real NER model would surface).
func (e *Engine) hasSignificantPII(query string, pii []PIISpan, entities []Entity) bool {
	if len(pii) == 0 && len(entities) == 0 {
		return false
	}
	casual := isCasualContext(strings.ToLower(query))

	for _, p := range pii {
		if highRiskPII[p.Type] {
			return true
		}
	}
	if !casual {
		for _, ent := range entities {
			if (ent.Label == "PERSON" || ent.Label == "GPE" || ent.Label == "LOC") && ent.Score > 0.8 {
				return true
			}
		}
	}
	return false
}

// selectStrategy implements the 9-step strategy-selection table (spec
// §4.2), first match wins.
func (e *Engine) selectStrategy(query string, sensitivity float64, factors SensitivityFactors, code CodeDetection, pii []PIISpan, entities []Entity) (Strategy, bool) {
	significantPII := e.hasSignificantPII(query, pii, entities)

	if sensitivity >= 0.7 {
		return StrategyMaximumIsolation, true
	}
	if factors.KeywordFactor >= 0.5 {
		return StrategySemanticSplit, true
	}
	if code.HasCode && significantPII {
		return StrategyMaximumIsolation, true
	}
	if len(entities) > 10 {
		return StrategySemanticSplit, true
	}
	if code.HasCode {
		return StrategyCodeIsolation, significantPII
	}
	if significantPII {
		return StrategyPIIIsolation, false
	}
	if sensitivity > 0.4 {
		return StrategySemanticSplit, false
	}
	if len(query) > e.maxFragmentSize {
		return StrategyLengthBased, false
	}
	return StrategyNone, false
}
