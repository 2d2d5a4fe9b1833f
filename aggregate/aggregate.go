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

// Package aggregate implements the response aggregator (C7): it reassembles
// per-fragment provider responses into one coherent answer, picking one of
// six strategies based on the fragment mix and privacy level, and always
// degrades to a simple concatenation rather than failing the request.
package aggregate

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/mak-mm/privaguard/fragment"
	"github.com/mak-mm/privaguard/intelligence"
	"github.com/mak-mm/privaguard/pricing"
	"github.com/mak-mm/privaguard/providers"
)

// Strategy is the closed set of aggregation strategies (spec §4.6).
type Strategy string

const (
	StrategyWeightedEnsemble Strategy = "weighted_ensemble"
	StrategySequential       Strategy = "sequential"
	StrategyContextual       Strategy = "contextual"
	StrategyPIIReassembly    Strategy = "pii_reassembly"
	StrategyCodeReassembly   Strategy = "code_reassembly"
	StrategySemanticMerge    Strategy = "semantic_merge"
)

// FragmentResult is one provider's response to one dispatched fragment.
type FragmentResult struct {
	FragmentID       string
	ProviderID       string
	Content          string
	ProcessingTimeMs float64
	PrivacyScore     float64
}

type pair struct {
	result FragmentResult
	frag   fragment.Fragment
}

// Aggregator reassembles fragment results into a single response.
type Aggregator struct{}

// New builds an Aggregator.
func New() *Aggregator { return &Aggregator{} }

// Aggregate sorts results into fragment order, selects a strategy, applies
// it, and post-processes the result. redaction, if non-nil, is used by
// pii_reassembly to restore original values. It never returns an error —
// any missing or malformed input degrades to a fallback concatenation.
func (a *Aggregator) Aggregate(results []FragmentResult, fragments []fragment.Fragment, privacyLevel intelligence.PrivacyLevel, redaction *fragment.RedactionMap) string {
	sorted := sortByOrder(results, fragments)
	if len(sorted) == 0 {
		return a.fallback(results)
	}

	strategy := selectStrategy(fragments, privacyLevel)

	var out string
	switch strategy {
	case StrategyWeightedEnsemble:
		out = a.weightedEnsemble(sorted)
	case StrategyPIIReassembly:
		out = a.piiReassembly(sorted, redaction)
	case StrategyCodeReassembly:
		out = a.codeReassembly(sorted)
	case StrategySemanticMerge:
		out = a.semanticMerge(sorted)
	case StrategyContextual:
		out = a.contextual(sorted)
	default:
		out = a.sequential(sorted)
	}

	return postProcess(out)
}

func sortByOrder(results []FragmentResult, fragments []fragment.Fragment) []pair {
	byID := make(map[string]fragment.Fragment, len(fragments))
	for _, f := range fragments {
		byID[f.FragmentID] = f
	}

	var pairs []pair
	for _, r := range results {
		if f, ok := byID[r.FragmentID]; ok {
			pairs = append(pairs, pair{result: r, frag: f})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].frag.Ordinal < pairs[j].frag.Ordinal })
	return pairs
}

// selectStrategy picks the aggregation strategy from the fragment mix
// (spec §4.6's ordered rule list).
func selectStrategy(fragments []fragment.Fragment, privacyLevel intelligence.PrivacyLevel) Strategy {
	if privacyLevel == intelligence.PrivacyLevelRestricted || privacyLevel == intelligence.PrivacyLevelTopSecret {
		return StrategyWeightedEnsemble
	}

	hints := map[string]bool{}
	for _, f := range fragments {
		if f.ProviderHint != "" {
			hints[f.ProviderHint] = true
		}
	}
	if len(hints) > 1 {
		return StrategyWeightedEnsemble
	}

	types := map[fragment.Type]bool{}
	for _, f := range fragments {
		types[f.FragmentType] = true
	}
	switch {
	case types[fragment.TypePII]:
		return StrategyPIIReassembly
	case types[fragment.TypeCode]:
		return StrategyCodeReassembly
	case types[fragment.TypeSemantic]:
		return StrategySemanticMerge
	}

	return StrategyWeightedEnsemble
}

type weightedResponse struct {
	text         string
	weight       float64
	fragmentType fragment.Type
}

func (a *Aggregator) weightedEnsemble(pairs []pair) string {
	var weighted []weightedResponse
	total := 0.0

	for _, p := range pairs {
		text := strings.TrimSpace(p.result.Content)
		if text == "" {
			continue
		}

		confidence := calculateConfidenceScore(p.result, p.frag)
		providerWeight := pricing.Privacy(providers.ProviderType(strings.ToLower(p.result.ProviderID)))
		weight := confidence * providerWeight

		weighted = append(weighted, weightedResponse{text: text, weight: weight, fragmentType: p.frag.FragmentType})
		total += weight
	}

	if len(weighted) == 0 {
		return "No valid responses to aggregate."
	}

	sort.SliceStable(weighted, func(i, j int) bool { return weighted[i].weight > weighted[j].weight })

	switch len(weighted) {
	case 1:
		return weighted[0].text
	case 2:
		return mergeTwoResponses(weighted[0], weighted[1])
	default:
		return mergeMultipleResponses(weighted, total)
	}
}

func calculateConfidenceScore(result FragmentResult, f fragment.Fragment) float64 {
	text := strings.TrimSpace(result.Content)
	score := 0.0

	score += scoreResponseLength(text) * 0.2
	score += scoreProcessingTime(result.ProcessingTimeMs) * 0.1

	if f.ContainsSensitiveData {
		score += result.PrivacyScore * 0.3
	} else {
		score += 0.15
	}

	score += scoreResponseCoherence(text) * 0.3
	score += scoreFragmentAppropriateness(text, f) * 0.1

	return clamp01(score)
}

func scoreResponseLength(text string) float64 {
	n := len(text)
	switch {
	case n >= 50 && n <= 500:
		return 1.0
	case n >= 20 && n <= 1000:
		return 0.7
	case n < 20:
		return 0.3
	default:
		return 0.5
	}
}

func scoreProcessingTime(ms float64) float64 {
	switch {
	case ms < 1000:
		return 1.0
	case ms < 3000:
		return 0.8
	case ms < 5000:
		return 0.6
	default:
		return 0.4
	}
}

var errorPatterns = []string{
	"sorry, but i can't",
	"i don't understand",
	"i'm not sure",
	"could you provide",
	"please clarify",
}

func scoreResponseCoherence(text string) float64 {
	lower := strings.ToLower(text)
	for _, p := range errorPatterns {
		if strings.Contains(lower, p) {
			return 0.2
		}
	}

	sentences := 0
	for _, s := range strings.Split(text, ".") {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}

	var coherence float64
	switch {
	case sentences >= 2:
		coherence = 0.8
	case sentences == 1:
		coherence = 0.6
	default:
		coherence = 0.4
	}

	if text != "" {
		r := []rune(text)
		if unicode.IsUpper(r[0]) && (strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?")) {
			coherence += 0.2
		}
	}

	if coherence > 1.0 {
		coherence = 1.0
	}
	return coherence
}

func scoreFragmentAppropriateness(text string, f fragment.Fragment) float64 {
	switch f.FragmentType {
	case fragment.TypeCode:
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(text, "```") || strings.Contains(text, "`"):
			return 1.0
		case containsAny(lower, "function", "def", "class", "var", "let", "const"):
			return 0.7
		default:
			return 0.3
		}
	case fragment.TypePII:
		if strings.Contains(text, "<PERSON>") || strings.Contains(text, "<EMAIL>") {
			return 1.0
		}
		return 0.8
	default:
		return 0.8
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func mergeTwoResponses(primary, secondary weightedResponse) string {
	ratio := primary.weight / (secondary.weight + 0.001)
	switch {
	case ratio > 2.0:
		return primary.text
	case ratio > 1.5:
		return primary.text + "\n\nAdditionally, " + lowerFirst(secondary.text)
	default:
		return primary.text + "\n\n" + secondary.text
	}
}

func mergeMultipleResponses(weighted []weightedResponse, total float64) string {
	top := weighted
	if len(top) > 3 {
		top = top[:3]
	}

	result := top[0].text
	for i, r := range top[1:] {
		contribution := r.weight / total
		if contribution <= 0.15 {
			continue
		}
		if i == 0 {
			result += "\n\nAdditionally, " + lowerFirst(r.text)
		} else {
			result += "\n\nFurthermore, " + lowerFirst(r.text)
		}
	}
	return result
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func (a *Aggregator) sequential(pairs []pair) string {
	var parts []string
	for _, p := range pairs {
		if text := strings.TrimSpace(p.result.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

var contextualLeaders = []string{"however", "but", "on the other hand", "additionally", "furthermore", "also"}

// contextual bridges consecutive responses with a smoothing transition when
// the next response doesn't already open with one (spec §4.6's contextual
// strategy, simplified: fragments in this repo carry no explicit
// context-reference graph, so bridging is applied between every consecutive
// pair rather than only referenced ones).
func (a *Aggregator) contextual(pairs []pair) string {
	var parts []string
	for i, p := range pairs {
		text := strings.TrimSpace(p.result.Content)
		if text == "" {
			continue
		}
		if i > 0 {
			lower := strings.ToLower(text)
			leads := false
			for _, l := range contextualLeaders {
				if strings.HasPrefix(lower, l) {
					leads = true
					break
				}
			}
			if !leads {
				text = "Building on the previous point, " + lowerFirst(text)
			}
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

// piiReassembly restores original values into sensitive fragment responses
// via redaction's placeholder map, longest-placeholder-first so a shorter
// placeholder never clips a longer one mid-replacement.
func (a *Aggregator) piiReassembly(pairs []pair, redaction *fragment.RedactionMap) string {
	var parts []string
	for _, p := range pairs {
		text := strings.TrimSpace(p.result.Content)
		if text == "" {
			continue
		}
		if redaction != nil {
			for _, entry := range redaction.Invert() {
				text = strings.ReplaceAll(text, entry.Placeholder, entry.Original)
			}
		}
		parts = append(parts, text)
	}

	switch len(parts) {
	case 0:
		return "No valid responses generated."
	case 1:
		return parts[0]
	default:
		return mergeCoherentResponses(parts)
	}
}

func mergeCoherentResponses(responses []string) string {
	merged := responses[0]
	for _, r := range responses[1:] {
		if hasSignificantOverlap(merged, r) {
			continue
		}
		if !strings.HasSuffix(merged, ".") && !strings.HasSuffix(merged, "!") && !strings.HasSuffix(merged, "?") {
			merged += "."
		}
		merged += " " + r
	}
	return strings.TrimSpace(merged)
}

func hasSignificantOverlap(a, b string) bool {
	w1 := wordSet(a)
	w2 := wordSet(b)
	if len(w1) == 0 || len(w2) == 0 {
		return false
	}

	intersection := 0
	union := map[string]bool{}
	for w := range w1 {
		union[w] = true
		if w2[w] {
			intersection++
		}
	}
	for w := range w2 {
		union[w] = true
	}
	if len(union) == 0 {
		return false
	}
	return float64(intersection)/float64(len(union)) > 0.7
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

var (
	fencedCode = regexp.MustCompile("(?s)```[a-zA-Z]*\n(.*?)\n```")
	inlineCode = regexp.MustCompile("`([^`]+)`")
)

func (a *Aggregator) codeReassembly(pairs []pair) string {
	var codeBlocks, textBlocks []string

	for _, p := range pairs {
		text := strings.TrimSpace(p.result.Content)
		if text == "" {
			continue
		}
		if p.frag.FragmentType == fragment.TypeCode {
			codeBlocks = append(codeBlocks, extractCodeSections(text)...)
		} else {
			textBlocks = append(textBlocks, text)
		}
	}

	var b strings.Builder
	if len(textBlocks) > 0 {
		b.WriteString(strings.Join(textBlocks, "\n\n"))
		b.WriteString("\n\n")
	}
	if len(codeBlocks) > 0 {
		b.WriteString(strings.Join(codeBlocks, "\n\n"))
	}
	return strings.TrimSpace(b.String())
}

func extractCodeSections(text string) []string {
	blocks := fencedCode.FindAllStringSubmatch(text, -1)
	if len(blocks) > 0 {
		out := make([]string, len(blocks))
		for i, m := range blocks {
			out[i] = "```\n" + m[1] + "\n```"
		}
		return out
	}

	inline := inlineCode.FindAllStringSubmatch(text, -1)
	if len(inline) > 0 {
		out := make([]string, len(inline))
		for i, m := range inline {
			out[i] = "`" + m[1] + "`"
		}
		return out
	}

	return []string{text}
}

func (a *Aggregator) semanticMerge(pairs []pair) string {
	groups := groupConsecutiveByType(pairs)

	var sections []string
	for _, group := range groups {
		if len(group) == 1 {
			sections = append(sections, strings.TrimSpace(group[0].result.Content))
			continue
		}
		var responses []string
		for _, p := range group {
			responses = append(responses, strings.TrimSpace(p.result.Content))
		}
		sections = append(sections, mergeRelatedResponses(responses))
	}
	return strings.Join(sections, "\n\n")
}

func groupConsecutiveByType(pairs []pair) [][]pair {
	var groups [][]pair
	var current []pair
	var currentType fragment.Type
	first := true

	for _, p := range pairs {
		if first || p.frag.FragmentType != currentType {
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = []pair{p}
			currentType = p.frag.FragmentType
			first = false
		} else {
			current = append(current, p)
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func mergeRelatedResponses(responses []string) string {
	if len(responses) == 1 {
		return responses[0]
	}
	merged := responses[0]
	for i, r := range responses[1:] {
		if i == len(responses)-2 {
			merged += "\n\nFinally, " + r
		} else {
			merged += "\n\nAdditionally, " + r
		}
	}
	return merged
}

func (a *Aggregator) fallback(results []FragmentResult) string {
	var parts []string
	for _, r := range results {
		if text := strings.TrimSpace(r.Content); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "Unable to process the request."
	}
	return strings.Join(parts, "\n\n")
}

var (
	multiNewline     = regexp.MustCompile(`\n{3,}`)
	redundantPrefix  = regexp.MustCompile(`(?i)\b(Additionally|Furthermore|Also),\s+(?:(?:Additionally|Furthermore|Also),\s+)+`)
)

func postProcess(response string) string {
	cleaned := multiNewline.ReplaceAllString(response, "\n\n")
	cleaned = redundantPrefix.ReplaceAllString(cleaned, "$1, ")

	sentences := strings.Split(cleaned, ". ")
	for i, s := range sentences {
		if s == "" {
			continue
		}
		r := []rune(s)
		if unicode.IsLower(r[0]) {
			r[0] = unicode.ToUpper(r[0])
			sentences[i] = string(r)
		}
	}
	cleaned = strings.Join(sentences, ". ")

	return strings.TrimSpace(cleaned)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
