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

package fragment

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mak-mm/privaguard/detect"
)

// Fragmenter splits a query into fragments per the strategy the detection
// report recommends (spec §4.2).
type Fragmenter struct {
	cfg Config
	eng *detect.Engine
}

// New builds a Fragmenter. eng is reused by maximum_isolation to re-analyze
// prose fragments for residual PII.
func New(eng *detect.Engine, cfg Config) *Fragmenter {
	return &Fragmenter{cfg: cfg, eng: eng}
}

// Fragment splits query according to report.RecommendedStrategy.
func (f *Fragmenter) Fragment(query string, report detect.Report) Result {
	var fragments []Fragment
	var redaction *RedactionMap

	switch report.RecommendedStrategy {
	case detect.StrategyNone:
		fragments = f.none(query)
	case detect.StrategyPIIIsolation:
		fragments, redaction = f.piiIsolation(query, report.PIISpans)
	case detect.StrategyCodeIsolation:
		fragments = f.codeIsolation(query, report.Code)
	case detect.StrategySemanticSplit:
		fragments = f.semanticSplit(query, report.Entities)
	case detect.StrategyMaximumIsolation:
		fragments, redaction = f.maximumIsolation(query, report)
	case detect.StrategyLengthBased:
		fragments = f.splitByLength(query, f.cfg.MaxFragmentSize, false, TypeGeneral)
	default:
		fragments = f.none(query)
	}

	renumber(fragments)
	return Result{Fragments: fragments, RedactionMap: redaction, Strategy: report.RecommendedStrategy}
}

func (f *Fragmenter) none(query string) []Fragment {
	return []Fragment{{Content: query, FragmentType: TypeGeneral, ContainsSensitiveData: false}}
}

// piiIsolation scans spans right-to-left, replacing each with a typed
// placeholder to build a redacted carrier, then emits one PII fragment per
// span carrying prose instructions — never the raw placeholder — to
// preserve Open Question Decision #1's mutual exclusivity.
func (f *Fragmenter) piiIsolation(query string, spans []detect.PIISpan) ([]Fragment, *RedactionMap) {
	if len(spans) == 0 {
		return f.none(query), nil
	}

	sorted := append([]detect.PIISpan(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	redacted := query
	redaction := &RedactionMap{}
	for _, span := range sorted {
		placeholder := fmt.Sprintf("<%s>", strings.ToUpper(string(span.Type)))
		redacted = redacted[:span.Start] + placeholder + redacted[span.End:]
		redaction.Add(placeholder, span.Value, span.Type)
	}

	fragments := []Fragment{{
		Content:               redacted,
		FragmentType:          TypeGeneral,
		ContainsSensitiveData: false,
		Metadata:              map[string]any{"is_redacted": true},
	}}

	docOrder := append([]detect.PIISpan(nil), spans...)
	sort.Slice(docOrder, func(i, j int) bool { return docOrder[i].Start < docOrder[j].Start })
	for _, span := range docOrder {
		placeholder := fmt.Sprintf("<%s>", strings.ToUpper(string(span.Type)))
		fragments = append(fragments, Fragment{
			Content:               fmt.Sprintf("Replace %s with: %s", placeholder, span.Value),
			FragmentType:          TypePII,
			ContainsSensitiveData: true,
			ProviderHint:          f.cfg.PrivacyPreferredProvider,
			Metadata:              map[string]any{"placeholder": placeholder, "pii_type": string(span.Type)},
		})
	}
	return fragments, redaction
}

// codeIsolation walks code spans in ascending order, alternating
// non-empty prose fragments with sensitive, privacy-hinted code fragments.
func (f *Fragmenter) codeIsolation(query string, code detect.CodeDetection) []Fragment {
	if len(code.Blocks) == 0 {
		return f.none(query)
	}

	blocks := append([]detect.CodeBlock(nil), code.Blocks...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start < blocks[j].Start })

	var fragments []Fragment
	lastEnd := 0
	for _, b := range blocks {
		if b.Start > lastEnd {
			prose := strings.TrimSpace(query[lastEnd:b.Start])
			if prose != "" {
				fragments = append(fragments, Fragment{Content: prose, FragmentType: TypeGeneral, ContainsSensitiveData: false})
			}
		}
		fragments = append(fragments, Fragment{
			Content:               query[b.Start:b.End],
			FragmentType:          TypeCode,
			ContainsSensitiveData: true,
			ProviderHint:          f.cfg.PrivacyPreferredProvider,
			Metadata:              map[string]any{"language": b.Language, "confidence": b.Confidence},
		})
		lastEnd = b.End
	}
	if lastEnd < len(query) {
		prose := strings.TrimSpace(query[lastEnd:])
		if prose != "" {
			fragments = append(fragments, Fragment{Content: prose, FragmentType: TypeGeneral, ContainsSensitiveData: false})
		}
	}
	return fragments
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+`)

// semanticSplit splits on sentence boundaries, marking a sentence sensitive
// if it contains any recognized entity text (case-insensitive substring
// match).
func (f *Fragmenter) semanticSplit(query string, entities []detect.Entity) []Fragment {
	sentences := sentenceBoundary.Split(query, -1)
	var fragments []Fragment
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sensitive := false
		lower := strings.ToLower(s)
		for _, e := range entities {
			if strings.Contains(lower, strings.ToLower(e.Text)) {
				sensitive = true
				break
			}
		}
		hint := ""
		if sensitive {
			hint = f.cfg.PrivacyPreferredProvider
		}
		fragments = append(fragments, Fragment{Content: s, FragmentType: TypeSemantic, ContainsSensitiveData: sensitive, ProviderHint: hint})
	}
	return fragments
}

// maximumIsolation layers code isolation, then re-analyzes each prose
// fragment for residual PII and isolates it in place, finally splitting any
// over-long fragment by word boundary while preserving its type/sensitivity.
func (f *Fragmenter) maximumIsolation(query string, report detect.Report) ([]Fragment, *RedactionMap) {
	var base []Fragment
	var redaction *RedactionMap

	switch {
	case report.Code.HasCode:
		codeFrags := f.codeIsolation(query, report.Code)
		for _, frag := range codeFrags {
			if frag.FragmentType != TypeGeneral {
				base = append(base, frag)
				continue
			}
			subReport := f.eng.Analyze(frag.Content)
			if subReport.HasPII {
				piiFrags, piiRedaction := f.piiIsolation(frag.Content, subReport.PIISpans)
				base = append(base, piiFrags...)
				redaction = mergeRedaction(redaction, piiRedaction)
			} else {
				base = append(base, frag)
			}
		}
	case report.HasPII:
		var piiRedaction *RedactionMap
		base, piiRedaction = f.piiIsolation(query, report.PIISpans)
		redaction = piiRedaction
	default:
		base = f.semanticSplit(query, report.Entities)
	}

	var final []Fragment
	for _, frag := range base {
		if len(frag.Content) > f.cfg.MaxFragmentSize {
			final = append(final, f.splitByLength(frag.Content, f.cfg.MaxFragmentSize, frag.ContainsSensitiveData, frag.FragmentType)...)
		} else {
			final = append(final, frag)
		}
	}
	return final, redaction
}

func mergeRedaction(a, b *RedactionMap) *RedactionMap {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	for _, e := range b.Entries() {
		a.Add(e.Placeholder, e.Original, e.Kind)
	}
	return a
}

// splitByLength chunks text on word boundaries so no chunk exceeds
// maxLength, preserving the parent's type and sensitivity flag.
func (f *Fragmenter) splitByLength(text string, maxLength int, sensitive bool, typ Type) []Fragment {
	if len(text) <= maxLength {
		return []Fragment{{Content: text, FragmentType: typ, ContainsSensitiveData: sensitive}}
	}

	words := strings.Fields(text)
	var fragments []Fragment
	var chunk []string
	chunkLen := 0

	flush := func() {
		if len(chunk) == 0 {
			return
		}
		fragments = append(fragments, Fragment{Content: strings.Join(chunk, " "), FragmentType: typ, ContainsSensitiveData: sensitive})
		chunk = nil
		chunkLen = 0
	}

	for _, w := range words {
		wordLen := len(w) + 1
		if chunkLen+wordLen > maxLength && len(chunk) > 0 {
			flush()
		}
		chunk = append(chunk, w)
		chunkLen += wordLen
	}
	flush()
	return fragments
}

func renumber(fragments []Fragment) {
	for i := range fragments {
		fragments[i].Ordinal = i
		fragments[i].FragmentID = fmt.Sprintf("frag-%d", i)
	}
}
