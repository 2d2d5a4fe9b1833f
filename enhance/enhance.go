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

// Package enhance implements the fragment enhancer (C3): it expands
// fragment content with instructions/context tailored to the provider
// that will execute it, via two operations against a designated
// orchestration model, and degrades gracefully to pass-through on failure.
package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mak-mm/privaguard/fragment"
	"github.com/mak-mm/privaguard/providers"
)

// providerCapabilityBlurbs is a static per-provider capability summary fed
// into enhancement prompts so the orchestration model can tailor content to
// the executing provider's strengths (SPEC_FULL.md supplemented feature,
// grounded on original_source/src/enhancement/enhancer.py's
// _get_provider_capabilities).
var providerCapabilityBlurbs = map[providers.ProviderType]string{
	providers.ProviderTypeAnthropic:   "excellent at nuanced analysis, reasoning, and handling sensitive content carefully",
	providers.ProviderTypeOpenAI:      "strong at creative tasks, code generation, and broad general knowledge",
	providers.ProviderTypeGemini:      "fast and efficient, good for straightforward factual queries",
	providers.ProviderTypeBedrock:     "strong at careful, compliance-sensitive analysis",
	providers.ProviderTypeAzureOpenAI: "strong at enterprise-grade general-purpose completions",
}

func capabilityBlurb(pt providers.ProviderType) string {
	if b, ok := providerCapabilityBlurbs[pt]; ok {
		return b
	}
	return "a general-purpose language model"
}

// Message is one turn in the orchestration model's conversation history.
type Message struct {
	Role    string
	Content string
}

// QueryAnalysis is the JSON structure the first enhancement prompt
// produces (spec §4.3).
type QueryAnalysis struct {
	PrimaryIntent                 string   `json:"primary_intent"`
	ExpectedResponseType          string   `json:"expected_response_type"`
	KeyRequirements               []string `json:"key_requirements"`
	DomainExpertise               string   `json:"domain_expertise"`
	ResponseFormat                string   `json:"response_format"`
	ContextPreservationPriority   int      `json:"context_preservation_priority"`
}

func defaultQueryAnalysis() QueryAnalysis {
	return QueryAnalysis{
		PrimaryIntent:               "general_inquiry",
		ExpectedResponseType:        "text",
		KeyRequirements:             nil,
		DomainExpertise:             "general",
		ResponseFormat:              "prose",
		ContextPreservationPriority: 5,
	}
}

// EnhancementMetadata records what the enhancer did to a fragment.
type EnhancementMetadata struct {
	ContextAdded       string  `json:"context_added"`
	InstructionsAdded  string  `json:"instructions_added"`
	Rationale          string  `json:"rationale"`
	QualityScore       float64 `json:"quality_score"`
}

// EnhancedFragment is a fragment whose content has been expanded for its
// target provider (spec §3).
type EnhancedFragment struct {
	fragment.Fragment
	OriginalContent      string
	EnhancementMetadata  EnhancementMetadata
}

// Session is a stateful, per-request value holding the orchestration
// model's running conversation history, constructed once at the start of
// enhancement and reused by the later aggregation call so both operations
// share one thread (Open Question Decision #3).
type Session struct {
	OriginalQuery string
	Analysis      QueryAnalysis
	History       []Message
}

// NewSession starts a fresh, empty session for one request.
func NewSession(originalQuery string) *Session {
	return &Session{OriginalQuery: originalQuery}
}

func (s *Session) append(role, content string) {
	s.History = append(s.History, Message{Role: role, Content: content})
}

// Enhancer runs both enhancer operations against a designated orchestration
// model (deliberately distinct from the worker providers dispatched to).
type Enhancer struct {
	model providers.Provider
}

// New builds an Enhancer against the given orchestration model.
func New(model providers.Provider) *Enhancer {
	return &Enhancer{model: model}
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSON(text string) string {
	m := jsonObject.FindString(text)
	return m
}

// AnalyzeIntent runs the one-shot query-intent classification prompt and
// stores the result on sess. On invalid JSON or a model error it falls back
// to a generic analysis rather than failing the request.
func (e *Enhancer) AnalyzeIntent(ctx context.Context, sess *Session) QueryAnalysis {
	prompt := fmt.Sprintf(`Analyze the intent of this query and respond with JSON only:
{"primary_intent": "...", "expected_response_type": "...", "key_requirements": ["..."], "domain_expertise": "...", "response_format": "...", "context_preservation_priority": 1-10}

Query: %s`, sess.OriginalQuery)

	resp, err := e.model.Generate(ctx, providers.CompletionRequest{Prompt: prompt, MaxTokens: 300})
	analysis := defaultQueryAnalysis()
	if err != nil {
		sess.Analysis = analysis
		return analysis
	}

	raw := extractJSON(resp.Content)
	if raw == "" {
		sess.Analysis = analysis
		return analysis
	}
	if jsonErr := json.Unmarshal([]byte(raw), &analysis); jsonErr != nil {
		analysis = defaultQueryAnalysis()
	}
	sess.Analysis = analysis
	sess.append("system", fmt.Sprintf("Query analysis: intent=%s, format=%s", analysis.PrimaryIntent, analysis.ResponseFormat))
	return analysis
}

type enhancementJSON struct {
	EnhancedContent   string  `json:"enhanced_content"`
	ContextAdded      string  `json:"context_added"`
	InstructionsAdded string  `json:"instructions_added"`
	Rationale         string  `json:"rationale"`
	QualityScore      float64 `json:"quality_score"`
}

// EnhanceFragment builds a per-fragment enhancement prompt naming the
// target provider and its capability blurb, and parses the model's JSON
// response. On any failure it returns the fragment unchanged with
// quality_score=0 (spec §4.3's graceful-degradation requirement).
func (e *Enhancer) EnhanceFragment(ctx context.Context, sess *Session, f fragment.Fragment, targetProvider providers.ProviderType) EnhancedFragment {
	fallback := EnhancedFragment{Fragment: f, OriginalContent: f.Content, EnhancementMetadata: EnhancementMetadata{QualityScore: 0}}

	prompt := fmt.Sprintf(`The query's overall intent: %s (format: %s).
This fragment will be sent to %s, which is %s.
Enhance this fragment with any context or instructions that will help that provider respond well, without revealing more than necessary. Respond with JSON only:
{"enhanced_content": "...", "context_added": "...", "instructions_added": "...", "rationale": "...", "quality_score": 0.0-1.0}

Fragment: %s`, sess.Analysis.PrimaryIntent, sess.Analysis.ResponseFormat, targetProvider, capabilityBlurb(targetProvider), f.Content)

	resp, err := e.model.Generate(ctx, providers.CompletionRequest{Prompt: prompt, MaxTokens: 500})
	if err != nil {
		return fallback
	}

	raw := extractJSON(resp.Content)
	if raw == "" {
		return fallback
	}

	var parsed enhancementJSON
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
		return fallback
	}
	if parsed.EnhancedContent == "" {
		return fallback
	}

	enhanced := f
	enhanced.Content = parsed.EnhancedContent
	return EnhancedFragment{
		Fragment:        enhanced,
		OriginalContent: f.Content,
		EnhancementMetadata: EnhancementMetadata{
			ContextAdded:      parsed.ContextAdded,
			InstructionsAdded: parsed.InstructionsAdded,
			Rationale:         parsed.Rationale,
			QualityScore:      clamp01(parsed.QualityScore),
		},
	}
}

// EnhanceAll analyzes intent once, then enhances every fragment against its
// paired target provider.
func (e *Enhancer) EnhanceAll(ctx context.Context, sess *Session, fragments []fragment.Fragment, targets []providers.ProviderType) []EnhancedFragment {
	e.AnalyzeIntent(ctx, sess)
	out := make([]EnhancedFragment, len(fragments))
	for i, f := range fragments {
		target := providers.ProviderTypeOpenAI
		if i < len(targets) {
			target = targets[i]
		}
		out[i] = e.EnhanceFragment(ctx, sess, f, target)
	}
	sess.append("system", fmt.Sprintf("Enhanced %d fragments", len(fragments)))
	return out
}

// Aggregate continues sess's conversation thread to synthesize a single
// answer from the per-fragment responses, falling back to a simple
// newline-joined concatenation if the call fails.
func (e *Enhancer) Aggregate(ctx context.Context, sess *Session, responses []string) string {
	prompt := fmt.Sprintf(`The original query was: %s
Here are the responses to each fragment, in order:

%s

Synthesize these into one coherent answer to the original query.`, sess.OriginalQuery, strings.Join(responses, "\n---\n"))

	resp, err := e.model.Generate(ctx, providers.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: historyAsSystemPrompt(sess.History),
		MaxTokens:    1500,
	})
	if err != nil || resp.Content == "" {
		return strings.Join(responses, "\n\n")
	}
	return resp.Content
}

func historyAsSystemPrompt(history []Message) string {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
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
