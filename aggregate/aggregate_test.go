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

package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mak-mm/privaguard/detect"
	"github.com/mak-mm/privaguard/fragment"
	"github.com/mak-mm/privaguard/intelligence"
)

func TestSelectStrategy_RestrictedPrivacyAlwaysWeightedEnsemble(t *testing.T) {
	fragments := []fragment.Fragment{{FragmentType: fragment.TypeGeneral}}
	assert.Equal(t, StrategyWeightedEnsemble, selectStrategy(fragments, intelligence.PrivacyLevelRestricted))
}

func TestSelectStrategy_MultipleProviderHintsForcesWeightedEnsemble(t *testing.T) {
	fragments := []fragment.Fragment{
		{FragmentType: fragment.TypeGeneral, ProviderHint: "anthropic"},
		{FragmentType: fragment.TypeGeneral, ProviderHint: "openai"},
	}
	assert.Equal(t, StrategyWeightedEnsemble, selectStrategy(fragments, intelligence.PrivacyLevelPublic))
}

func TestSelectStrategy_PIIFragmentsPickPIIReassembly(t *testing.T) {
	fragments := []fragment.Fragment{{FragmentType: fragment.TypePII}}
	assert.Equal(t, StrategyPIIReassembly, selectStrategy(fragments, intelligence.PrivacyLevelPublic))
}

func TestSelectStrategy_CodeFragmentsPickCodeReassembly(t *testing.T) {
	fragments := []fragment.Fragment{{FragmentType: fragment.TypeCode}}
	assert.Equal(t, StrategyCodeReassembly, selectStrategy(fragments, intelligence.PrivacyLevelPublic))
}

func TestAggregator_DefaultStrategyJoinsInFragmentOrder(t *testing.T) {
	a := New()
	fragments := []fragment.Fragment{
		{FragmentID: "f1", Ordinal: 0, FragmentType: fragment.TypeGeneral},
		{FragmentID: "f2", Ordinal: 1, FragmentType: fragment.TypeGeneral},
	}
	results := []FragmentResult{
		{FragmentID: "f2", Content: "second"},
		{FragmentID: "f1", Content: "first"},
	}

	out := a.Aggregate(results, fragments, intelligence.PrivacyLevelPublic, nil)
	assert.Contains(t, out, "First")
	assert.True(t, indexOf(out, "First") < indexOf(out, "second"))
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestAggregator_PIIReassemblyRestoresOriginalValues(t *testing.T) {
	a := New()
	redaction := &fragment.RedactionMap{}
	redaction.Add("<EMAIL>", "john@example.com", detect.PIITypeEmail)

	fragments := []fragment.Fragment{
		{FragmentID: "f1", Ordinal: 0, FragmentType: fragment.TypePII, ContainsSensitiveData: true},
	}
	results := []FragmentResult{
		{FragmentID: "f1", Content: "The contact is <EMAIL>."},
	}

	out := a.Aggregate(results, fragments, intelligence.PrivacyLevelPublic, redaction)
	assert.Contains(t, out, "john@example.com")
	assert.NotContains(t, out, "<EMAIL>")
}

func TestAggregator_CodeReassemblySeparatesTextAndCode(t *testing.T) {
	a := New()
	fragments := []fragment.Fragment{
		{FragmentID: "f1", Ordinal: 0, FragmentType: fragment.TypeGeneral},
		{FragmentID: "f2", Ordinal: 1, FragmentType: fragment.TypeCode},
	}
	results := []FragmentResult{
		{FragmentID: "f1", Content: "Here is an explanation."},
		{FragmentID: "f2", Content: "```python\ndef add(a, b):\n    return a + b\n```"},
	}

	out := a.Aggregate(results, fragments, intelligence.PrivacyLevelPublic, nil)
	assert.Contains(t, out, "explanation")
	assert.Contains(t, out, "def add")
}

func TestAggregator_WeightedEnsembleSingleResponseReturnedVerbatim(t *testing.T) {
	a := New()
	fragments := []fragment.Fragment{
		{FragmentID: "f1", Ordinal: 0, FragmentType: fragment.TypeGeneral, ProviderHint: "anthropic"},
		{FragmentID: "f2", Ordinal: 1, FragmentType: fragment.TypeGeneral, ProviderHint: "openai"},
	}
	results := []FragmentResult{
		{FragmentID: "f1", ProviderID: "anthropic", Content: "A complete and coherent answer to the question posed.", PrivacyScore: 0.9},
		{FragmentID: "f2", ProviderID: "openai", Content: "", PrivacyScore: 0.8},
	}

	out := a.Aggregate(results, fragments, intelligence.PrivacyLevelPublic, nil)
	assert.Contains(t, out, "complete and coherent")
}

func TestAggregator_SequentialConcatenatesInOrder(t *testing.T) {
	a := New()
	pairs := []pair{
		{result: FragmentResult{Content: "first part"}, frag: fragment.Fragment{Ordinal: 0}},
		{result: FragmentResult{Content: "second part"}, frag: fragment.Fragment{Ordinal: 1}},
		{result: FragmentResult{Content: ""}, frag: fragment.Fragment{Ordinal: 2}},
	}
	out := a.sequential(pairs)
	assert.Equal(t, "first part\n\nsecond part", out)
}

func TestAggregator_FallbackOnNoMatchingFragments(t *testing.T) {
	a := New()
	results := []FragmentResult{{FragmentID: "missing", Content: "orphaned response"}}
	out := a.Aggregate(results, nil, intelligence.PrivacyLevelPublic, nil)
	assert.Equal(t, "orphaned response", out)
}

func TestHasSignificantOverlap_DetectsNearDuplicateText(t *testing.T) {
	assert.True(t, hasSignificantOverlap("the quick brown fox jumps", "the quick brown fox jumps high"))
	assert.False(t, hasSignificantOverlap("completely different content here", "totally unrelated other text"))
}

func TestCalculateConfidenceScore_PenalizesErrorPatterns(t *testing.T) {
	result := FragmentResult{Content: "I'm not sure how to help with that.", ProcessingTimeMs: 500}
	f := fragment.Fragment{FragmentType: fragment.TypeGeneral}
	score := calculateConfidenceScore(result, f)
	require.Greater(t, score, 0.0)
	assert.Less(t, score, 0.7)
}
