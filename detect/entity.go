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
	"regexp"
	"strings"
)

// EntityAnalyzer is the consumed interface over the named-entity
// recognizer (spec §6, out-of-scope collaborator). HeuristicEntityAnalyzer
// below is this module's concrete default implementation.
type EntityAnalyzer interface {
	Recognize(text string) []Entity
}

// capitalizedRun matches runs of 1-4 capitalized words anywhere in the text,
// a coarse proper-noun heuristic standing in for a trained NER model.
// Recognize skips runs whose first word is in sentenceLeaders; sentence
// position itself is not checked.
var capitalizedRun = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,3})\b`)

var sentenceLeaders = map[string]bool{
	"The": true, "A": true, "An": true, "I": true, "What": true, "How": true,
	"Why": true, "When": true, "Where": true, "Who": true, "Is": true, "Are": true,
	"Can": true, "Could": true, "Would": true, "Should": true, "Do": true, "Does": true,
}

var knownLocationWords = map[string]bool{
	"France": true, "Paris": true, "London": true, "Germany": true, "Japan": true,
	"China": true, "Tokyo": true, "Berlin": true, "Spain": true, "Italy": true,
	"America": true, "Europe": true, "Asia": true, "California": true, "York": true,
}

// HeuristicEntityAnalyzer finds probable named entities via capitalized
// run detection, classifying PERSON vs GPE/LOC by a small known-location
// lexicon (a stand-in for a trained NER model).
type HeuristicEntityAnalyzer struct{}

// NewHeuristicEntityAnalyzer builds a HeuristicEntityAnalyzer.
func NewHeuristicEntityAnalyzer() *HeuristicEntityAnalyzer { return &HeuristicEntityAnalyzer{} }

// Recognize implements EntityAnalyzer.
func (a *HeuristicEntityAnalyzer) Recognize(text string) []Entity {
	seen := map[string]int{}
	var out []Entity
	for _, loc := range capitalizedRun.FindAllStringIndex(text, -1) {
		phrase := text[loc[0]:loc[1]]
		firstWord := strings.Fields(phrase)[0]
		if sentenceLeaders[firstWord] {
			continue
		}
		seen[phrase]++
		if seen[phrase] > 5 {
			continue
		}
		out = append(out, Entity{
			Text:  phrase,
			Label: classifyEntity(phrase),
			Start: loc[0],
			End:   loc[1],
			Score: 0.85,
		})
	}
	return out
}

func classifyEntity(phrase string) string {
	words := strings.Fields(phrase)
	for _, w := range words {
		if knownLocationWords[w] {
			return "GPE"
		}
	}
	return "PERSON"
}

// Sensitivity computes the entity_factor contribution: the mean score of
// sensitive-labeled entities, scaled down (spec's recognizer-own-score
// input to entity_factor, before casual-context attenuation).
func Sensitivity(entities []Entity) float64 {
	if len(entities) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, e := range entities {
		if sensitiveEntityLabels[e.Label] {
			sum += e.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return min1(sum / float64(len(entities)))
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
