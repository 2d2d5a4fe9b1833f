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

// Package fragment implements the fragmenter (C2): it splits a query into
// fragments such that no single downstream provider receives a
// reconstructable whole, following the strategy the detection report (C1)
// recommends.
package fragment

import "github.com/mak-mm/privaguard/detect"

// Type is the closed set of fragment kinds.
type Type string

const (
	TypeGeneral  Type = "general"
	TypePII      Type = "pii"
	TypeCode     Type = "code"
	TypeSemantic Type = "semantic"
)

// Fragment is one piece of a split query (spec §3).
type Fragment struct {
	FragmentID           string         `json:"fragment_id"`
	Ordinal              int            `json:"ordinal"`
	Content              string         `json:"content"`
	FragmentType         Type           `json:"fragment_type"`
	ContainsSensitiveData bool          `json:"contains_sensitive_data"`
	ProviderHint         string         `json:"provider_hint,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// RedactionEntry pairs one placeholder with the original text it stands in
// for, scoped to a single request.
type RedactionEntry struct {
	Placeholder string
	Original    string
	Kind        detect.PIIType
}

// RedactionMap is the bidirectional mapping between placeholders and the
// original sensitive spans they replaced. It is never persisted past the
// request's lifetime and never written to the KV cache store (spec §5).
type RedactionMap struct {
	entries []RedactionEntry
}

// Add records one placeholder/original pairing.
func (m *RedactionMap) Add(placeholder, original string, kind detect.PIIType) {
	m.entries = append(m.entries, RedactionEntry{Placeholder: placeholder, Original: original, Kind: kind})
}

// Entries returns every recorded pairing, in insertion order.
func (m *RedactionMap) Entries() []RedactionEntry {
	return m.entries
}

// Invert returns placeholder -> original, longest placeholder first so that
// substring replacement during reassembly never clips a longer match.
func (m *RedactionMap) Invert() []RedactionEntry {
	out := append([]RedactionEntry(nil), m.entries...)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && len(out[j-1].Placeholder) < len(out[j].Placeholder) {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

// Config tunes the fragmenter's behavior.
type Config struct {
	MaxFragmentSize  int
	OverlapTokens    int
	PrivacyPreferredProvider string
	PublicPreferredProvider  string
}

// DefaultConfig matches the detection engine's default max-fragment-size
// threshold.
func DefaultConfig() Config {
	return Config{
		MaxFragmentSize:          detect.MaxFragmentSize,
		OverlapTokens:            0,
		PrivacyPreferredProvider: "anthropic",
		PublicPreferredProvider:  "openai",
	}
}

// Result is everything the fragmenter produces for one query.
type Result struct {
	Fragments    []Fragment
	RedactionMap *RedactionMap
	Strategy     detect.Strategy
}
