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

// Package pricing is the single source of truth for the per-provider cost and
// privacy-reliability numbers consumed by the intelligence layer, the response
// aggregator, and the provider manager's cost-optimized routing strategy.
//
// Earlier iterations of this system scattered these numbers across the
// orchestrator, the intelligence advisers, and the aggregator independently;
// keeping one table here and importing it everywhere else is intentional.
package pricing

import "github.com/mak-mm/privaguard/providers"

// CostPer1KTokens is the estimated USD cost per 1000 tokens, input and output
// blended, for a provider type. Used by the cost optimizer and cost-optimized
// load-balancing strategy.
var CostPer1KTokens = map[providers.ProviderType]float64{
	providers.ProviderTypeOpenAI:      0.03,
	providers.ProviderTypeAnthropic:   0.025,
	providers.ProviderTypeGemini:      0.02,
	providers.ProviderTypeAzureOpenAI: 0.035,
	providers.ProviderTypeBedrock:     0.028,
	providers.ProviderTypeOllama:      0.0,
	providers.ProviderTypeCustom:      0.025,
}

// PrivacyScore reflects how privacy-preserving a provider is considered,
// informing the privacy router's "privacy-preferred" provider sets and the
// aggregator's weighted-ensemble provider-reliability weight.
var PrivacyScore = map[providers.ProviderType]float64{
	providers.ProviderTypeAnthropic:   0.95,
	providers.ProviderTypeAzureOpenAI: 0.85,
	providers.ProviderTypeOpenAI:      0.80,
	providers.ProviderTypeBedrock:     0.80,
	providers.ProviderTypeGemini:      0.70,
	providers.ProviderTypeOllama:      0.99,
	providers.ProviderTypeCustom:      0.60,
}

// PerformanceScore is a static baseline performance expectation per provider,
// used by the cost optimizer when no live metrics are yet available.
var PerformanceScore = map[providers.ProviderType]float64{
	providers.ProviderTypeOpenAI:      0.95,
	providers.ProviderTypeAnthropic:   0.90,
	providers.ProviderTypeGemini:      0.85,
	providers.ProviderTypeAzureOpenAI: 0.88,
	providers.ProviderTypeBedrock:     0.87,
	providers.ProviderTypeOllama:      0.75,
	providers.ProviderTypeCustom:      0.75,
}

// Cost estimates the USD cost of processing tokens tokens through provider pt.
func Cost(pt providers.ProviderType, tokens int) float64 {
	rate, ok := CostPer1KTokens[pt]
	if !ok {
		rate = 0.025
	}
	return (float64(tokens) / 1000.0) * rate
}

// Privacy returns the static privacy-reliability score for provider pt,
// defaulting to a conservative middling value for unknown providers.
func Privacy(pt providers.ProviderType) float64 {
	if v, ok := PrivacyScore[pt]; ok {
		return v
	}
	return 0.75
}

// Performance returns the static baseline performance score for provider pt.
func Performance(pt providers.ProviderType) float64 {
	if v, ok := PerformanceScore[pt]; ok {
		return v
	}
	return 0.75
}

// PreferredPrivacyProviders is the ordered set of providers considered
// "privacy-preferred" by the intelligence layer's routing recommendations,
// highest privacy score first.
var PreferredPrivacyProviders = []providers.ProviderType{
	providers.ProviderTypeAnthropic,
	providers.ProviderTypeAzureOpenAI,
	providers.ProviderTypeBedrock,
}

// GeneralProviders is the full set of providers acceptable for low-sensitivity
// fragments.
var GeneralProviders = []providers.ProviderType{
	providers.ProviderTypeAnthropic,
	providers.ProviderTypeOpenAI,
	providers.ProviderTypeGemini,
	providers.ProviderTypeBedrock,
}

// Overrides lets a deployment replace this package's built-in numbers with
// an operator-maintained table (config's `providers.yaml`) without
// touching code. Any provider type omitted from a given map keeps its
// built-in value.
type Overrides struct {
	Cost        map[providers.ProviderType]float64
	Privacy     map[providers.ProviderType]float64
	Performance map[providers.ProviderType]float64
}

// ApplyOverrides merges o into the package-level tables. It is meant to be
// called once at startup, before any provider dispatch begins; the maps it
// mutates are read concurrently afterwards but never written again.
func ApplyOverrides(o Overrides) {
	for pt, v := range o.Cost {
		CostPer1KTokens[pt] = v
	}
	for pt, v := range o.Privacy {
		PrivacyScore[pt] = v
	}
	for pt, v := range o.Performance {
		PerformanceScore[pt] = v
	}
}
