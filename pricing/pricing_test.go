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

package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mak-mm/privaguard/providers"
)

func TestCost_UnknownProviderFallsBackToDefaultRate(t *testing.T) {
	cost := Cost(providers.ProviderType("unknown-provider"), 1000)
	assert.Equal(t, 0.025, cost)
}

func TestCost_ScalesLinearlyWithTokens(t *testing.T) {
	assert.Equal(t, Cost(providers.ProviderTypeOpenAI, 2000), 2*Cost(providers.ProviderTypeOpenAI, 1000))
}

func TestPrivacy_AnthropicRankedAboveOpenAI(t *testing.T) {
	assert.Greater(t, Privacy(providers.ProviderTypeAnthropic), Privacy(providers.ProviderTypeOpenAI))
}

func TestPrivacy_UnknownProviderFallsBackToMiddlingScore(t *testing.T) {
	assert.Equal(t, 0.75, Privacy(providers.ProviderType("unknown-provider")))
}

func TestApplyOverrides_ReplacesOnlyNamedProviders(t *testing.T) {
	original := Privacy(providers.ProviderTypeGemini)
	t.Cleanup(func() { ApplyOverrides(Overrides{Privacy: map[providers.ProviderType]float64{providers.ProviderTypeGemini: original}}) })

	ApplyOverrides(Overrides{Privacy: map[providers.ProviderType]float64{providers.ProviderTypeGemini: 0.99}})
	assert.Equal(t, 0.99, Privacy(providers.ProviderTypeGemini))
	assert.Equal(t, 0.95, Privacy(providers.ProviderTypeAnthropic))
}
