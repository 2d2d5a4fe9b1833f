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

package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, strategy Strategy, provs ...Provider) (*Router, *Registry) {
	t.Helper()
	reg := NewRegistry()
	for _, p := range provs {
		reg.Register(p)
	}
	router := NewRouter(reg, WithRoutingConfig(RoutingConfig{Strategy: strategy, CostPreference: CostPreferenceBalanced}))
	return router, reg
}

func TestRouter_DispatchSucceedsWithSingleProvider(t *testing.T) {
	router, _ := newTestRouter(t, StrategyRoundRobin, &mockProvider{name: "openai", typ: ProviderTypeOpenAI})

	resp, name, err := router.Dispatch(context.Background(), CompletionRequest{Prompt: "hi"}, SelectionCriteria{})
	require.NoError(t, err)
	assert.Equal(t, "openai", name)
	assert.Equal(t, "ok from openai", resp.Content)
}

func TestRouter_DispatchFallsBackOnFailure(t *testing.T) {
	failing := &mockProvider{name: "openai", typ: ProviderTypeOpenAI, failAlways: true}
	healthy := &mockProvider{name: "anthropic", typ: ProviderTypeAnthropic}
	router, _ := newTestRouter(t, StrategyRoundRobin, failing, healthy)

	resp, name, err := router.Dispatch(context.Background(), CompletionRequest{Prompt: "hi"}, SelectionCriteria{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", name)
	assert.Equal(t, "ok from anthropic", resp.Content)
}

func TestRouter_DispatchFailsWhenAllProvidersFail(t *testing.T) {
	a := &mockProvider{name: "openai", typ: ProviderTypeOpenAI, failAlways: true}
	b := &mockProvider{name: "anthropic", typ: ProviderTypeAnthropic, failAlways: true}
	router, _ := newTestRouter(t, StrategyRoundRobin, a, b)

	_, _, err := router.Dispatch(context.Background(), CompletionRequest{Prompt: "hi"}, SelectionCriteria{})
	assert.Error(t, err)
}

func TestRouter_DispatchSkipsOpenCircuit(t *testing.T) {
	failing := &mockProvider{name: "openai", typ: ProviderTypeOpenAI, failAlways: true}
	healthy := &mockProvider{name: "anthropic", typ: ProviderTypeAnthropic}
	router, reg := newTestRouter(t, StrategyRoundRobin, failing, healthy)

	for i := 0; i < 5; i++ {
		reg.RecordFailure("openai")
	}

	_, name, err := router.Dispatch(context.Background(), CompletionRequest{Prompt: "hi"}, SelectionCriteria{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", name, "open-circuit provider should be skipped entirely")
}

func TestRouter_RequiredCapabilitiesFilter(t *testing.T) {
	general := &mockProvider{name: "openai", typ: ProviderTypeOpenAI, caps: []Capability{CapabilityTextGeneration}}
	sensitive := &mockProvider{name: "anthropic", typ: ProviderTypeAnthropic, caps: []Capability{CapabilityTextGeneration, CapabilitySensitiveData}}
	router, _ := newTestRouter(t, StrategyRoundRobin, general, sensitive)

	_, name, err := router.Dispatch(context.Background(), CompletionRequest{Prompt: "hi"}, SelectionCriteria{RequiredCapabilities: []Capability{CapabilitySensitiveData}})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", name)
}

func TestRouter_CostOptimizedPrefersCheaperProvider(t *testing.T) {
	expensive := &mockProvider{name: "openai", typ: ProviderTypeOpenAI}
	cheap := &mockProvider{name: "gemini", typ: ProviderTypeGemini}
	router, _ := newTestRouter(t, StrategyCostOptimized, expensive, cheap)
	router.sel.cfg.CostPreference = CostPreferenceLow

	ordered := router.sel.order(router.candidates(SelectionCriteria{}))
	require.Len(t, ordered, 2)
	assert.Equal(t, "gemini", ordered[0].Name(), "gemini is cheaper per 1k tokens than openai")
}
