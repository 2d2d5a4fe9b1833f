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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	p := &mockProvider{name: "openai", typ: ProviderTypeOpenAI}
	reg.Register(p)

	got, ok := reg.Get("openai")
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_HealthDegradesOnConsecutiveFailures(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockProvider{name: "openai", typ: ProviderTypeOpenAI})

	for i := 0; i < 2; i++ {
		reg.RecordFailure("openai")
	}
	health, err := reg.Health("openai")
	require.NoError(t, err)
	assert.Equal(t, HealthAvailable, health, "2 failures should not yet degrade")

	reg.RecordFailure("openai")
	health, _ = reg.Health("openai")
	assert.Equal(t, HealthDegraded, health, "3 consecutive failures should degrade")

	reg.RecordFailure("openai")
	reg.RecordFailure("openai")
	health, _ = reg.Health("openai")
	assert.Equal(t, HealthUnavailable, health, "5 consecutive failures should be unavailable")

	reg.RecordSuccess("openai", 100)
	health, _ = reg.Health("openai")
	assert.Equal(t, HealthAvailable, health, "success should reset to available")
}

func TestRegistry_MetricsSuccessRate(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockProvider{name: "openai", typ: ProviderTypeOpenAI})

	reg.RecordSuccess("openai", 100)
	reg.RecordSuccess("openai", 200)
	reg.RecordFailure("openai")

	m, err := reg.Metrics("openai")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.TotalCalls)
	assert.InDelta(t, 2.0/3.0, m.SuccessRate, 0.001)
}

func TestRegistry_BreakerAllowReflectsFailures(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockProvider{name: "openai", typ: ProviderTypeOpenAI})

	for i := 0; i < 5; i++ {
		reg.RecordFailure("openai")
	}
	assert.Error(t, reg.BreakerAllow("openai"))
}
