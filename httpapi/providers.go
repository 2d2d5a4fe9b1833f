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

package httpapi

import (
	"net/http"

	"github.com/mak-mm/privaguard/pricing"
)

// providerCapability is one entry of the static provider capability table
// (spec §6's `GET /api/v1/providers`).
type providerCapability struct {
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Capabilities       []string `json:"capabilities"`
	SupportsStreaming  bool     `json:"supports_streaming"`
	CostPer1KTokens    float64  `json:"cost_per_1k_tokens"`
	PrivacyScore       float64  `json:"privacy_score"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	all := s.router.Registry().All()
	out := make([]providerCapability, 0, len(all))
	for _, p := range all {
		caps := make([]string, 0, len(p.Capabilities()))
		for _, c := range p.Capabilities() {
			caps = append(caps, string(c))
		}
		out = append(out, providerCapability{
			Name:              p.Name(),
			Type:              string(p.Type()),
			Capabilities:      caps,
			SupportsStreaming: p.SupportsStreaming(),
			CostPer1KTokens:   pricing.CostPer1KTokens[p.Type()],
			PrivacyScore:      pricing.Privacy(p.Type()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// providerStatus is one entry of the operational provider-status view
// (spec §6's `GET /api/v1/providers/status`).
type providerStatus struct {
	Name          string  `json:"name"`
	Health        string  `json:"health"`
	TotalCalls    int64   `json:"total_calls"`
	TotalFailures int64   `json:"total_failures"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	reg := s.router.Registry()
	all := reg.All()
	out := make([]providerStatus, 0, len(all))
	for _, p := range all {
		health, _ := reg.Health(p.Name())
		m, _ := reg.Metrics(p.Name())
		out = append(out, providerStatus{
			Name:          p.Name(),
			Health:        string(health),
			TotalCalls:    m.TotalCalls,
			TotalFailures: m.TotalFailures,
			SuccessRate:   m.SuccessRate,
			AvgLatencyMs:  m.AvgLatencyMs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}
