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
	"time"

	"github.com/mak-mm/privaguard/providers"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{"orchestrator": s.orch != nil}
	for _, p := range s.router.Registry().All() {
		status, err := s.router.Registry().Health(p.Name())
		components[p.Name()] = err == nil && status != providers.HealthUnavailable
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"service":    "privaguard-router",
		"uptime_sec": time.Since(s.startedAt).Seconds(),
		"components": components,
	})
}
