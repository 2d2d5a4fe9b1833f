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
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mak-mm/privaguard/store"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	state, err := s.store.GetState(r.Context(), requestID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no state found for that request id", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", "could not read request state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
