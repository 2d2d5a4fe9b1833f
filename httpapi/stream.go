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

	"github.com/gorilla/mux"

	"github.com/mak-mm/privaguard/progress"
)

// handleStream serves spec §6's `GET /api/v1/stream/{request_id}`: one JSON
// object per line, a leading `connection` event and history replay
// (handled by Bus.Subscribe itself), then live events until a terminal
// `complete`/`error`, with a periodic ping keeping idle proxies from
// closing the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, unsubscribe := s.bus.Subscribe(requestID)
	defer unsubscribe()

	ticker := time.NewTicker(progress.PingInterval())
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !writeEvent(w, flusher, ev) {
				return
			}
			if ev.Type == "complete" || ev.Type == "error" {
				return
			}
		case <-ticker.C:
			writeEvent(w, flusher, progress.Ping())
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev progress.Event) bool {
	data, err := ev.Encode()
	if err != nil {
		return true
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
