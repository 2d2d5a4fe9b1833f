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

// Package progress implements the progress bus (C9): a per-request
// Server-Sent Events fan-out that lets HTTP handlers stream step-by-step
// orchestration updates to a connected client, replaying history to a
// newly connecting subscriber and keeping a connection alive with a
// periodic ping.
package progress

import (
	"encoding/json"
	"sync"
	"time"
)

// historyTTL is how long an event history is retained after its last
// subscriber disconnects, in case of client reconnection.
const historyTTL = 1 * time.Hour

// pingInterval is how often a keepalive ping is sent to an idle subscriber.
const pingInterval = 30 * time.Second

// Event is one SSE message for a request's progress stream.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	Sequence  int64          `json:"sequence_number"`
}

// Encode renders e as the single-line JSON payload the stream handler
// writes as one newline-terminated line.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// Bus is a process-wide registry of per-request subscribers and their
// event history, safe for concurrent use across HTTP handlers and
// orchestration goroutines.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	history map[string][]Event
	cleanup map[string]*time.Timer
	seq     map[string]int64
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[string]*subscriber),
		history: make(map[string][]Event),
		cleanup: make(map[string]*time.Timer),
		seq:     make(map[string]int64),
	}
}

// Subscribe registers a new SSE connection for requestID, replacing and
// terminating any prior subscriber for the same request, and returns a
// channel the caller ranges over to produce the stream. The returned
// unsubscribe function must be called (typically deferred) when the
// client disconnects.
func (b *Bus) Subscribe(requestID string) (events <-chan Event, unsubscribe func()) {
	b.mu.Lock()
	if old, ok := b.subs[requestID]; ok && !old.closed {
		old.closed = true
		close(old.ch)
	}
	if t, ok := b.cleanup[requestID]; ok {
		t.Stop()
		delete(b.cleanup, requestID)
	}

	sub := &subscriber{ch: make(chan Event, 32)}
	b.subs[requestID] = sub

	sub.ch <- Event{Type: "connection", Data: map[string]any{"status": "connected"}, Timestamp: now(), RequestID: requestID, Sequence: b.nextSeq(requestID)}
	for _, e := range b.history[requestID] {
		sub.ch <- e
	}
	b.mu.Unlock()

	return sub.ch, func() { b.disconnect(requestID, sub) }
}

func (b *Bus) disconnect(requestID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.subs[requestID]; ok && current == sub {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(b.subs, requestID)
		b.scheduleHistoryCleanup(requestID)
	}
}

// nextSeq returns the next strictly monotonic sequence number for
// requestID. Callers must hold b.mu.
func (b *Bus) nextSeq(requestID string) int64 {
	b.seq[requestID]++
	return b.seq[requestID]
}

func (b *Bus) scheduleHistoryCleanup(requestID string) {
	if t, ok := b.cleanup[requestID]; ok {
		t.Stop()
	}
	b.cleanup[requestID] = time.AfterFunc(historyTTL, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.history, requestID)
		delete(b.cleanup, requestID)
		delete(b.seq, requestID)
	})
}

// Publish appends event to requestID's history and, if a subscriber is
// connected, delivers it live. A full subscriber channel drops the event
// rather than blocking the publisher (a slow or stalled client must never
// stall orchestration).
func (b *Bus) Publish(requestID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = now()
	}
	event.RequestID = requestID

	b.mu.Lock()
	defer b.mu.Unlock()
	event.Sequence = b.nextSeq(requestID)
	b.history[requestID] = append(b.history[requestID], event)

	if sub, ok := b.subs[requestID]; ok && !sub.closed {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// PublishStep sends a step-progress update (spec §4.7's stage sequence).
func (b *Bus) PublishStep(requestID, step, status string, progressPct float64, message string) {
	b.Publish(requestID, Event{
		Type: "step_progress",
		Data: map[string]any{
			"step":     step,
			"status":   status,
			"progress": progressPct,
			"message":  message,
		},
	})
}

// PublishInvestorMetric sends an investor-facing KPI update (SPEC_FULL.md
// §12 supplemented feature, grounded on the original's
// send_investor_update/investor_metrics_collector).
func (b *Bus) PublishInvestorMetric(requestID, metricType string, metrics map[string]any) {
	b.Publish(requestID, Event{Type: "investor_" + metricType, Data: metrics})
}

// PublishError sends an error event.
func (b *Bus) PublishError(requestID, errMsg string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	b.Publish(requestID, Event{Type: "error", Data: map[string]any{"error": errMsg, "details": details}})
}

// PublishComplete sends the final completion event carrying the full
// result payload.
func (b *Bus) PublishComplete(requestID string, result map[string]any) {
	b.Publish(requestID, Event{Type: "complete", Data: result})
}

// IsConnected reports whether requestID currently has a live subscriber.
func (b *Bus) IsConnected(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[requestID]
	return ok && !sub.closed
}

// Ping is the keepalive event sent on the SSE write loop's idle timeout.
func Ping() Event { return Event{Type: "ping", Timestamp: now()} }

// PingInterval exposes the keepalive cadence an HTTP handler's write loop
// should use when the subscriber channel yields no event before it elapses.
func PingInterval() time.Duration { return pingInterval }

func now() time.Time { return time.Now() }
