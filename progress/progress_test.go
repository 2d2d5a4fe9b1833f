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

package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeSendsConnectionEventFirst(t *testing.T) {
	b := New()
	events, unsubscribe := b.Subscribe("req1")
	defer unsubscribe()

	select {
	case e := <-events:
		assert.Equal(t, "connection", e.Type)
		assert.Equal(t, "req1", e.RequestID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection event")
	}
}

func TestBus_SubscribeReplaysHistory(t *testing.T) {
	b := New()
	b.PublishStep("req1", "detection", "completed", 100, "done")

	events, unsubscribe := b.Subscribe("req1")
	defer unsubscribe()

	require.Equal(t, "connection", (<-events).Type)
	select {
	case e := <-events:
		assert.Equal(t, "step_progress", e.Type)
		assert.Equal(t, "detection", e.Data["step"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed event")
	}
}

func TestBus_PublishDeliversToLiveSubscriber(t *testing.T) {
	b := New()
	events, unsubscribe := b.Subscribe("req1")
	defer unsubscribe()
	<-events // connection event

	b.PublishComplete("req1", map[string]any{"answer": "42"})

	select {
	case e := <-events:
		assert.Equal(t, "complete", e.Type)
		assert.Equal(t, "42", e.Data["answer"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for complete event")
	}
}

func TestBus_NewSubscriberTerminatesPriorOne(t *testing.T) {
	b := New()
	firstEvents, _ := b.Subscribe("req1")
	<-firstEvents // connection event

	secondEvents, unsubscribe := b.Subscribe("req1")
	defer unsubscribe()

	_, stillOpen := <-firstEvents
	assert.False(t, stillOpen)

	<-secondEvents // the new connection event
}

func TestBus_IsConnectedReflectsSubscriptionState(t *testing.T) {
	b := New()
	assert.False(t, b.IsConnected("req1"))

	_, unsubscribe := b.Subscribe("req1")
	assert.True(t, b.IsConnected("req1"))

	unsubscribe()
	assert.False(t, b.IsConnected("req1"))
}

func TestBus_PublishBeforeSubscribeIsStoredForLaterReplay(t *testing.T) {
	b := New()
	b.PublishError("req1", "boom", nil)

	events, unsubscribe := b.Subscribe("req1")
	defer unsubscribe()

	require.Equal(t, "connection", (<-events).Type)
	e := <-events
	assert.Equal(t, "error", e.Type)
	assert.Equal(t, "boom", e.Data["error"])
}

func TestEvent_EncodeProducesValidJSON(t *testing.T) {
	e := Event{Type: "ping", Timestamp: time.Now()}
	raw, err := e.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"ping"`)
}
