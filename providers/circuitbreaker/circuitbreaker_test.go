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

package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(Config{ErrorThreshold: 3, DefaultTimeout: 50 * time.Millisecond, MaxTimeout: time.Second, EnableAutoRecovery: true})

	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State(), "should stay closed before threshold")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := New(Config{ErrorThreshold: 1, DefaultTimeout: 10 * time.Millisecond, MaxTimeout: time.Second, EnableAutoRecovery: true})
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow(), "first half-open trial should be allowed")
	assert.ErrorIs(t, b.Allow(), ErrOpen, "second concurrent trial should be rejected")
}

func TestBreaker_SuccessClosesFromHalfOpen(t *testing.T) {
	b := New(Config{ErrorThreshold: 1, DefaultTimeout: 5 * time.Millisecond, MaxTimeout: time.Second, EnableAutoRecovery: true})
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureDoublesBackoffCappedAtMax(t *testing.T) {
	b := New(Config{ErrorThreshold: 1, DefaultTimeout: 10 * time.Millisecond, MaxTimeout: 15 * time.Millisecond, EnableAutoRecovery: true})
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.LessOrEqual(t, b.currentTimeout, 15*time.Millisecond)
}

func TestBreaker_AutoRecoveryDisabledStaysOpen(t *testing.T) {
	b := New(Config{ErrorThreshold: 1, DefaultTimeout: 5 * time.Millisecond, MaxTimeout: time.Second, EnableAutoRecovery: false})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateOpen, b.State())

	b.ResetManual()
	assert.Equal(t, StateClosed, b.State())
}
