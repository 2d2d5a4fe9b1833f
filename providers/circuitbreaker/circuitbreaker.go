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

// Package circuitbreaker implements the closed/open/half_open state machine
// (spec §3 Circuit breaker state) guarding each provider adapter in the
// provider manager.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned by Allow when the breaker is open and the timeout has
// not yet elapsed.
var ErrOpen = errors.New("circuit breaker open")

// Config controls breaker thresholds. Field names mirror the shape of the
// community circuit breaker stub's configuration struct.
type Config struct {
	// ErrorThreshold is the number of consecutive failures that trips the
	// breaker from closed to open.
	ErrorThreshold int
	// DefaultTimeout is how long the breaker stays open before allowing a
	// single half-open trial request.
	DefaultTimeout time.Duration
	// MaxTimeout caps the backoff applied to successive open periods: each
	// time half-open trial fails, the next open timeout doubles, capped here.
	MaxTimeout time.Duration
	// EnableAutoRecovery, when false, keeps the breaker open forever once
	// tripped until ResetManual is called (used for providers an operator
	// wants to hard-disable).
	EnableAutoRecovery bool
}

// DefaultConfig matches spec §3's invariant: 5 consecutive failures trips the
// breaker, open for 30s before a half-open trial.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:     5,
		DefaultTimeout:     30 * time.Second,
		MaxTimeout:         5 * time.Minute,
		EnableAutoRecovery: true,
	}
}

// Breaker is a single provider's circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state           State
	consecutiveFail int
	openedAt        time.Time
	currentTimeout  time.Duration
	halfOpenInUse   bool
}

// New builds a Breaker in the closed state.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:            cfg,
		state:          StateClosed,
		currentTimeout: cfg.DefaultTimeout,
	}
}

// State returns the current state, advancing open -> half_open if the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionLocked()
	return b.state
}

func (b *Breaker) maybeTransitionLocked() {
	if b.state != StateOpen {
		return
	}
	if !b.cfg.EnableAutoRecovery {
		return
	}
	if time.Since(b.openedAt) >= b.currentTimeout {
		b.state = StateHalfOpen
		b.halfOpenInUse = false
	}
}

// Allow reports whether a request may proceed. In half_open state only one
// caller at a time is allowed through as a trial; others see ErrOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionLocked()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.halfOpenInUse {
			return ErrOpen
		}
		b.halfOpenInUse = true
		return nil
	default: // StateOpen
		return ErrOpen
	}
}

// RecordSuccess closes the breaker and resets failure/backoff counters.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFail = 0
	b.state = StateClosed
	b.halfOpenInUse = false
	b.currentTimeout = b.cfg.DefaultTimeout
}

// RecordFailure records a failed call. From closed, it trips to open once
// ErrorThreshold consecutive failures accrue. From half_open, any failure
// re-opens the breaker and doubles the backoff timeout, capped at MaxTimeout.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.halfOpenInUse = false
		b.openedAt = time.Now()
		b.state = StateOpen
		b.currentTimeout *= 2
		if b.currentTimeout > b.cfg.MaxTimeout {
			b.currentTimeout = b.cfg.MaxTimeout
		}
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.cfg.ErrorThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// ResetManual forces the breaker back to closed regardless of configuration,
// for operator-initiated recovery of a hard-disabled provider.
func (b *Breaker) ResetManual() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFail = 0
	b.halfOpenInUse = false
	b.currentTimeout = b.cfg.DefaultTimeout
}
