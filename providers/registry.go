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
	"fmt"
	"sync"

	"github.com/mak-mm/privaguard/providers/circuitbreaker"
)

// entry bundles a registered provider with its process-wide mutable state:
// health, rolling metrics and its circuit breaker.
type entry struct {
	provider Provider
	breaker  *circuitbreaker.Breaker

	mu              sync.Mutex
	health          HealthStatus
	consecutiveFail int
	totalCalls      int64
	totalFailures   int64
	avgLatencyMs    float64
}

// RegistryOption configures a Registry at construction time.
type RegistryOption func(*Registry)

// WithBreakerConfig overrides the default circuit breaker configuration used
// for every provider added to the registry.
func WithBreakerConfig(cfg circuitbreaker.Config) RegistryOption {
	return func(r *Registry) { r.breakerCfg = cfg }
}

// Registry holds every provider adapter known to the process and their
// shared health/circuit-breaker state. It is the single piece of
// process-wide provider state the runtime owns (spec §5, §9).
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	breakerCfg circuitbreaker.Config
}

// NewRegistry builds an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:    make(map[string]*entry),
		breakerCfg: circuitbreaker.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a provider under its own Name(). Registering the same name
// twice replaces the prior adapter but keeps its accumulated health state.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[p.Name()]; ok {
		e.provider = p
		return
	}
	r.entries[p.Name()] = &entry{
		provider: p,
		breaker:  circuitbreaker.New(r.breakerCfg),
		health:   HealthAvailable,
	}
}

// Get returns the named provider, if registered.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// All returns every registered provider, in no particular order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.provider)
	}
	return out
}

// Health returns the current health status for a registered provider.
func (r *Registry) Health(name string) (HealthStatus, error) {
	e, err := r.entry(name)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health, nil
}

// Metrics is a snapshot of a provider's rolling call statistics.
type Metrics struct {
	TotalCalls    int64
	TotalFailures int64
	SuccessRate   float64
	AvgLatencyMs  float64
}

// Metrics returns a snapshot of the named provider's rolling statistics.
func (r *Registry) Metrics(name string) (Metrics, error) {
	e, err := r.entry(name)
	if err != nil {
		return Metrics{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m := Metrics{TotalCalls: e.totalCalls, TotalFailures: e.totalFailures, AvgLatencyMs: e.avgLatencyMs}
	if e.totalCalls > 0 {
		m.SuccessRate = float64(e.totalCalls-e.totalFailures) / float64(e.totalCalls)
	} else {
		m.SuccessRate = 1.0
	}
	return m, nil
}

// RecordSuccess updates health, circuit-breaker and rolling metrics for name
// after a successful call that took latencyMs milliseconds.
func (r *Registry) RecordSuccess(name string, latencyMs float64) {
	e, err := r.entry(name)
	if err != nil {
		return
	}
	e.breaker.RecordSuccess()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFail = 0
	e.health = HealthAvailable
	e.totalCalls++
	if e.totalCalls == 1 {
		e.avgLatencyMs = latencyMs
	} else {
		e.avgLatencyMs = e.avgLatencyMs + (latencyMs-e.avgLatencyMs)/float64(e.totalCalls)
	}
}

// RecordFailure updates health, circuit-breaker and rolling metrics for name
// after a failed call. Health degrades to HealthDegraded at 3 consecutive
// failures and HealthUnavailable at 5, per spec §3's invariant.
func (r *Registry) RecordFailure(name string) {
	e, err := r.entry(name)
	if err != nil {
		return
	}
	e.breaker.RecordFailure()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFail++
	e.totalCalls++
	e.totalFailures++
	switch {
	case e.consecutiveFail >= 5:
		e.health = HealthUnavailable
	case e.consecutiveFail >= 3:
		e.health = HealthDegraded
	}
}

// BreakerAllow reports whether the named provider's circuit breaker permits
// a call right now.
func (r *Registry) BreakerAllow(name string) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}
	return e.breaker.Allow()
}

func (r *Registry) entry(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q", name)
	}
	return e, nil
}
