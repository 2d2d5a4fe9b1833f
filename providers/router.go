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
	"context"
	"errors"
	"time"
)

// ErrNoProviders is returned when no candidate provider survives filtering.
var ErrNoProviders = errors.New("providers: no available providers matched the criteria")

// SelectionCriteria narrows the candidate set before load balancing runs.
type SelectionCriteria struct {
	RequiredCapabilities []Capability
	PreferredProviders   []string
	ExcludeProviders     []string
	MinSuccessRate       float64
	MaxLatencyMs         float64
}

// RouterOption configures a Router at construction time.
type RouterOption func(*Router)

// WithRoutingConfig overrides the default (round_robin/balanced) routing
// configuration.
func WithRoutingConfig(cfg RoutingConfig) RouterOption {
	return func(r *Router) { r.sel = newSelector(cfg, r.registry) }
}

// Router is the provider manager (C5): it filters, orders and dispatches
// completion requests across the registry's providers, retrying the next
// candidate when one fails or its circuit is open.
type Router struct {
	registry *Registry
	sel      *selector
}

// NewRouter builds a Router over reg with the default round_robin strategy
// unless overridden by an option.
func NewRouter(reg *Registry, opts ...RouterOption) *Router {
	r := &Router{registry: reg}
	r.sel = newSelector(LoadRoutingConfigFromEnv(), reg)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// candidates filters the registry's providers by crit, excluding any whose
// circuit breaker is currently open.
func (r *Router) candidates(crit SelectionCriteria) []Provider {
	excluded := make(map[string]bool, len(crit.ExcludeProviders))
	for _, n := range crit.ExcludeProviders {
		excluded[n] = true
	}
	preferred := make(map[string]bool, len(crit.PreferredProviders))
	for _, n := range crit.PreferredProviders {
		preferred[n] = true
	}

	var out []Provider
	for _, p := range r.registry.All() {
		if excluded[p.Name()] {
			continue
		}
		if len(preferred) > 0 && !preferred[p.Name()] {
			continue
		}
		if err := r.registry.BreakerAllow(p.Name()); err != nil {
			continue
		}
		if !hasAllCapabilities(p, crit.RequiredCapabilities) {
			continue
		}
		if m, err := r.registry.Metrics(p.Name()); err == nil {
			if crit.MinSuccessRate > 0 && m.SuccessRate < crit.MinSuccessRate {
				continue
			}
			if crit.MaxLatencyMs > 0 && m.AvgLatencyMs > crit.MaxLatencyMs {
				continue
			}
		}
		out = append(out, p)
	}

	// Fall back to the full (breaker-permitting) set if nothing matched the
	// soft preferences, mirroring the manager's own fallback behavior.
	if len(out) == 0 && len(preferred) > 0 {
		crit.PreferredProviders = nil
		return r.candidatesNoPreference(crit, excluded)
	}
	return out
}

func (r *Router) candidatesNoPreference(crit SelectionCriteria, excluded map[string]bool) []Provider {
	var out []Provider
	for _, p := range r.registry.All() {
		if excluded[p.Name()] {
			continue
		}
		if err := r.registry.BreakerAllow(p.Name()); err != nil {
			continue
		}
		if !hasAllCapabilities(p, crit.RequiredCapabilities) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hasAllCapabilities(p Provider, required []Capability) bool {
	for _, c := range required {
		if !HasCapability(p, c) {
			return false
		}
	}
	return true
}

// Dispatch selects a provider matching crit and calls Generate, trying the
// next candidate (in load-balancing order) on failure until one succeeds or
// every candidate has been exhausted.
func (r *Router) Dispatch(ctx context.Context, req CompletionRequest, crit SelectionCriteria) (*CompletionResponse, string, error) {
	candidates := r.candidates(crit)
	if len(candidates) == 0 {
		return nil, "", ErrNoProviders
	}
	ordered := r.sel.order(candidates)

	var lastErr error
	for _, p := range ordered {
		start := time.Now()
		resp, err := p.Generate(ctx, req)
		latencyMs := float64(time.Since(start).Milliseconds())
		if err != nil {
			r.registry.RecordFailure(p.Name())
			lastErr = err
			var perr *ProviderError
			if errors.As(err, &perr) && !perr.Retryable {
				return nil, p.Name(), err
			}
			continue
		}
		r.registry.RecordSuccess(p.Name(), latencyMs)
		return resp, p.Name(), nil
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", ErrNoProviders
}

// Registry exposes the underlying registry for callers (e.g. the HTTP
// surface's /providers/status endpoint) that need raw health/metrics.
func (r *Router) Registry() *Registry { return r.registry }
