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
	"math/rand"
	"os"
	"sync/atomic"

	"github.com/mak-mm/privaguard/pricing"
)

// Strategy is one of the five load-balancing strategies spec §4.5 requires.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyRandom       Strategy = "random"
	StrategyWeighted     Strategy = "weighted"
	StrategyPerformance  Strategy = "performance"
	StrategyCostOptimized Strategy = "cost_optimized"
)

// CostPreference tunes cost_optimized ordering between favoring cheap
// providers and favoring fast/reliable ones.
type CostPreference string

const (
	CostPreferenceLow      CostPreference = "low"
	CostPreferenceBalanced CostPreference = "balanced"
	CostPreferenceHigh     CostPreference = "high"
)

// RoutingConfig holds the tunables of the load-balancing layer.
type RoutingConfig struct {
	Strategy       Strategy
	CostPreference CostPreference
	// Weights is used only by StrategyWeighted; providers absent from the
	// map get weight 1.
	Weights map[string]float64
}

// LoadRoutingConfigFromEnv builds a RoutingConfig from ROUTER_STRATEGY and
// ROUTER_COST_PREFERENCE, defaulting to round_robin/balanced.
func LoadRoutingConfigFromEnv() RoutingConfig {
	cfg := RoutingConfig{
		Strategy:       StrategyRoundRobin,
		CostPreference: CostPreferenceBalanced,
		Weights:        map[string]float64{},
	}
	if v := os.Getenv("ROUTER_STRATEGY"); v != "" {
		cfg.Strategy = Strategy(v)
	}
	if v := os.Getenv("ROUTER_COST_PREFERENCE"); v != "" {
		cfg.CostPreference = CostPreference(v)
	}
	return cfg
}

// selector applies a RoutingConfig's strategy to order a set of candidate
// providers, most-preferred first. rng is injected for deterministic tests.
type selector struct {
	cfg      RoutingConfig
	registry *Registry
	rrIndex  uint64
	rng      *rand.Rand
}

func newSelector(cfg RoutingConfig, reg *Registry) *selector {
	return &selector{cfg: cfg, registry: reg, rng: rand.New(rand.NewSource(1))}
}

func (s *selector) order(candidates []Provider) []Provider {
	if len(candidates) <= 1 {
		return candidates
	}
	switch s.cfg.Strategy {
	case StrategyRandom:
		return s.orderRandom(candidates)
	case StrategyWeighted:
		return s.orderWeighted(candidates)
	case StrategyPerformance:
		return s.orderPerformance(candidates)
	case StrategyCostOptimized:
		return s.orderCostOptimized(candidates)
	default:
		return s.orderRoundRobin(candidates)
	}
}

func (s *selector) orderRoundRobin(candidates []Provider) []Provider {
	idx := atomic.AddUint64(&s.rrIndex, 1) - 1
	n := len(candidates)
	out := make([]Provider, n)
	start := int(idx % uint64(n))
	for i := 0; i < n; i++ {
		out[i] = candidates[(start+i)%n]
	}
	return out
}

func (s *selector) orderRandom(candidates []Provider) []Provider {
	out := append([]Provider(nil), candidates...)
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// orderWeighted mirrors the manager's replication-list approach: each
// candidate appears weight*10 times in a pool, one draw picks the winner,
// the remainder (shuffled) trails behind it as fallback order.
func (s *selector) orderWeighted(candidates []Provider) []Provider {
	type slot struct {
		p Provider
		w float64
	}
	slots := make([]slot, 0, len(candidates))
	total := 0.0
	for _, p := range candidates {
		w := s.cfg.Weights[p.Name()]
		if w <= 0 {
			w = 1
		}
		slots = append(slots, slot{p, w})
		total += w
	}
	r := s.rng.Float64() * total
	winnerIdx := 0
	acc := 0.0
	for i, sl := range slots {
		acc += sl.w
		if r <= acc {
			winnerIdx = i
			break
		}
	}
	out := make([]Provider, 0, len(candidates))
	out = append(out, slots[winnerIdx].p)
	rest := make([]Provider, 0, len(candidates)-1)
	for i, sl := range slots {
		if i != winnerIdx {
			rest = append(rest, sl.p)
		}
	}
	s.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	return append(out, rest...)
}

// orderPerformance ranks by success_rate*0.7 + latency_score*0.3, matching
// the manager's performance strategy formula.
func (s *selector) orderPerformance(candidates []Provider) []Provider {
	scores := make(map[string]float64, len(candidates))
	for _, p := range candidates {
		m, err := s.registry.Metrics(p.Name())
		successRate, avgLatency := 1.0, 0.0
		if err == nil {
			successRate = m.SuccessRate
			avgLatency = m.AvgLatencyMs
		}
		latencyScore := 1.0 / (1.0 + avgLatency/1000.0)
		scores[p.Name()] = successRate*0.7 + latencyScore*0.3
	}
	return sortDesc(candidates, scores)
}

// orderCostOptimized ranks candidates by a blend of cost and the configured
// CostPreference, matching the manager's cost-optimized strategy. The
// balanced preference is spec §4.5's named formula, success_rate - 0.5*cost,
// using the same live SuccessRate source orderPerformance reads from the
// registry rather than the static pricing.Performance table.
func (s *selector) orderCostOptimized(candidates []Provider) []Provider {
	scores := make(map[string]float64, len(candidates))
	for _, p := range candidates {
		cost := pricing.Cost(p.Type(), 1000)
		if cost == 0 {
			cost = 0.001
		}
		switch s.cfg.CostPreference {
		case CostPreferenceLow:
			costScore := 1.0 / cost
			perfScore := pricing.Performance(p.Type())
			scores[p.Name()] = costScore*0.8 + perfScore*0.2
		case CostPreferenceHigh:
			costScore := 1.0 / cost
			perfScore := pricing.Performance(p.Type())
			scores[p.Name()] = costScore*0.2 + perfScore*0.8
		default:
			successRate := 1.0
			if m, err := s.registry.Metrics(p.Name()); err == nil {
				successRate = m.SuccessRate
			}
			scores[p.Name()] = successRate - 0.5*cost
		}
	}
	return sortDesc(candidates, scores)
}

func sortDesc(candidates []Provider, scores map[string]float64) []Provider {
	out := append([]Provider(nil), candidates...)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && scores[out[j-1].Name()] < scores[out[j].Name()] {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
