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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// maxTimeseriesPoints bounds the in-memory timeseries, the same
// capped-rolling-slice idiom `orchestrator/run.go`'s
// `OrchestratorMetrics.dynamicPolicyTimings` uses to avoid an
// unbounded-growth metrics buffer.
const maxTimeseriesPoints = 1000

var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privaguard_router_requests_total",
			Help: "Total number of /api/v1/analyze requests, by outcome.",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "privaguard_router_request_duration_milliseconds",
			Help:    "Total request processing duration in milliseconds.",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
}

// timeseriesPoint is one request's summary, recorded for
// /api/v1/metrics/timeseries.
type timeseriesPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	TotalTimeMs  float64   `json:"total_time_ms"`
	CostEstimate float64   `json:"cost_estimate"`
	PrivacyScore float64   `json:"privacy_score"`
	Success      bool      `json:"success"`
}

// requestMetrics accumulates the rolling window consulted by the
// metrics-summary and metrics-timeseries endpoints.
type requestMetrics struct {
	mu     sync.Mutex
	points []timeseriesPoint
}

func newRequestMetrics() *requestMetrics {
	return &requestMetrics{}
}

func (m *requestMetrics) record(p timeseriesPoint) {
	status := "success"
	if !p.Success {
		status = "failure"
	}
	promRequestsTotal.WithLabelValues(status).Inc()
	promRequestDuration.WithLabelValues(status).Observe(p.TotalTimeMs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.points) >= maxTimeseriesPoints {
		m.points = m.points[1:]
	}
	m.points = append(m.points, p)
}

func (m *requestMetrics) snapshot() []timeseriesPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]timeseriesPoint, len(m.points))
	copy(out, m.points)
	return out
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	points := s.metrics.snapshot()
	orchMetrics := s.orch.Metrics()

	var totalCost, totalPrivacy, totalLatency float64
	for _, p := range points {
		totalCost += p.CostEstimate
		totalPrivacy += p.PrivacyScore
		totalLatency += p.TotalTimeMs
	}
	n := float64(len(points))
	avg := func(total float64) float64 {
		if n == 0 {
			return 0
		}
		return total / n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_requests":      orchMetrics.TotalRequests,
		"successful_requests": orchMetrics.SuccessfulRequests,
		"failed_requests":      orchMetrics.FailedRequests,
		"last_request_time":   orchMetrics.LastRequestTime,
		"average_cost":        avg(totalCost),
		"average_privacy":     avg(totalPrivacy),
		"average_latency_ms":  avg(totalLatency),
	})
}

func (s *Server) handleMetricsTimeseries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"points": s.metrics.snapshot()})
}
