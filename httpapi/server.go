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

// Package httpapi is the router's HTTP surface (spec §6): the
// analyze/status/stream endpoints backed by the orchestrator, progress bus
// and result cache, plus the operational provider/metrics/health views.
// Routing and CORS follow `orchestrator/run.go`'s gorilla/mux + rs/cors
// setup.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mak-mm/privaguard/orchestrate"
	"github.com/mak-mm/privaguard/progress"
	"github.com/mak-mm/privaguard/providers"
	"github.com/mak-mm/privaguard/shared/logger"
	"github.com/mak-mm/privaguard/store"
)

// Server wires the orchestrator, result cache and progress bus into an
// http.Handler.
type Server struct {
	orch      *orchestrate.Orchestrator
	router    *providers.Router
	store     store.Store
	bus       *progress.Bus
	frontend  string
	startedAt time.Time
	metrics   *requestMetrics
	mux       *mux.Router
	log       *logger.Logger
}

// NewServer builds a Server. frontendURL configures the CORS allowed origin
// (spec §6's FRONTEND_URL knob); an empty value allows any origin, matching
// `orchestrator/run.go`'s own permissive development default.
func NewServer(orch *orchestrate.Orchestrator, router *providers.Router, st store.Store, bus *progress.Bus, frontendURL string) *Server {
	s := &Server{
		orch:      orch,
		router:    router,
		store:     st,
		bus:       bus,
		frontend:  frontendURL,
		startedAt: time.Now(),
		metrics:   newRequestMetrics(),
		mux:       mux.NewRouter(),
		log:       logger.New("privaguard-router"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.mux.HandleFunc("/api/v1/analyze", s.handleAnalyze).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/status/{request_id}", s.handleStatus).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/stream/{request_id}", s.handleStream).Methods(http.MethodGet)

	s.mux.HandleFunc("/api/v1/providers", s.handleProviders).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/providers/status", s.handleProviderStatus).Methods(http.MethodGet)

	s.mux.HandleFunc("/api/v1/metrics/summary", s.handleMetricsSummary).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/metrics/timeseries", s.handleMetricsTimeseries).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the CORS-wrapped http.Handler ready to pass to
// http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	origins := []string{"*"}
	if s.frontend != "" {
		origins = []string{s.frontend}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.mux)
}
