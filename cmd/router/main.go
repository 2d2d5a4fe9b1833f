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

// Package main is the entry point for the privacy-preserving query router
// service: it fragments sensitive queries across privacy-preferred LLM
// providers, enhances and reassembles their answers, and exposes the
// result over spec §6's HTTP surface.
//
// Usage:
//
//	./router
//
// Environment Variables: see config.Load for the full list;
// at minimum one of OPENAI_API_KEY/ANTHROPIC_API_KEY/GOOGLE_API_KEY must be
// set for any provider adapter to be registered.
package main

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/mak-mm/privaguard/config"
	"github.com/mak-mm/privaguard/httpapi"
	"github.com/mak-mm/privaguard/orchestrate"
	"github.com/mak-mm/privaguard/progress"
	"github.com/mak-mm/privaguard/providers"
	"github.com/mak-mm/privaguard/providers/anthropic"
	"github.com/mak-mm/privaguard/providers/gemini"
	"github.com/mak-mm/privaguard/providers/openai"
	"github.com/mak-mm/privaguard/store"
)

func main() {
	cfg := config.Load()

	if err := config.LoadProviderOverrides(cfg.ProviderOverridesPath); err != nil {
		log.Fatalf("privaguard-router: %v", err)
	}

	reg := buildRegistry(cfg)
	router := providers.NewRouter(reg)

	bus := progress.New()
	orch := orchestrate.New(router,
		orchestrate.WithProgressBus(bus),
		orchestrate.WithKPISink(func(e orchestrate.KPIEvent) {
			bus.PublishInvestorMetric(e.RequestID, "kpis", map[string]any{
				"fragments_processed":    e.FragmentsProcessed,
				"privacy_level_achieved": string(e.PrivacyLevelAchieved),
				"total_cost_estimate":    e.TotalCostEstimate,
				"total_processing_ms":    e.TotalProcessingTimeMs,
			})
		}),
	)

	st, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("privaguard-router: %v", err)
	}

	server := httpapi.NewServer(orch, router, st, bus, cfg.FrontendURL)

	addr := cfg.APIHost + ":" + strconv.Itoa(cfg.APIPort)
	log.Printf("privaguard-router listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, server.Handler()))
}

// buildRegistry registers one adapter per configured provider API key, the
// config-first/lazy-instantiate pattern `orchestrator/llm/registry.go`
// follows: a provider with no credentials simply never gets registered,
// rather than being registered in a broken state.
func buildRegistry(cfg *config.Config) *providers.Registry {
	reg := providers.NewRegistry()
	if cfg.OpenAIAPIKey != "" {
		reg.Register(openai.New(cfg.OpenAIAPIKey, openai.WithModel(cfg.OpenAIModel)))
	}
	if cfg.AnthropicAPIKey != "" {
		reg.Register(anthropic.New(cfg.AnthropicAPIKey, anthropic.WithModel(cfg.ClaudeWorkerModel)))
	}
	if cfg.GoogleAPIKey != "" {
		reg.Register(gemini.New(cfg.GoogleAPIKey, gemini.WithModel(cfg.GeminiModel)))
	}
	return reg
}

func buildStore(cfg *config.Config) (store.Store, error) {
	if cfg.RedisURL == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.Connect(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Printf("privaguard-router: redis unavailable (%v), falling back to in-memory store", err)
		return store.NewMemoryStore(), nil
	}
	return s, nil
}
