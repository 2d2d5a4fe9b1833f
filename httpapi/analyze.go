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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mak-mm/privaguard/detect"
	"github.com/mak-mm/privaguard/orchestrate"
	"github.com/mak-mm/privaguard/pricing"
	"github.com/mak-mm/privaguard/store"
)

// analyzeRequest is spec §6's `POST /api/v1/analyze` body.
type analyzeRequest struct {
	Query           string  `json:"query"`
	Strategy        *string `json:"strategy,omitempty"`
	UseOrchestrator *bool   `json:"use_orchestrator,omitempty"`
}

// costComparison summarizes what the fragmented, privacy-routed dispatch
// actually cost against the hypothetical of sending the whole query,
// unsplit, to the single most privacy-preferred provider — the number an
// investor-facing dashboard wants out of "cost_comparison".
type costComparison struct {
	ActualCost          float64 `json:"actual_cost"`
	SingleProviderCost  float64 `json:"single_provider_cost_estimate"`
	SavingsPercent      float64 `json:"savings_percent"`
}

// fragmentView is one entry of the "fragments" array in the analyze
// response, grounded on `background_tasks.py`'s `[f.model_dump() for f in
// fragments]`.
type fragmentView struct {
	FragmentID       string  `json:"fragment_id"`
	ProviderID       string  `json:"provider_id"`
	Content          string  `json:"content"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	PrivacyScore     float64 `json:"privacy_score"`
	CostEstimate     float64 `json:"cost_estimate"`
}

// analyzeResponse is spec §6's 200 response shape for `/api/v1/analyze`.
type analyzeResponse struct {
	RequestID          string         `json:"request_id"`
	Detection          detect.Report  `json:"detection"`
	Fragments          []fragmentView `json:"fragments"`
	AggregatedResponse string         `json:"aggregated_response"`
	PrivacyScore       float64        `json:"privacy_score"`
	TotalTime          float64        `json:"total_time"`
	CostComparison     costComparison `json:"cost_comparison"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "request body is not valid JSON", err)
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_request", "query must not be empty", nil)
		return
	}

	// Generated here, not left to the orchestrator, so the "processing"
	// state record and any SSE subscription opened against this ID before
	// Process returns both agree with the final response's RequestID.
	req := orchestrate.Request{RequestID: fmt.Sprintf("req_%s", uuid.New().String()), Query: body.Query}
	if body.Strategy != nil {
		req.FragmentationStrategy = detect.Strategy(*body.Strategy)
	}

	if s.store != nil {
		_ = s.store.SaveState(r.Context(), store.QueryState{
			RequestID:     req.RequestID,
			Status:        store.StatusProcessing,
			OriginalQuery: body.Query,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		})
	}

	s.log.Info("", req.RequestID, "analyze request received", nil)

	resp, err := s.orch.Process(r.Context(), req)
	if err != nil {
		s.recordFailure(r.Context(), req.RequestID, err)
		s.log.ErrorWithCode("", req.RequestID, "analyze request failed", http.StatusInternalServerError, err, nil)
		writeError(w, http.StatusInternalServerError, "orchestration_failed", "the query could not be processed", err)
		return
	}

	s.saveCompletedState(r.Context(), resp)
	s.log.InfoWithDuration("", resp.RequestID, "analyze request completed", resp.TotalProcessingTimeMs, map[string]interface{}{
		"providers_used": resp.ProvidersUsed,
	})
	if s.bus != nil {
		s.bus.PublishComplete(resp.RequestID, map[string]any{"aggregated_response": resp.AggregatedResponse})
	}

	writeJSON(w, http.StatusOK, buildAnalyzeResponse(resp))
}

func buildAnalyzeResponse(resp *orchestrate.Response) analyzeResponse {
	fragments := make([]fragmentView, 0, len(resp.FragmentResults))
	var privacySum float64
	for _, fr := range resp.FragmentResults {
		privacySum += fr.PrivacyScore
		fragments = append(fragments, fragmentView{
			FragmentID:       fr.FragmentID,
			ProviderID:       fr.ProviderID,
			Content:          fr.Content,
			ProcessingTimeMs: fr.ProcessingTimeMs,
			PrivacyScore:     fr.PrivacyScore,
			CostEstimate:     fr.CostEstimate,
		})
	}
	privacyScore := 0.0
	if len(resp.FragmentResults) > 0 {
		privacyScore = privacySum / float64(len(resp.FragmentResults))
	}

	return analyzeResponse{
		RequestID:          resp.RequestID,
		Detection:          resp.DetectionReport,
		Fragments:          fragments,
		AggregatedResponse: resp.AggregatedResponse,
		PrivacyScore:       privacyScore,
		TotalTime:          resp.TotalProcessingTimeMs,
		CostComparison:     buildCostComparison(resp),
	}
}

// buildCostComparison estimates what a single privacy-preferred provider
// would have charged for the unsplit query's token count, for comparison
// against the actual per-fragment dispatch cost.
func buildCostComparison(resp *orchestrate.Response) costComparison {
	actual := resp.TotalCostEstimate
	single := pricingCostForTokens(resp.TokensUsed)
	savings := 0.0
	if single > 0 {
		savings = (single - actual) / single * 100
	}
	return costComparison{ActualCost: actual, SingleProviderCost: single, SavingsPercent: savings}
}

// pricingCostForTokens estimates what routing tokens tokens, unsplit, to
// the single most privacy-preferred provider would have cost.
func pricingCostForTokens(tokens int) float64 {
	if len(pricing.PreferredPrivacyProviders) == 0 {
		return 0
	}
	return pricing.Cost(pricing.PreferredPrivacyProviders[0], tokens)
}

func (s *Server) recordFailure(ctx context.Context, requestID string, err error) {
	s.metrics.record(timeseriesPoint{Timestamp: time.Now(), Success: false})
	if s.bus != nil && requestID != "" {
		s.bus.PublishError(requestID, err.Error(), nil)
	}
}

func (s *Server) saveCompletedState(ctx context.Context, resp *orchestrate.Response) {
	s.metrics.record(timeseriesPoint{
		Timestamp:    time.Now(),
		TotalTimeMs:  resp.TotalProcessingTimeMs,
		CostEstimate: resp.TotalCostEstimate,
		Success:      true,
	})
	if s.store == nil {
		return
	}
	_ = s.store.SaveState(ctx, store.QueryState{
		RequestID: resp.RequestID,
		Status:    store.StatusCompleted,
		Progress:  1.0,
		UpdatedAt: time.Now(),
		Result: &store.Result{
			AggregatedResponse:   resp.AggregatedResponse,
			TotalCostEstimate:    resp.TotalCostEstimate,
			ProvidersUsed:        resp.ProvidersUsed,
			FragmentsProcessed:   resp.FragmentsProcessed,
			PrivacyLevelAchieved: string(resp.PrivacyLevelAchieved),
		},
	})
}
