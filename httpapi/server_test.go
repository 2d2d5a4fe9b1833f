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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mak-mm/privaguard/orchestrate"
	"github.com/mak-mm/privaguard/progress"
	"github.com/mak-mm/privaguard/providers"
	"github.com/mak-mm/privaguard/store"
)

type stubProvider struct {
	name string
	pt   providers.ProviderType
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) Type() providers.ProviderType { return p.pt }
func (p *stubProvider) Generate(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return &providers.CompletionResponse{Content: "answer: " + req.Prompt, FinishReason: "stop", TokensUsed: 10}, nil
}
func (p *stubProvider) HealthCheck(ctx context.Context) (providers.HealthStatus, error) {
	return providers.HealthAvailable, nil
}
func (p *stubProvider) Capabilities() []providers.Capability {
	return []providers.Capability{providers.CapabilityTextGeneration}
}
func (p *stubProvider) EstimateCost(tokens int) float64 { return 0 }
func (p *stubProvider) EstimateTokens(text string) int  { return len(text)/4 + 10 }
func (p *stubProvider) SupportsStreaming() bool         { return false }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := providers.NewRegistry()
	reg.Register(&stubProvider{name: "openai", pt: providers.ProviderTypeOpenAI})
	router := providers.NewRouter(reg)

	bus := progress.New()
	orch := orchestrate.New(router, orchestrate.WithProgressBus(bus))
	st := store.NewMemoryStore()
	return NewServer(orch, router, st, bus, "")
}

func TestHandleHealth_ReturnsHealthy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleAnalyze_EmptyQueryReturns422(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(`{"query":""}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleAnalyze_ValidQueryReturnsAggregatedResponse(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(`{"query":"what is the capital of France?"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body analyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
	assert.NotEmpty(t, body.AggregatedResponse)
	assert.NotEmpty(t, body.Fragments)
}

func TestHandleStatus_ReturnsNotFoundForUnknownRequest(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/does-not-exist", nil)
	req = mux.SetURLVars(req, map[string]string{"request_id": "does-not-exist"})
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatus_ReturnsSavedState(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.SaveState(context.Background(), store.QueryState{RequestID: "req1", Status: store.StatusCompleted}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/req1", nil)
	req = mux.SetURLVars(req, map[string]string{"request_id": "req1"})
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var state store.QueryState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, store.StatusCompleted, state.Status)
}

func TestHandleProviders_ListsRegisteredProvider(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]providerCapability
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body["providers"], 1)
	assert.Equal(t, "openai", body["providers"][0].Name)
}

func TestHandleProviderStatus_ReturnsHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]providerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body["providers"], 1)
	assert.Equal(t, string(providers.HealthAvailable), body["providers"][0].Health)
}

func TestHandleMetricsSummary_ReflectsProcessedRequests(t *testing.T) {
	s := newTestServer(t)
	analyzeReq := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(`{"query":"hello"}`))
	s.Handler().ServeHTTP(httptest.NewRecorder(), analyzeReq)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics/summary", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["total_requests"])
}
