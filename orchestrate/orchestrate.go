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

// Package orchestrate implements the orchestrator (C8): the stage-sequenced
// pipeline that carries one query through detection, fragmentation,
// intelligence analysis, bounded-concurrency provider dispatch, and response
// aggregation.
package orchestrate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mak-mm/privaguard/aggregate"
	"github.com/mak-mm/privaguard/detect"
	"github.com/mak-mm/privaguard/enhance"
	"github.com/mak-mm/privaguard/fragment"
	"github.com/mak-mm/privaguard/intelligence"
	"github.com/mak-mm/privaguard/pricing"
	"github.com/mak-mm/privaguard/progress"
	"github.com/mak-mm/privaguard/providers"
)

// Stage is the closed set of pipeline stages a request moves through
// (spec §4.7).
type Stage string

const (
	StageReceived      Stage = "received"
	StageDetection     Stage = "detection"
	StageFragmentation Stage = "fragmentation"
	StageRouting       Stage = "routing"
	StageProcessing    Stage = "processing"
	StageAggregation   Stage = "aggregation"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

// Request is one query submitted for privacy-preserving routing.
type Request struct {
	RequestID             string
	Query                 string
	PrivacyLevel          intelligence.PrivacyLevel
	FragmentationStrategy detect.Strategy
	UserLocation          string
	Metadata              map[string]any
}

// Config tunes pipeline behavior.
type Config struct {
	EnablePIIDetection     bool
	EnableCodeDetection    bool
	EnablePrivacyRouting   bool
	EnableCostOptimization bool
	MaxConcurrentRequests  int
	RequestTimeout         time.Duration
	MaxFragmentSize        int
	SensitiveDataProviders []providers.ProviderType
	DefaultStrategy        detect.Strategy
	MaxCostPerFragment     float64
	MaxTotalCost           float64
}

// DefaultConfig matches the original system's defaults.
func DefaultConfig() Config {
	return Config{
		EnablePIIDetection:     true,
		EnableCodeDetection:    true,
		EnablePrivacyRouting:   true,
		EnableCostOptimization: true,
		MaxConcurrentRequests:  5,
		RequestTimeout:         30 * time.Second,
		MaxFragmentSize:        detect.MaxFragmentSize,
		SensitiveDataProviders: pricing.PreferredPrivacyProviders,
		DefaultStrategy:        detect.StrategyNone,
		MaxCostPerFragment:     0.1,
		MaxTotalCost:           1.0,
	}
}

// FragmentProcessingResult is one fragment's full processing outcome,
// carrying both the aggregator's view and bookkeeping the response needs.
type FragmentProcessingResult struct {
	aggregate.FragmentResult
	CostEstimate float64
	TokensUsed   int
	FinishReason string
}

// Response is the orchestrator's final output for one request.
type Response struct {
	RequestID             string
	AggregatedResponse    string
	TotalProcessingTimeMs float64
	FragmentsProcessed    int
	ProvidersUsed         []string
	DetectionReport       detect.Report
	FragmentationStrategy detect.Strategy
	PrivacyLevelAchieved  intelligence.PrivacyLevel
	TotalCostEstimate     float64
	TokensUsed            int
	FragmentResults       []FragmentProcessingResult
	IntelligenceDecisions []intelligence.Decision
}

// Metrics accumulates process-wide orchestration counters.
type Metrics struct {
	mu               sync.Mutex
	TotalRequests    int64
	SuccessfulRequests int64
	FailedRequests   int64
	LastRequestTime  time.Time
}

func (m *Metrics) record(success bool, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
	if success {
		m.SuccessfulRequests++
	} else {
		m.FailedRequests++
	}
	m.LastRequestTime = at
}

// Snapshot returns a copy of the current metrics, safe to read concurrently.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{TotalRequests: m.TotalRequests, SuccessfulRequests: m.SuccessfulRequests, FailedRequests: m.FailedRequests, LastRequestTime: m.LastRequestTime}
}

// KPIEvent is one investor-facing metric emitted at the end of a request
// (SPEC_FULL.md §12 supplemented feature, grounded on the original's
// investor-update events; the hook is optional).
type KPIEvent struct {
	RequestID            string
	FragmentsProcessed   int
	PrivacyLevelAchieved intelligence.PrivacyLevel
	TotalCostEstimate    float64
	TotalProcessingTimeMs float64
}

// Orchestrator runs the full pipeline for one request at a time, safe for
// concurrent use across requests.
type Orchestrator struct {
	cfg           Config
	router        *providers.Router
	eng           *detect.Engine
	fragmenter    *fragment.Fragmenter
	aggregator    *aggregate.Aggregator
	privacyIntel  *intelligence.PrivacyIntelligence
	costOptimizer *intelligence.CostOptimizer
	perfMonitor   *intelligence.PerformanceMonitor
	enhancer      *enhance.Enhancer
	metrics       *Metrics
	kpiSink       func(KPIEvent)
	bus           *progress.Bus
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithConfig overrides the default pipeline configuration.
func WithConfig(cfg Config) Option { return func(o *Orchestrator) { o.cfg = cfg } }

// WithDetectionEngine overrides the default detection engine.
func WithDetectionEngine(eng *detect.Engine) Option { return func(o *Orchestrator) { o.eng = eng } }

// WithFragmenter overrides the default fragmenter.
func WithFragmenter(f *fragment.Fragmenter) Option { return func(o *Orchestrator) { o.fragmenter = f } }

// WithEnhancer attaches the optional fragment enhancer (C3). Without one,
// fragments are dispatched unenhanced.
func WithEnhancer(e *enhance.Enhancer) Option { return func(o *Orchestrator) { o.enhancer = e } }

// WithKPISink attaches a callback invoked once per completed request with
// investor-facing metrics.
func WithKPISink(sink func(KPIEvent)) Option { return func(o *Orchestrator) { o.kpiSink = sink } }

// WithProgressBus attaches the progress bus (C9) that Process publishes
// step_progress events to as the request moves through spec §4.7's stage
// sequence. Without one, the orchestrator runs identically but emits no
// events (used by tests that don't care about streaming).
func WithProgressBus(bus *progress.Bus) Option { return func(o *Orchestrator) { o.bus = bus } }

// New builds an Orchestrator around the given provider router.
func New(router *providers.Router, opts ...Option) *Orchestrator {
	eng := detect.NewEngine(nil, nil, nil)
	o := &Orchestrator{
		cfg:          DefaultConfig(),
		router:       router,
		eng:          eng,
		fragmenter:   fragment.New(eng, fragment.DefaultConfig()),
		aggregator:   aggregate.New(),
		privacyIntel: intelligence.NewPrivacyIntelligence(),
		perfMonitor:  intelligence.NewPerformanceMonitor(),
		metrics:      &Metrics{},
	}
	o.costOptimizer = intelligence.NewCostOptimizer(o.adapterTokenEstimate)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metrics returns the orchestrator's running counters.
func (o *Orchestrator) Metrics() Metrics { return o.metrics.Snapshot() }

// publishStep emits a step_progress event if a progress bus is attached;
// every stage transition in Process calls this (spec §2: "every transition
// publishes a progress event"; the orchestrator is §4.9's publisher).
func (o *Orchestrator) publishStep(requestID string, stage Stage, status string, progressPct float64, message string) {
	if o.bus == nil {
		return
	}
	o.bus.PublishStep(requestID, string(stage), status, progressPct, message)
}

// adapterTokenEstimate defers to a registered provider's own EstimateTokens
// (spec §4.4/§6's per-adapter tokenization contract) rather than a generic
// heuristic. It returns 0, the cost optimizer's "no opinion" sentinel, when
// no provider of pt is currently registered.
func (o *Orchestrator) adapterTokenEstimate(pt providers.ProviderType, text string) int {
	for _, p := range o.router.Registry().All() {
		if p.Type() == pt {
			return p.EstimateTokens(text)
		}
	}
	return 0
}

// Process runs one request through the full pipeline: detection,
// fragmentation, intelligence analysis, bounded-concurrency dispatch, and
// aggregation. On any stage failure it records the failure in metrics and
// returns an error; only a request where at least one fragment succeeds
// produces a Response.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = generateRequestID()
	}
	start := time.Now()

	o.publishStep(req.RequestID, StageReceived, "in_progress", 0, "request received")

	report := o.runDetection(req)
	o.publishStep(req.RequestID, StageDetection, "in_progress", 15, "sensitive-data detection complete")

	fragResult := o.runFragmentation(req, report)
	o.publishStep(req.RequestID, StageFragmentation, "in_progress", 30, fmt.Sprintf("%d fragments created", len(fragResult.Fragments)))

	var sess *enhance.Session
	if o.enhancer != nil && len(fragResult.Fragments) > 0 {
		sess = enhance.NewSession(req.Query)
		enhanced := o.enhancer.EnhanceAll(ctx, sess, fragResult.Fragments, targetProviders(fragResult.Fragments))
		for i, ef := range enhanced {
			fragResult.Fragments[i].Content = ef.Content
		}
	}

	decisions := o.runIntelligenceAnalysis(req, report, fragResult.Fragments)
	o.publishStep(req.RequestID, StageRouting, "in_progress", 45, "provider routing decisions computed")

	results, err := o.processFragments(ctx, req, fragResult.Fragments, decisions)
	if err != nil {
		o.publishStep(req.RequestID, StageFailed, "failed", 100, err.Error())
		o.metrics.record(false, time.Now())
		return nil, fmt.Errorf("orchestrate: request %s: %w", req.RequestID, err)
	}
	o.publishStep(req.RequestID, StageProcessing, "in_progress", 75, fmt.Sprintf("%d/%d fragments succeeded", len(results), len(fragResult.Fragments)))

	aggResults := make([]aggregate.FragmentResult, len(results))
	for i, r := range results {
		aggResults[i] = r.FragmentResult
	}

	var aggregated string
	if sess != nil && len(results) > 1 {
		responses := make([]string, len(results))
		for i, r := range results {
			responses[i] = r.Content
		}
		aggregated = o.enhancer.Aggregate(ctx, sess, responses)
	} else {
		aggregated = o.aggregator.Aggregate(aggResults, fragResult.Fragments, req.PrivacyLevel, fragResult.RedactionMap)
	}
	o.publishStep(req.RequestID, StageAggregation, "in_progress", 95, "responses aggregated")

	totalTime := float64(time.Since(start).Milliseconds())
	response := o.buildResponse(req, report, fragResult, results, aggregated, decisions, totalTime)

	o.metrics.record(true, time.Now())
	o.perfMonitor.Monitor(toPerfResults(results), totalTime)

	if o.kpiSink != nil {
		o.kpiSink(KPIEvent{
			RequestID:             response.RequestID,
			FragmentsProcessed:    response.FragmentsProcessed,
			PrivacyLevelAchieved:  response.PrivacyLevelAchieved,
			TotalCostEstimate:     response.TotalCostEstimate,
			TotalProcessingTimeMs: response.TotalProcessingTimeMs,
		})
	}

	o.publishStep(req.RequestID, StageCompleted, "completed", 100, "request completed")

	return response, nil
}

func (o *Orchestrator) runDetection(req Request) detect.Report {
	if !o.cfg.EnablePIIDetection && !o.cfg.EnableCodeDetection {
		return detect.Report{RecommendedStrategy: detect.StrategyNone}
	}
	return o.eng.Analyze(req.Query)
}

func (o *Orchestrator) runFragmentation(req Request, report detect.Report) fragment.Result {
	if req.FragmentationStrategy != "" {
		report.RecommendedStrategy = req.FragmentationStrategy
	}
	return o.fragmenter.Fragment(req.Query, report)
}

func (o *Orchestrator) runIntelligenceAnalysis(req Request, report detect.Report, fragments []fragment.Fragment) []intelligence.Decision {
	var decisions []intelligence.Decision

	if o.cfg.EnablePrivacyRouting {
		decisions = append(decisions, o.privacyIntel.AnalyzePrivacyRequirements(req.PrivacyLevel, req.UserLocation, report, fragments)...)
	}

	if o.cfg.EnableCostOptimization {
		available := map[string][]providers.ProviderType{}
		for _, f := range fragments {
			available[f.FragmentID] = pricing.GeneralProviders
		}
		decisions = append(decisions, o.costOptimizer.Optimize(fragments, available, o.cfg.MaxCostPerFragment, o.cfg.MaxTotalCost)...)
	}

	return decisions
}

// processFragments dispatches every fragment concurrently, bounded by
// MaxConcurrentRequests (the original's asyncio.Semaphore, expressed here
// via errgroup.Group.SetLimit). A fragment whose provider call fails is
// dropped and its error logged; the request only fails if every fragment
// failed.
func (o *Orchestrator) processFragments(ctx context.Context, req Request, fragments []fragment.Fragment, decisions []intelligence.Decision) ([]FragmentProcessingResult, error) {
	results := make([]*FragmentProcessingResult, len(fragments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.cfg.MaxConcurrentRequests, 1))

	for i, f := range fragments {
		i, f := i, f
		g.Go(func() error {
			result, err := o.processSingleFragment(gctx, req, f, decisions)
			if err != nil {
				log.Printf("orchestrate: fragment %s failed: %v", f.FragmentID, err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	var valid []FragmentProcessingResult
	for _, r := range results {
		if r != nil {
			valid = append(valid, *r)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("all fragments failed to process")
	}
	return valid, nil
}

func (o *Orchestrator) processSingleFragment(ctx context.Context, req Request, f fragment.Fragment, decisions []intelligence.Decision) (*FragmentProcessingResult, error) {
	start := time.Now()

	criteria := selectProviderForFragment(f, decisions, req, o.cfg)

	dispatchCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.RequestTimeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}

	resp, providerName, err := o.router.Dispatch(dispatchCtx, providers.CompletionRequest{
		Prompt:                   f.Content,
		FragmentID:               f.FragmentID,
		MaxTokens:                o.cfg.MaxFragmentSize,
		RequiresSensitiveHandling: requiresSensitiveHandling(f, req),
		Metadata: map[string]any{
			"fragment_type": string(f.FragmentType),
			"privacy_level": string(req.PrivacyLevel),
		},
	}, criteria)
	if err != nil {
		return nil, err
	}

	processingTime := float64(time.Since(start).Milliseconds())
	providerType := providers.ProviderType(strings.ToLower(providerName))

	return &FragmentProcessingResult{
		FragmentResult: aggregate.FragmentResult{
			FragmentID:       f.FragmentID,
			ProviderID:       providerName,
			Content:          resp.Content,
			ProcessingTimeMs: processingTime,
			PrivacyScore:     calculatePrivacyScore(providerType, f.FragmentType),
		},
		CostEstimate: pricing.Cost(providerType, resp.TokensUsed),
		TokensUsed:   resp.TokensUsed,
		FinishReason: resp.FinishReason,
	}, nil
}

// targetProviders derives the enhancer's per-fragment target from each
// fragment's provider hint, defaulting to OpenAI (the model the original
// system enhances every fragment for, regardless of eventual dispatch
// target) when a fragment carries no hint.
func targetProviders(fragments []fragment.Fragment) []providers.ProviderType {
	targets := make([]providers.ProviderType, len(fragments))
	for i, f := range fragments {
		if f.ProviderHint != "" {
			targets[i] = providers.ProviderType(f.ProviderHint)
		} else {
			targets[i] = providers.ProviderTypeOpenAI
		}
	}
	return targets
}

func requiresSensitiveHandling(f fragment.Fragment, req Request) bool {
	if f.FragmentType == fragment.TypePII || f.FragmentType == fragment.TypeCode {
		return true
	}
	return req.PrivacyLevel == intelligence.PrivacyLevelRestricted || req.PrivacyLevel == intelligence.PrivacyLevelTopSecret
}

func selectProviderForFragment(f fragment.Fragment, decisions []intelligence.Decision, req Request, cfg Config) providers.SelectionCriteria {
	for _, d := range decisions {
		if d.DecisionType != "provider_routing" {
			continue
		}
		if fragID, _ := d.Metadata["fragment_id"].(string); fragID != f.FragmentID {
			continue
		}
		names, _ := d.Metadata["recommended_providers"].([]string)
		if len(names) == 0 {
			continue
		}
		return providers.SelectionCriteria{
			PreferredProviders:   names,
			RequiredCapabilities: []providers.Capability{providers.CapabilityTextGeneration},
		}
	}

	if requiresSensitiveHandling(f, req) {
		return providers.SelectionCriteria{
			PreferredProviders:   providerTypeNames(cfg.SensitiveDataProviders),
			RequiredCapabilities: []providers.Capability{providers.CapabilityTextGeneration, providers.CapabilitySensitiveData},
		}
	}

	return providers.SelectionCriteria{RequiredCapabilities: []providers.Capability{providers.CapabilityTextGeneration}}
}

func providerTypeNames(pts []providers.ProviderType) []string {
	names := make([]string, len(pts))
	for i, pt := range pts {
		names[i] = string(pt)
	}
	return names
}

func calculatePrivacyScore(pt providers.ProviderType, ft fragment.Type) float64 {
	score := pricing.Privacy(pt)
	if ft == fragment.TypePII || ft == fragment.TypeCode {
		score *= 1.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (o *Orchestrator) buildResponse(req Request, report detect.Report, fragResult fragment.Result, results []FragmentProcessingResult, aggregated string, decisions []intelligence.Decision, totalTimeMs float64) *Response {
	providerSet := map[string]bool{}
	var totalCost float64
	var totalTokens int
	for _, r := range results {
		providerSet[r.ProviderID] = true
		totalCost += r.CostEstimate
		totalTokens += r.TokensUsed
	}

	var providersUsed []string
	for p := range providerSet {
		providersUsed = append(providersUsed, p)
	}

	return &Response{
		RequestID:             req.RequestID,
		AggregatedResponse:    aggregated,
		TotalProcessingTimeMs: totalTimeMs,
		FragmentsProcessed:    len(results),
		ProvidersUsed:         providersUsed,
		DetectionReport:       report,
		FragmentationStrategy: fragResult.Strategy,
		PrivacyLevelAchieved:  determineAchievedPrivacyLevel(req, results),
		TotalCostEstimate:     totalCost,
		TokensUsed:            totalTokens,
		FragmentResults:       results,
		IntelligenceDecisions: decisions,
	}
}

func determineAchievedPrivacyLevel(req Request, results []FragmentProcessingResult) intelligence.PrivacyLevel {
	if len(results) == 0 {
		return req.PrivacyLevel
	}
	highPrivacy := 0
	for _, r := range results {
		if r.PrivacyScore >= 0.8 {
			highPrivacy++
		}
	}
	switch {
	case highPrivacy == len(results):
		return intelligence.PrivacyLevelRestricted
	case float64(highPrivacy) >= float64(len(results))*0.7:
		return intelligence.PrivacyLevelConfidential
	default:
		return req.PrivacyLevel
	}
}

func toPerfResults(results []FragmentProcessingResult) []intelligence.FragmentResult {
	out := make([]intelligence.FragmentResult, len(results))
	for i, r := range results {
		out[i] = intelligence.FragmentResult{
			FragmentID:       r.FragmentID,
			ProviderID:       r.ProviderID,
			ProcessingTimeMs: r.ProcessingTimeMs,
			FinishReason:     r.FinishReason,
		}
	}
	return out
}

func generateRequestID() string {
	return fmt.Sprintf("req_%s", uuid.New().String())
}
