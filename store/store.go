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

// Package store implements the short-lived result cache (C9's KV store):
// a `query:{request_id}` keyed record of a request's status, progress and
// (once complete) its result, with a default Redis-backed implementation
// and an in-memory fallback for when no Redis endpoint is configured.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// stateTTL matches the original system's 3600-second Redis expiry for
// query state.
const stateTTL = 1 * time.Hour

// Status is the closed set of a query's lifecycle states as reported by
// the status-polling endpoint.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Result is the subset of an orchestration response worth caching for
// later retrieval by the status endpoint. It deliberately carries no
// redaction map: that map exists only for the duration of one request's
// in-process aggregation and must never be persisted.
type Result struct {
	AggregatedResponse   string   `json:"aggregated_response"`
	PrivacyScore         float64  `json:"privacy_score"`
	TotalCostEstimate    float64  `json:"total_cost_estimate"`
	ProvidersUsed        []string `json:"providers_used"`
	FragmentsProcessed   int      `json:"fragments_processed"`
	PrivacyLevelAchieved string   `json:"privacy_level_achieved"`
}

// QueryState is the full `query:{request_id}` record.
type QueryState struct {
	RequestID     string    `json:"request_id"`
	Status        Status    `json:"status"`
	OriginalQuery string    `json:"original_query"`
	Progress      float64   `json:"progress"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Result        *Result   `json:"result,omitempty"`
}

// ErrNotFound is returned when a request ID has no cached state, either
// because it never existed or its TTL already expired.
var ErrNotFound = errors.New("store: no state found for request")

// Store is the KV cache contract the HTTP surface polls for request
// status and the analyze handler writes to.
type Store interface {
	SaveState(ctx context.Context, state QueryState) error
	GetState(ctx context.Context, requestID string) (*QueryState, error)
	DeleteState(ctx context.Context, requestID string) error
}

func key(requestID string) string { return fmt.Sprintf("query:%s", requestID) }

// RedisStore is the default Store, backed by a go-redis/v8 client
// (grounded on `agent/redis_rate_limit.go`'s `initRedis`/pipeline idiom).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-connected Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Connect parses redisURL and builds a RedisStore, pinging the server
// once to fail fast on a bad configuration.
func Connect(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("store: connect to redis: %w", err)
	}
	return NewRedisStore(client), nil
}

// SaveState writes state under `query:{request_id}` with a 1-hour expiry.
func (s *RedisStore) SaveState(ctx context.Context, state QueryState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: marshal state: %w", err)
	}
	if err := s.client.Set(ctx, key(state.RequestID), raw, stateTTL).Err(); err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	return nil
}

// GetState reads and unmarshals the state for requestID.
func (s *RedisStore) GetState(ctx context.Context, requestID string) (*QueryState, error) {
	raw, err := s.client.Get(ctx, key(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get state: %w", err)
	}

	var state QueryState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("store: unmarshal state: %w", err)
	}
	return &state, nil
}

// DeleteState removes requestID's cached state (admin/cleanup operation).
func (s *RedisStore) DeleteState(ctx context.Context, requestID string) error {
	if err := s.client.Del(ctx, key(requestID)).Err(); err != nil {
		return fmt.Errorf("store: delete state: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

// MemoryStore is an in-process fallback used when no Redis endpoint is
// configured (mirroring `checkRateLimitRedis`'s own in-memory fallback
// when `redisClient == nil`). Not suitable for a multi-instance deployment.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]QueryState
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]QueryState)}
}

// SaveState stores state in-process. Expiry is not enforced here; the
// memory store is intended for single-instance/dev use where an
// unbounded-lifetime cache is an acceptable tradeoff.
func (m *MemoryStore) SaveState(ctx context.Context, state QueryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.RequestID] = state
	return nil
}

// GetState returns the stored state for requestID, or ErrNotFound.
func (m *MemoryStore) GetState(ctx context.Context, requestID string) (*QueryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return &state, nil
}

// DeleteState removes requestID's in-process state.
func (m *MemoryStore) DeleteState(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, requestID)
	return nil
}
