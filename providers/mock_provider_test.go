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

import "context"

// mockProvider is a minimal in-package test double; it does not need
// testify/mock's call-expectation machinery since these tests only check
// routing/registry behavior, not call arguments.
type mockProvider struct {
	name         string
	typ          ProviderType
	caps         []Capability
	failNext     bool
	failAlways   bool
	generateFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

func (m *mockProvider) Name() string             { return m.name }
func (m *mockProvider) Type() ProviderType       { return m.typ }
func (m *mockProvider) Capabilities() []Capability { return m.caps }
func (m *mockProvider) SupportsStreaming() bool  { return false }
func (m *mockProvider) EstimateCost(tokens int) float64 { return 0 }
func (m *mockProvider) EstimateTokens(text string) int  { return len(text)/4 + 10 }

func (m *mockProvider) HealthCheck(ctx context.Context) (HealthStatus, error) {
	return HealthAvailable, nil
}

func (m *mockProvider) Generate(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	if m.failAlways || m.failNext {
		m.failNext = false
		return nil, NewProviderError(m.name, ErrKindServer, "mock failure", nil)
	}
	return &CompletionResponse{Content: "ok from " + m.name}, nil
}
