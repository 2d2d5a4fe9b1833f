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

// Provider is the contract every LLM adapter (C4) must satisfy. Implementations
// live in the openai, anthropic, gemini and bedrock subpackages.
type Provider interface {
	Name() string
	Type() ProviderType
	Generate(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	HealthCheck(ctx context.Context) (HealthStatus, error)
	Capabilities() []Capability
	EstimateCost(tokens int) float64
	EstimateTokens(text string) int
	SupportsStreaming() bool
}

// HasCapability reports whether p advertises cap among its Capabilities().
func HasCapability(p Provider, cap Capability) bool {
	for _, c := range p.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}
