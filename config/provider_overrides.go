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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mak-mm/privaguard/pricing"
	"github.com/mak-mm/privaguard/providers"
)

// providerWeightFile is the on-disk shape of an optional static cost/privacy
// table, grounded on `connectors/config/file_loader.go`'s YAMLConfigFileLoader
// pattern. Keyed by provider type name ("openai", "anthropic", ...); a
// provider omitted from a field keeps pricing's built-in value for it.
type providerWeightFile struct {
	Providers map[string]struct {
		Cost        *float64 `yaml:"cost_per_1k_tokens,omitempty"`
		Privacy     *float64 `yaml:"privacy_score,omitempty"`
		Performance *float64 `yaml:"performance_score,omitempty"`
	} `yaml:"providers"`
}

// LoadProviderOverrides reads path (a providers.yaml-shaped file) and applies
// it to pricing's package-level cost/privacy/performance tables. A missing
// path is not an error: the static table is optional and pricing's built-in
// defaults stand on their own.
func LoadProviderOverrides(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read provider overrides %q: %w", path, err)
	}

	var file providerWeightFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("config: parse provider overrides %q: %w", path, err)
	}

	overrides := pricing.Overrides{
		Cost:        map[providers.ProviderType]float64{},
		Privacy:     map[providers.ProviderType]float64{},
		Performance: map[providers.ProviderType]float64{},
	}
	for name, weights := range file.Providers {
		pt := providers.ProviderType(name)
		if weights.Cost != nil {
			overrides.Cost[pt] = *weights.Cost
		}
		if weights.Privacy != nil {
			overrides.Privacy[pt] = *weights.Privacy
		}
		if weights.Performance != nil {
			overrides.Performance[pt] = *weights.Performance
		}
	}
	pricing.ApplyOverrides(overrides)
	return nil
}
