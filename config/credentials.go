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
	"context"
	"fmt"

	connconfig "github.com/mak-mm/privaguard/connectors/config"
)

// SecretResolver abstracts the one GetSecret call ResolveProviderAPIKey
// needs; `connectors/config`'s `AWSSecretsManager`, `EnvSecretsManager`
// and `LocalSecretsManager` all satisfy it.
type SecretResolver interface {
	GetSecret(ctx context.Context, secretARN string) (map[string]string, error)
}

// ResolveProviderAPIKey returns envValue unchanged if set (the common case:
// an operator set OPENAI_API_KEY/ANTHROPIC_API_KEY/GOOGLE_API_KEY directly).
// Otherwise, if a resolver and secret ARN are both given, it fetches the
// secret and reads its "api_key" field — the same field name
// `EnvSecretsManager.GetSecret`'s `fieldToKey("API_KEY")` produces — so a
// provider can be enabled purely from Secrets Manager with no env var at
// all.
func ResolveProviderAPIKey(ctx context.Context, envValue, secretARN string, resolver SecretResolver) (string, error) {
	if envValue != "" {
		return envValue, nil
	}
	if resolver == nil || secretARN == "" {
		return "", nil
	}
	secret, err := resolver.GetSecret(ctx, secretARN)
	if err != nil {
		return "", fmt.Errorf("config: resolve provider credential from secret %q: %w", secretARN, err)
	}
	return secret["api_key"], nil
}

// NewSecretResolver builds the production SecretResolver: AWS Secrets
// Manager in region, falling back to reading the same-named environment
// variables (`connectors/config.NewEnvSecretsManager`) when no AWS_REGION
// is configured, so local development never needs real AWS credentials.
func NewSecretResolver(ctx context.Context, region string) (SecretResolver, error) {
	if region == "" {
		return connconfig.NewEnvSecretsManager(nil), nil
	}
	return connconfig.NewAWSSecretsManager(ctx, connconfig.AWSSecretsManagerOptions{Region: region})
}
