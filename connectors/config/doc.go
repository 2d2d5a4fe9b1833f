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

/*
Package config resolves LLM provider credentials that aren't present in the
environment.

# Overview

privaguard/config.Load reads provider API keys directly from the environment
(OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY). This package backs the
fallback path: a deployment that instead stores provider credentials in AWS
Secrets Manager.

	resolver, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{
	    Region: "us-east-1",
	})
	secret, err := resolver.GetSecret(ctx, "arn:aws:secretsmanager:...:provider/openai")
	apiKey := secret["api_key"]

EnvSecretsManager and LocalSecretsManager provide the same GetSecret contract
without an AWS dependency, for local development and tests.
*/
package config
