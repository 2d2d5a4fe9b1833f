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

// Package detect assembles the detection report (C1): it runs the PII,
// code and entity analyzers in parallel over a query and derives a
// sensitivity score and recommended fragmentation strategy from their
// output.
package detect

// PIIType is a closed set of recognized PII kinds.
type PIIType string

const (
	PIITypeSSN           PIIType = "ssn"
	PIITypeCreditCard    PIIType = "credit_card"
	PIITypeEmail         PIIType = "email"
	PIITypePhone         PIIType = "phone"
	PIITypeIPAddress     PIIType = "ip_address"
	PIITypeBankAccount   PIIType = "bank_account"
	PIITypeIBAN          PIIType = "iban"
	PIITypePassport      PIIType = "passport"
	PIITypeDriverLicense PIIType = "driver_license"
	PIITypeMedicalLicense PIIType = "medical_license"
	PIITypeLocation      PIIType = "location"
	PIITypePerson        PIIType = "person"
)

// highRiskPII always contributes to pii_factor's high-risk count and is
// always "significant" regardless of context (spec §4.1, §4.2).
var highRiskPII = map[PIIType]bool{
	PIITypeSSN:            true,
	PIITypeCreditCard:     true,
	PIITypeBankAccount:    true,
	PIITypeEmail:          true,
	PIITypePhone:          true,
	PIITypeDriverLicense:  true,
	PIITypePassport:       true,
	PIITypeMedicalLicense: true,
	PIITypeIPAddress:      true,
}

// Span is one analyzer's detection of a range of the query.
type Span struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Kind  string  `json:"kind"`
	Score float64 `json:"score"`
}

// PIISpan is a Span produced by the PII analyzer, carrying its typed kind
// and the matched text (the detection report keeps the original text only
// transiently; it is never persisted to the cache store).
type PIISpan struct {
	Span
	Type  PIIType `json:"type"`
	Value string  `json:"value"`
}

// CodeBlock is one span the code analyzer classified as source code.
type CodeBlock struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// CodeDetection summarizes the code analyzer's pass over the whole query.
type CodeDetection struct {
	HasCode    bool        `json:"has_code"`
	Language   string      `json:"language"`
	Confidence float64     `json:"confidence"`
	Blocks     []CodeBlock `json:"blocks"`
}

// Entity is a named entity found by the entity recognizer.
type Entity struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
}

// sensitiveEntityLabels increase entity_factor; mirrors spaCy's commonly
// privacy-relevant label set in the absence of a full NER model.
var sensitiveEntityLabels = map[string]bool{
	"PERSON": true, "ORG": true, "GPE": true, "MONEY": true, "FAC": true, "PRODUCT": true,
}

// SensitivityFactors are the four [0,1] components combined into the
// overall sensitivity score (spec §4.1).
type SensitivityFactors struct {
	PIIFactor     float64 `json:"pii_factor"`
	CodeFactor    float64 `json:"code_factor"`
	EntityFactor  float64 `json:"entity_factor"`
	KeywordFactor float64 `json:"keyword_factor"`
}

// Overall computes the weighted sensitivity score from its four factors.
func (f SensitivityFactors) Overall() float64 {
	return 0.35*f.PIIFactor + 0.25*f.CodeFactor + 0.15*f.EntityFactor + 0.25*f.KeywordFactor
}

// Strategy is the fragmentation strategy recommended by the detection
// report and selected by the fragmenter (spec §4.2).
type Strategy string

const (
	StrategyNone             Strategy = "none"
	StrategyPIIIsolation     Strategy = "pii_isolation"
	StrategyCodeIsolation    Strategy = "code_isolation"
	StrategySemanticSplit    Strategy = "semantic_split"
	StrategyMaximumIsolation Strategy = "maximum_isolation"
	StrategyLengthBased      Strategy = "length_based"
)

// Report is the detection report (C1): the unified view of a query's
// sensitivity, consumed by the fragmenter and the intelligence layer.
type Report struct {
	HasPII               bool               `json:"has_pii"`
	PIISpans             []PIISpan          `json:"pii_spans"`
	PIIDensity           float64            `json:"pii_density"`
	Code                 CodeDetection      `json:"code_detection"`
	Entities             []Entity           `json:"named_entities"`
	Factors              SensitivityFactors `json:"sensitivity_factors"`
	SensitivityScore     float64            `json:"sensitivity_score"`
	RecommendedStrategy  Strategy           `json:"recommended_strategy"`
	RequiresOrchestrator bool               `json:"requires_orchestrator"`
	AnalyzerTimeMs       float64            `json:"analyzer_time_ms"`
}
