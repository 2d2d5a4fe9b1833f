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

package detect

import (
	"regexp"
	"strconv"
)

// PIIAnalyzer is the consumed interface over the PII span detector
// (spec §6, out-of-scope collaborator). RegexPIIAnalyzer below is this
// module's concrete default implementation.
type PIIAnalyzer interface {
	Detect(text string) []PIISpan
}

type piiPattern struct {
	typ       PIIType
	pattern   *regexp.Regexp
	validator func(match string) (bool, float64)
}

// RegexPIIAnalyzer detects structured PII via pattern matching plus
// per-type validators (Luhn for credit cards, MOD-97 for IBAN, the ABA
// routing checksum for bank accounts).
type RegexPIIAnalyzer struct {
	patterns []piiPattern
}

// NewRegexPIIAnalyzer builds a RegexPIIAnalyzer with the full default
// pattern set.
func NewRegexPIIAnalyzer() *RegexPIIAnalyzer {
	return &RegexPIIAnalyzer{patterns: []piiPattern{
		{PIITypeSSN, regexp.MustCompile(`\b(\d{3})[- ]?(\d{2})[- ]?(\d{4})\b`), validateSSN},
		{PIITypeCreditCard, regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b|\b(?:\d[ -]?){13,16}\b`), validateCreditCard},
		{PIITypeEmail, regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), validateEmail},
		{PIITypePhone, regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`), validatePhone},
		{PIITypeIPAddress, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`), validateIPAddress},
		{PIITypeIBAN, regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Z0-9]{4}[0-9]{7}(?:[A-Z0-9]?){0,16}\b`), validateIBAN},
		{PIITypePassport, regexp.MustCompile(`\b[A-Z][0-9]{7,8}\b`), func(m string) (bool, float64) { return true, 0.6 }},
		{PIITypeDriverLicense, regexp.MustCompile(`\b[A-Z]{1,2}[0-9]{6,8}\b`), func(m string) (bool, float64) { return true, 0.55 }},
		{PIITypeMedicalLicense, regexp.MustCompile(`\bME?D?-?[0-9]{6,8}\b`), func(m string) (bool, float64) { return true, 0.5 }},
		{PIITypeBankAccount, regexp.MustCompile(`\b[0-9]{9}[- ]?[0-9]{8,17}\b`), validateBankAccount},
	}}
}

// Detect implements PIIAnalyzer, running every pattern and keeping only
// validator-confirmed matches, deduplicated by (start, end, kind).
func (a *RegexPIIAnalyzer) Detect(text string) []PIISpan {
	type spanKey struct {
		start, end int
		kind       string
	}
	seen := make(map[spanKey]bool)
	var out []PIISpan
	for _, p := range a.patterns {
		for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			ok, score := p.validator(match)
			if !ok {
				continue
			}
			key := spanKey{loc[0], loc[1], string(p.typ)}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, PIISpan{
				Span:  Span{Start: loc[0], End: loc[1], Kind: string(p.typ), Score: score},
				Type:  p.typ,
				Value: match,
			})
		}
	}
	return out
}

func validateSSN(match string) (bool, float64) {
	digits := onlyDigits(match)
	if len(digits) != 9 {
		return false, 0
	}
	if digits[:3] == "000" || digits[:3] == "666" || digits[0] == '9' {
		return false, 0
	}
	if digits[3:5] == "00" || digits[5:] == "0000" {
		return false, 0
	}
	if isRepeatedDigits(digits) {
		return false, 0
	}
	return true, 0.85
}

func validateCreditCard(match string) (bool, float64) {
	digits := onlyDigits(match)
	if len(digits) < 13 || len(digits) > 19 {
		return false, 0
	}
	if !luhnCheck(digits) {
		return false, 0
	}
	return true, 0.95
}

func luhnCheck(number string) bool {
	sum := 0
	alt := false
	for i := len(number) - 1; i >= 0; i-- {
		d, err := strconv.Atoi(string(number[i]))
		if err != nil {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

func validateEmail(match string) (bool, float64) { return true, 0.9 }

func validatePhone(match string) (bool, float64) {
	digits := onlyDigits(match)
	if len(digits) < 10 || len(digits) > 11 {
		return false, 0
	}
	return true, 0.75
}

func validateIPAddress(match string) (bool, float64) { return true, 0.7 }

func validateIBAN(match string) (bool, float64) {
	if !ibanChecksum(match) {
		return false, 0
	}
	return true, 0.9
}

// ibanChecksum implements the MOD-97-10 check (ISO 7064).
func ibanChecksum(iban string) bool {
	if len(iban) < 15 {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	var numeric string
	for _, c := range rearranged {
		if c >= 'A' && c <= 'Z' {
			numeric += strconv.Itoa(int(c-'A') + 10)
		} else {
			numeric += string(c)
		}
	}
	remainder := 0
	for _, c := range numeric {
		d := int(c - '0')
		remainder = (remainder*10 + d) % 97
	}
	return remainder == 1
}

func validateBankAccount(match string) (bool, float64) {
	digits := onlyDigits(match)
	if len(digits) < 9 {
		return false, 0
	}
	if !abaRoutingChecksum(digits[:9]) {
		return true, 0.5 // still plausible as a bare account number, lower confidence
	}
	return true, 0.8
}

// abaRoutingChecksum implements the ABA routing-number checksum.
func abaRoutingChecksum(routing string) bool {
	if len(routing) != 9 {
		return false
	}
	weights := [9]int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	sum := 0
	for i, c := range routing {
		d := int(c - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * weights[i]
	}
	return sum%10 == 0
}

func isRepeatedDigits(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

func onlyDigits(s string) string {
	out := make([]byte, 0, len(s))
	for _, c := range s {
		if c >= '0' && c <= '9' {
			out = append(out, byte(c))
		}
	}
	return string(out)
}
