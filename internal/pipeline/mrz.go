package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/docintel/internal/model"
)

// ICAO 9303 TD3 second line layout (44 chars):
//
//	0-8   document number
//	9     document number check digit
//	10-12 nationality
//	13-18 birth date YYMMDD
//	19    birth date check digit
//	20    sex
//	21-26 expiry date YYMMDD
//	27    expiry date check digit
//	28-41 personal number
//	42    personal number check digit
//	43    composite check digit
const mrzLineLength = 44

var mrzWeights = [3]int{7, 3, 1}

// mrzCharValue maps an MRZ character to its numeric value: digits as-is,
// A-Z as 10-35, filler '<' as 0.
func mrzCharValue(ch byte) (int, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0'), true
	case ch >= 'A' && ch <= 'Z':
		return int(ch-'A') + 10, true
	case ch == '<':
		return 0, true
	default:
		return 0, false
	}
}

// mrzCheckDigit computes the weighted mod-10 check digit over s.
func mrzCheckDigit(s string) (int, error) {
	sum := 0
	for i := 0; i < len(s); i++ {
		v, ok := mrzCharValue(s[i])
		if !ok {
			return 0, fmt.Errorf("invalid MRZ character %q at position %d", s[i], i)
		}
		sum += v * mrzWeights[i%3]
	}
	return sum % 10, nil
}

// checkMRZRange verifies that the check digit at position digitPos validates
// the range [start,end).
func checkMRZRange(line string, start, end, digitPos int, what string) *model.QAIssue {
	expected, err := mrzCheckDigit(line[start:end])
	if err != nil {
		return &model.QAIssue{
			Field:    "mrz_line2",
			Severity: model.SeverityError,
			Type:     "mrz_checksum",
			Message:  fmt.Sprintf("MRZ %s: %v", what, err),
		}
	}
	ch := line[digitPos]
	// '<' stands in for check digit 0 in the personal number field only.
	if ch == '<' && what == "personal number" {
		ch = '0'
	}
	if ch < '0' || ch > '9' {
		return &model.QAIssue{
			Field:    "mrz_line2",
			Severity: model.SeverityError,
			Type:     "mrz_checksum",
			Message:  fmt.Sprintf("MRZ %s check digit is not a digit", what),
		}
	}
	if int(ch-'0') != expected {
		return &model.QAIssue{
			Field:    "mrz_line2",
			Severity: model.SeverityError,
			Type:     "mrz_checksum",
			Message:  fmt.Sprintf("MRZ %s checksum mismatch: expected %d, found %c", what, expected, line[digitPos]),
		}
	}
	return nil
}

// validateMRZ checks a TD3 second line: per-range check digits, the
// composite digit, and a cross-check of the encoded document number against
// the independently extracted one.
func validateMRZ(line, extractedDocNumber string) []model.QAIssue {
	line = strings.ToUpper(strings.TrimSpace(line))

	if len(line) != mrzLineLength {
		return []model.QAIssue{{
			Field:    "mrz_line2",
			Severity: model.SeverityError,
			Type:     "mrz_format",
			Message:  fmt.Sprintf("MRZ line must be %d characters, got %d", mrzLineLength, len(line)),
		}}
	}
	for i := 0; i < len(line); i++ {
		if _, ok := mrzCharValue(line[i]); !ok {
			return []model.QAIssue{{
				Field:    "mrz_line2",
				Severity: model.SeverityError,
				Type:     "mrz_format",
				Message:  fmt.Sprintf("MRZ contains invalid character %q at position %d", line[i], i),
			}}
		}
	}

	var issues []model.QAIssue
	if issue := checkMRZRange(line, 0, 9, 9, "document number"); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := checkMRZRange(line, 13, 19, 19, "birth date"); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := checkMRZRange(line, 21, 27, 27, "expiry date"); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := checkMRZRange(line, 28, 42, 42, "personal number"); issue != nil {
		issues = append(issues, *issue)
	}

	// Composite digit covers document number, birth, expiry, and personal
	// number ranges including their own check digits.
	composite := line[0:10] + line[13:20] + line[21:43]
	if issue := checkMRZComposite(composite, line[43]); issue != nil {
		issues = append(issues, *issue)
	}

	if extractedDocNumber != "" {
		mrzDoc := strings.TrimRight(line[0:9], "<")
		cleaned := strings.ToUpper(strings.TrimSpace(extractedDocNumber))
		if mrzDoc != "" && mrzDoc != cleaned {
			issues = append(issues, model.QAIssue{
				Field:    "passport_number",
				Severity: model.SeverityError,
				Type:     "cross_field_mismatch",
				Message:  fmt.Sprintf("MRZ document number %q does not match extracted %q", mrzDoc, cleaned),
			})
		}
	}

	return issues
}

func checkMRZComposite(composite string, digit byte) *model.QAIssue {
	expected, err := mrzCheckDigit(composite)
	if err != nil {
		return &model.QAIssue{
			Field:    "mrz_line2",
			Severity: model.SeverityError,
			Type:     "mrz_checksum",
			Message:  fmt.Sprintf("MRZ composite: %v", err),
		}
	}
	got, _ := mrzCharValue(digit)
	if digit == '<' || got != expected {
		return &model.QAIssue{
			Field:    "mrz_line2",
			Severity: model.SeverityError,
			Type:     "mrz_checksum",
			Message:  fmt.Sprintf("MRZ composite checksum mismatch: expected %d, found %c", expected, digit),
		}
	}
	return nil
}
