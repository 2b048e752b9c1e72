package service

import "regexp"

// Verification-code extraction from free-text SMS bodies, in priority order:
// explicit keyword forms first, then the first bare 4-6 digit run. A message
// with no keyword and no run of at least four digits yields no code.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)code\s+is\s+(\d+)`),
	regexp.MustCompile(`(?i)verification\s+code[:\s]+(\d+)`),
	regexp.MustCompile(`(?i)otp\s+is\s+(\d+)`),
	regexp.MustCompile(`(?i)otp[:\s]+(\d+)`),
	regexp.MustCompile(`(\d{4,6})`),
}

// ExtractVerificationCode returns the code found in text, or "" when none
// matches. Callers prefer a structured code field on the message when present.
func ExtractVerificationCode(text string) string {
	for _, pattern := range codePatterns {
		if match := pattern.FindStringSubmatch(text); match != nil {
			return match[1]
		}
	}
	return ""
}
