// Package masking redacts secret-like values from diagnostic text before it
// is hashed, stored or handed to an LLM.
//
// Two layers run in order:
//
//  1. Key-based: known secret key names (api_key, password, token, ...)
//     followed by a value of 8+ non-delimiter characters; the value is
//     replaced, the key is kept.
//  2. Prefix-based: well-known secret prefixes (sk-, AIza, Bearer, ghp_,
//     xoxb-, ...) are replaced wherever they appear, no key required.
//
// Redaction deliberately maps different secrets to the same output. Report
// hashes built over redacted text identify diagnostic state, not secret
// values; they are not security tokens.
package masking

import "regexp"

const redactedPlaceholder = "[REDACTED]"

// CompiledPattern is a pre-compiled redaction rule.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

var builtinPatterns = []*CompiledPattern{
	{
		Name: "secret_key_value",
		Regex: regexp.MustCompile(`(?i)` +
			`((?:api[_-]?key|secret[_-]?key|token|password|passwd|auth[_-]?token` +
			`|access[_-]?key|private[_-]?key|credentials?|secret)` +
			`(?:\\"|"|'|=|:|\s)*)` + // key + separators, including escaped quotes
			`([^\s",}{\\]{8,})`), // value: 8+ non-delimiter chars
		Replacement: "${1}" + redactedPlaceholder,
		Description: "Values following known secret key names",
	},
	{
		Name: "secret_prefix",
		Regex: regexp.MustCompile(`(?:sk-[a-zA-Z0-9_-]{20,})` + // OpenAI keys
			`|(?:AIza[a-zA-Z0-9_-]{30,})` + // Google API keys
			`|(?:Bearer\s+[a-zA-Z0-9._-]{20,})` + // Bearer tokens
			`|(?:ghp_[a-zA-Z0-9]{36,})` + // GitHub PAT
			`|(?:gho_[a-zA-Z0-9]{36,})` + // GitHub OAuth
			`|(?:xoxb-[a-zA-Z0-9-]{20,})` + // Slack bot tokens
			`|(?:xoxp-[a-zA-Z0-9-]{20,})`), // Slack user tokens
		Replacement: redactedPlaceholder,
		Description: "Well-known secret prefixes, matched anywhere",
	},
}

// Redact replaces secret-like content in text with [REDACTED].
func Redact(text string) string {
	for _, p := range builtinPatterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}

// Patterns returns the built-in redaction rules, mainly for listings.
func Patterns() []*CompiledPattern {
	out := make([]*CompiledPattern, len(builtinPatterns))
	copy(out, builtinPatterns)
	return out
}
