package masking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactKeyValuePairs(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{"env assignment", "API_KEY=supersecretvalue123", "supersecretvalue123"},
		{"yaml style", "password: hunter2hunter2", "hunter2hunter2"},
		{"json field", `{"auth_token": "abcdef1234567890"}`, "abcdef1234567890"},
		{"mixed case", "Secret-Key = VeryLongSecretValue", "VeryLongSecretValue"},
		{"credentials", "credentials=dbuser:dbpass123", "dbuser:dbpass123"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Redact(tc.input)
			assert.NotContains(t, out, tc.secret)
			assert.Contains(t, out, "[REDACTED]")
		})
	}
}

func TestRedactKeepsKeyNames(t *testing.T) {
	out := Redact("api_key=abcdefgh12345678")
	assert.Contains(t, out, "api_key=")
	assert.Equal(t, "api_key=[REDACTED]", out)
}

func TestRedactWellKnownPrefixes(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"openai key", "using sk-" + strings.Repeat("a", 24) + " for calls"},
		{"google key", "key AIza" + strings.Repeat("b", 32) + " found"},
		{"bearer token", "Authorization header Bearer " + strings.Repeat("c", 24)},
		{"github pat", "pushed with ghp_" + strings.Repeat("d", 36)},
		{"slack bot", "bot xoxb-" + strings.Repeat("1", 24) + " connected"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Redact(tc.input)
			assert.Contains(t, out, "[REDACTED]")
			assert.NotContains(t, out, strings.Repeat("a", 24))
			assert.NotContains(t, out, strings.Repeat("c", 24))
		})
	}
}

func TestRedactLeavesOrdinaryTextAlone(t *testing.T) {
	tests := []string{
		"the database connection failed after 3 retries",
		"file src/main.py modified",
		"health_pct is 87.5",
		"short key=abc", // value under 8 chars
	}
	for _, input := range tests {
		assert.Equal(t, input, Redact(input))
	}
}

func TestRedactInsideJSONReport(t *testing.T) {
	input := `{"checks":[{"name":"env_secrets","message":"found OPENAI_API_KEY=sk-` +
		strings.Repeat("x", 24) + `","status":"FAIL"}]}`

	out := Redact(input)

	assert.NotContains(t, out, "sk-"+strings.Repeat("x", 10))
	assert.Contains(t, out, `"name":"env_secrets"`)
}

func TestPatternsReturnsCopies(t *testing.T) {
	patterns := Patterns()
	assert.Len(t, patterns, 2)
	patterns[0] = nil
	assert.NotNil(t, Patterns()[0])
}
