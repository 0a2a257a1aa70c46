package redact

import (
	"strings"
	"testing"
)

func TestSecrets(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		hidden string
	}{
		{"bearer token", "request failed: Authorization: Bearer sk-abc123xyz", "sk-abc123xyz"},
		{"bare bearer", "401 with bearer tok_55555 rejected", "tok_55555"},
		{"token pair", "retry failed token=secret-value-1 status=500", "secret-value-1"},
		{"api key pair", "api_key: AKIA99999 not accepted", "AKIA99999"},
		{"access token", "access_token=ya29.abcdef expired", "ya29.abcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Secrets(tt.input)
			if strings.Contains(out, tt.hidden) {
				t.Errorf("secret %q leaked in %q", tt.hidden, out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("expected [REDACTED] marker in %q", out)
			}
		})
	}
}

func TestSecretsLeavesPlainTextAlone(t *testing.T) {
	input := "connection reset by peer after 30s"
	if out := Secrets(input); out != input {
		t.Errorf("plain error mangled: %q", out)
	}
}
