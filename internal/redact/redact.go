// Package redact scrubs secrets from error text before storage or
// transmission.
package redact

import "regexp"

var patterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	// Authorization headers and bearer tokens.
	{regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)[^\s,;]+`), `$1[REDACTED]`},
	{regexp.MustCompile(`(?i)(bearer\s+)[^\s,;]+`), `$1[REDACTED]`},
	// Common secret key/value pairs.
	{regexp.MustCompile(`(?i)\b(token|access_token|refresh_token|api_key|secret)\s*[:=]\s*[^\s,;]+`), `$1=[REDACTED]`},
}

func Secrets(text string) string {
	out := text
	for _, p := range patterns {
		out = p.re.ReplaceAllString(out, p.repl)
	}
	return out
}
