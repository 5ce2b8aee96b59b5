package security

import (
	"encoding/base64"
	"log/slog"
	"regexp"
	"strings"
)

// Blocking notices. When an output is replaced wholesale, the original
// text is never returned in any form.
const (
	NoticeEncodedSecrets = "🚫 Output blocked: contains encoded sensitive data"
	NoticeEnvDump        = "🚫 Output blocked: contains an environment variable dump"
)

var (
	base64Run    = regexp.MustCompile(`[A-Za-z0-9+/_=-]{40,}`)
	jsonEnvKey   = regexp.MustCompile(`"([A-Z][A-Z0-9_]{2,})"\s*:`)
	shellEnvLine = regexp.MustCompile(`(?m)^[A-Z][A-Z0-9_]{2,}=\S`)

	// shapes looked for inside speculatively decoded base64
	decodedKeyShape   = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`)
	decodedBotToken   = regexp.MustCompile(`\d{8,10}:[A-Za-z0-9_-]{30,}`)
	decodedHostPort   = regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}:\d{2,5}`)
	decodedIndicators = []string{"API_KEY", "TOKEN", "SECRET", "TELEGRAM", "ZAI_", "PASSWORD", "CREDENTIAL", "AA"}
)

// secretEnvNames flags a JSON env dump as sensitive. A benign JSON
// object with many uppercase keys passes unless one of these appears.
var secretEnvNames = []string{
	"KEY", "TOKEN", "SECRET", "PASSWORD", "PASSWD", "CREDENTIAL", "AUTH", "DSN", "PRIVATE",
}

// Sanitizer scrubs credentials and obfuscated secret dumps from tool
// output before the agent or the user sees it. It runs on every
// output, including output that already came from the sandbox:
// defense in depth, not trust in the first layer.
type Sanitizer struct {
	lib    *Library
	logger *slog.Logger
}

func NewSanitizer(lib *Library) *Sanitizer {
	return &Sanitizer{
		lib:    lib,
		logger: slog.With("component", "sanitizer"),
	}
}

// Sanitize returns a safe rendition of the text: the text itself, a
// redacted copy, or a blocking notice when the whole output is an
// encoded secret or an env dump.
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return text
	}

	if s.hasEncodedSecrets(text) {
		s.logger.Warn("output replaced: encoded secrets detected", "len", len(text))
		return NoticeEncodedSecrets
	}

	if s.isEnvDump(text) {
		s.logger.Warn("output replaced: env dump detected", "len", len(text))
		return NoticeEnvDump
	}

	return s.redact(text)
}

// hasEncodedSecrets speculatively decodes every 40+ character base64
// run and checks the plaintext for secret indicators. A bot token fits
// in ~70 encoded characters, so the threshold sits well below that.
// Standard and URL-safe alphabets are tried, padded and raw.
func (s *Sanitizer) hasEncodedSecrets(text string) bool {
	for _, run := range base64Run.FindAllString(text, -1) {
		decoded, ok := decodeBase64(run)
		if !ok {
			continue
		}
		if decodedLooksSensitive(string(decoded)) {
			return true
		}
	}
	return false
}

func decodeBase64(run string) ([]byte, bool) {
	if d, err := base64.StdEncoding.DecodeString(run); err == nil {
		return d, true
	}
	if d, err := base64.URLEncoding.DecodeString(run); err == nil {
		return d, true
	}
	trimmed := strings.TrimRight(run, "=")
	if d, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return d, true
	}
	if d, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return d, true
	}
	return nil, false
}

func decodedLooksSensitive(plain string) bool {
	upper := strings.ToUpper(plain)
	for _, ind := range decodedIndicators {
		if ind == "AA" {
			// "AA" alone is too common; require it in a token position.
			if strings.Contains(plain, ":AA") {
				return true
			}
			continue
		}
		if strings.Contains(upper, ind) {
			return true
		}
	}
	return decodedKeyShape.MatchString(plain) ||
		decodedBotToken.MatchString(plain) ||
		decodedHostPort.MatchString(plain)
}

// isEnvDump detects whole-environment dumps in either JSON-object or
// shell NAME=value shape. More than five env-style keys plus at least
// one secret-suggesting name means the output is a dump, not a
// coincidence.
func (s *Sanitizer) isEnvDump(text string) bool {
	if keys := jsonEnvKey.FindAllStringSubmatch(text, -1); len(keys) > 5 {
		for _, k := range keys {
			if nameSuggestsSecret(k[1]) {
				return true
			}
		}
	}
	if lines := shellEnvLine.FindAllString(text, -1); len(lines) > 5 {
		return true
	}
	return false
}

func nameSuggestsSecret(name string) bool {
	for _, frag := range secretEnvNames {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}

// redact applies the secret-value regexes. Key=value shapes keep the
// key name; raw key shapes keep a 4-character prefix so the operator
// can identify which credential was exposed.
func (s *Sanitizer) redact(text string) string {
	redactions := 0
	for _, rule := range s.lib.Current().Secrets {
		switch {
		case rule.KeyValue:
			text = rule.Pattern.ReplaceAllStringFunc(text, func(m string) string {
				redactions++
				if idx := strings.IndexAny(m, "=:"); idx >= 0 {
					return m[:idx+1] + "[REDACTED]"
				}
				return "[REDACTED]"
			})
		case rule.KeepPrefix:
			text = rule.Pattern.ReplaceAllStringFunc(text, func(m string) string {
				redactions++
				if len(m) > 4 {
					return m[:4] + "...[REDACTED]"
				}
				return "[REDACTED]"
			})
		default:
			text = rule.Pattern.ReplaceAllStringFunc(text, func(string) string {
				redactions++
				return "[REDACTED]"
			})
		}
	}
	if redactions > 0 {
		s.logger.Warn("secrets redacted from output", "count", redactions)
	}
	return text
}
