package security

import "log/slog"

// InjectionDetector screens inbound user text for prompt-injection
// attempts before the text ever reaches the model. Detection refuses
// the single message; it never blocks the user, so one false match is
// never terminal.
type InjectionDetector struct {
	lib    *Library
	logger *slog.Logger
}

func NewInjectionDetector(lib *Library) *InjectionDetector {
	return &InjectionDetector{
		lib:    lib,
		logger: slog.With("component", "injection"),
	}
}

// Detect reports whether the text matches any injection pattern.
func (d *InjectionDetector) Detect(text string, userID int64) bool {
	for _, re := range d.lib.Current().Injection {
		if re.MatchString(text) {
			d.logger.Warn("[INJECTION] prompt injection refused",
				"user", userID,
				"pattern", re.String(),
				"preview", truncate(text, 100),
			)
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
