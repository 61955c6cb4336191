package models

import "fmt"

// Mode is the latency/quality trade-off axis. It is fixed when the engine is
// constructed and threads through retrieval depth, prompt template, and
// completion model; it is not tunable per query.
type Mode string

const (
	// ModeFast uses a short prompt, a cheaper completion model, and fewer
	// retrieved chunks.
	ModeFast Mode = "fast"
	// ModeQuality uses a chain-of-thought prompt and a higher-capability
	// completion model.
	ModeQuality Mode = "quality"
)

// ParseMode validates s as a Mode. Empty input defaults to ModeFast.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFast, ModeQuality:
		return Mode(s), nil
	case "":
		return ModeFast, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q (want fast or quality)", ErrConfiguration, s)
	}
}
