package sanitizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"wadeliver/internal/constants"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
)

// Strategy selects the algorithm used to neutralize unsafe characters in
// outbound text.
type Strategy int

const (
	// StrategySanitize strips control, zero-width and malformed characters.
	StrategySanitize Strategy = iota
	// StrategyPlaceholder replaces emoji with bracketed textual tags, then sanitizes.
	StrategyPlaceholder
	// StrategySafeEncoding validates UTF-8 well-formedness, normalizes and truncates.
	StrategySafeEncoding
	// StrategyPreserve keeps emoji that are independently serializable.
	StrategyPreserve
	// StrategyHybrid routes by content shape and is the recommended default.
	StrategyHybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategySanitize:
		return "sanitize"
	case StrategyPlaceholder:
		return "placeholder"
	case StrategySafeEncoding:
		return "safe-encoding"
	case StrategyPreserve:
		return "preserve"
	case StrategyHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "sanitize":
		return StrategySanitize, nil
	case "placeholder":
		return StrategyPlaceholder, nil
	case "safe-encoding":
		return StrategySafeEncoding, nil
	case "preserve":
		return StrategyPreserve, nil
	case "hybrid", "":
		return StrategyHybrid, nil
	default:
		return StrategyHybrid, fmt.Errorf("unknown sanitizer strategy: %q", name)
	}
}

// Metadata describes what the sanitizer did to the input.
type Metadata struct {
	Strategy        string   `json:"strategy"`
	Removed         []string `json:"removed,omitempty"`
	EmojiCount      int      `json:"emojiCount"`
	Truncated       bool     `json:"truncated"`
	FallbackApplied bool     `json:"fallbackApplied"`
}

// Result is the outcome of processing a payload. Processed is always safe
// to hand to the transport, even when Safe is false.
type Result struct {
	Processed string
	Safe      bool
	Issues    []string
	Metadata  Metadata
}

// Sanitizer normalizes and validates outbound text. Process is a total
// function: it never fails and always returns transport-safe text.
type Sanitizer struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Sanitizer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sanitizer{logger: logger}
}

// Process runs the given strategy over text. Nil-like inputs are normalized
// to the empty string.
func (s *Sanitizer) Process(text string, strategy Strategy) Result {
	res := Result{
		Safe:     true,
		Metadata: Metadata{Strategy: strategy.String()},
	}

	if text == "" {
		return res
	}

	switch strategy {
	case StrategySanitize:
		res.Processed = s.sanitize(text, &res)
	case StrategyPlaceholder:
		res.Processed = s.sanitize(s.placeholder(text, &res), &res)
	case StrategySafeEncoding:
		res.Processed = s.safeEncoding(text, &res)
	case StrategyPreserve:
		res.Processed = s.preserve(text, &res)
	case StrategyHybrid:
		res.Processed = s.hybrid(text, &res)
	default:
		res.Processed = s.hybrid(text, &res)
	}

	s.finalize(&res)
	return res
}

// sanitize strips control characters, zero-width characters and malformed
// code units, logging which categories were removed.
func (s *Sanitizer) sanitize(text string, res *Result) string {
	var b strings.Builder
	b.Grow(len(text))

	removed := map[string]bool{}

	for i, width := 0, 0; i < len(text); i += width {
		var r rune
		r, width = utf8.DecodeRuneInString(text[i:])

		switch {
		case r == utf8.RuneError && width == 1:
			removed["invalid_utf8"] = true
		case isControl(r):
			removed["control"] = true
		case isZeroWidth(r):
			removed["zero_width"] = true
		case isSurrogate(r):
			removed["orphan_surrogate"] = true
		default:
			b.WriteRune(r)
		}
	}

	if len(removed) > 0 {
		categories := sortedKeys(removed)
		for _, c := range categories {
			res.Issues = append(res.Issues, c+"_removed")
		}
		res.Metadata.Removed = append(res.Metadata.Removed, categories...)
		s.logger.WithFields(logrus.Fields{
			"strategy":   res.Metadata.Strategy,
			"categories": categories,
		}).Debug("Removed unsafe character categories")
	}

	return b.String()
}

// placeholder replaces every detected emoji with a bracketed textual tag.
func (s *Sanitizer) placeholder(text string, res *Result) string {
	count := 0
	out := replaceEmoji(text, func(r rune) string {
		count++
		return "[emoji:" + emojiTag(r) + "]"
	})

	res.Metadata.EmojiCount = count
	if count > 0 {
		res.Issues = append(res.Issues, "emoji_replaced_with_placeholders")
	}
	return out
}

// safeEncoding round-trips the text through a byte buffer to validate
// well-formedness, applies canonical composition and bounds the length.
func (s *Sanitizer) safeEncoding(text string, res *Result) string {
	buf := []byte(text)
	if !utf8.Valid(buf) {
		res.Issues = append(res.Issues, "utf8_round_trip_failed")
		text = s.sanitize(text, res)
	} else {
		text = string(buf)
	}

	text = norm.NFC.String(text)
	return s.truncate(text, constants.SanitizerMaxLength, res)
}

// preserve keeps emoji but validates each match is independently
// serializable, substituting U+FFFD for any match that is not.
func (s *Sanitizer) preserve(text string, res *Result) string {
	count := 0
	replaced := 0
	out := replaceEmoji(text, func(r rune) string {
		count++
		if !roundTripsThroughJSON(string(r)) {
			replaced++
			return string(utf8.RuneError)
		}
		return string(r)
	})

	res.Metadata.EmojiCount = count
	if replaced > 0 {
		res.Issues = append(res.Issues, "unserializable_emoji_replaced")
	}
	return norm.NFC.String(out)
}

// hybrid routes by content shape: clean plain text takes the cheap path,
// emoji-heavy text is forced to placeholders, anything with unsafe
// characters is sanitized before preservation.
func (s *Sanitizer) hybrid(text string, res *Result) string {
	unsafe := hasUnsafeCharacters(text)
	emojiCount := countEmoji(text)
	res.Metadata.EmojiCount = emojiCount

	switch {
	case !unsafe && emojiCount == 0:
		return s.safeEncoding(text, res)
	case emojiCount > constants.SanitizerHybridEmojiLimit:
		res.Issues = append(res.Issues, "emoji_volume_over_limit")
		return s.sanitize(s.placeholder(text, res), res)
	case unsafe:
		return s.preserve(s.sanitize(text, res), res)
	default:
		return s.preserve(text, res)
	}
}

// truncate hard-bounds text to max characters without splitting a rune,
// appending an ellipsis marker when anything was cut. The marker counts
// against the budget, so the result never exceeds max characters.
func (s *Sanitizer) truncate(text string, max int, res *Result) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}

	var b strings.Builder
	n := 0
	for _, r := range text {
		if n >= max-1 {
			break
		}
		b.WriteRune(r)
		n++
	}

	res.Metadata.Truncated = true
	res.Issues = append(res.Issues, "truncated")
	return b.String() + "…"
}

// finalize is the last validation gate every strategy passes through. If
// the result does not survive structured serialization and a UTF-8 round
// trip, it is replaced wholesale with an ASCII-only fallback.
func (s *Sanitizer) finalize(res *Result) {
	if roundTripsThroughJSON(res.Processed) && utf8.ValidString(res.Processed) {
		return
	}

	res.Processed = asciiFallback(res.Processed, constants.SanitizerFallbackMaxLength)
	res.Safe = false
	res.Metadata.FallbackApplied = true
	res.Issues = append(res.Issues, "ascii_fallback_applied")

	s.logger.WithFields(logrus.Fields{
		"strategy": res.Metadata.Strategy,
	}).Warn("Sanitized text failed final validation, applied ASCII fallback")
}

// roundTripsThroughJSON verifies the text survives structured encoding.
func roundTripsThroughJSON(text string) bool {
	encoded, err := json.Marshal(text)
	if err != nil {
		return false
	}
	var decoded string
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return false
	}
	return decoded == text
}

// asciiFallback reduces text to printable ASCII, capped at max characters.
func asciiFallback(text string, max int) string {
	var b strings.Builder
	n := 0
	for i, width := 0, 0; i < len(text) && n < max; i += width {
		var r rune
		r, width = utf8.DecodeRuneInString(text[i:])
		if r >= 0x20 && r < 0x7F {
			b.WriteRune(r)
		} else {
			b.WriteByte('?')
		}
		n++
	}
	return b.String()
}

func isControl(r rune) bool {
	return (r <= 0x1F) || (r >= 0x7F && r <= 0x9F)
}

func isZeroWidth(r rune) bool {
	return (r >= 0x200B && r <= 0x200D) || r == 0xFEFF
}

func isSurrogate(r rune) bool {
	return r >= 0xD800 && r <= 0xDFFF
}

func hasUnsafeCharacters(text string) bool {
	for i, width := 0, 0; i < len(text); i += width {
		var r rune
		r, width = utf8.DecodeRuneInString(text[i:])
		if (r == utf8.RuneError && width == 1) || isControl(r) || isZeroWidth(r) || isSurrogate(r) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for _, k := range []string{"control", "zero_width", "orphan_surrogate", "invalid_utf8"} {
		if m[k] {
			keys = append(keys, k)
		}
	}
	return keys
}
