package sanitizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// emojiRanges covers the pictographic blocks the transport has been seen to
// mangle. Variation selectors and joiners are handled by the zero-width and
// replacement passes, so only base pictographs are matched here.
var emojiRanges = [][2]rune{
	{0x1F300, 0x1F5FF}, // symbols and pictographs
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F680, 0x1F6FF}, // transport and map
	{0x1F700, 0x1F77F}, // alchemical
	{0x1F900, 0x1F9FF}, // supplemental symbols
	{0x1FA00, 0x1FAFF}, // extended-A
	{0x2600, 0x26FF},   // miscellaneous symbols
	{0x2700, 0x27BF},   // dingbats
	{0x2B00, 0x2BFF},   // arrows and stars
	{0x1F1E6, 0x1F1FF}, // regional indicators
}

// emojiNames maps frequent emoji to short names used by placeholder tags.
var emojiNames = map[rune]string{
	0x1F600: "grinning",
	0x1F601: "beaming",
	0x1F602: "joy",
	0x1F603: "smiley",
	0x1F604: "smile",
	0x1F606: "laughing",
	0x1F609: "wink",
	0x1F60A: "blush",
	0x1F60D: "heart-eyes",
	0x1F614: "pensive",
	0x1F618: "kiss",
	0x1F622: "cry",
	0x1F62D: "sob",
	0x1F621: "angry",
	0x1F644: "eye-roll",
	0x1F64F: "folded-hands",
	0x1F44D: "thumbs-up",
	0x1F44E: "thumbs-down",
	0x1F44F: "clap",
	0x1F4AA: "flex",
	0x1F389: "party",
	0x1F525: "fire",
	0x1F4AF: "hundred",
	0x1F494: "broken-heart",
	0x2764:  "heart",
	0x2B50:  "star",
	0x2705:  "check",
	0x274C:  "cross",
	0x26A0:  "warning",
	0x2615:  "coffee",
}

// IsEmoji reports whether the rune falls inside a matched pictographic block.
func IsEmoji(r rune) bool {
	for _, rng := range emojiRanges {
		if r >= rng[0] && r <= rng[1] {
			return true
		}
	}
	return false
}

// countEmoji counts pictographic runes in text.
func countEmoji(text string) int {
	count := 0
	for _, r := range text {
		if IsEmoji(r) {
			count++
		}
	}
	return count
}

// replaceEmoji rewrites each pictographic rune through repl, leaving all
// other runes untouched. Invalid bytes are passed through verbatim so the
// sanitize pass stays responsible for removing them.
func replaceEmoji(text string, repl func(rune) string) string {
	var b strings.Builder
	b.Grow(len(text))

	for i, width := 0, 0; i < len(text); i += width {
		var r rune
		r, width = utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && width == 1 {
			b.WriteString(text[i : i+width])
			continue
		}
		if IsEmoji(r) {
			b.WriteString(repl(r))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// emojiTag returns the short name for a known emoji, or its hex codepoint.
func emojiTag(r rune) string {
	if name, ok := emojiNames[r]; ok {
		return name
	}
	return fmt.Sprintf("U+%04X", r)
}
