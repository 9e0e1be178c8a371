package lifecycle

import (
	"strconv"
	"strings"
)

const (
	DefaultSeparator = "   "
	DefaultMaxLength = 255
)

// BuildText joins the unread bodies and the current body with sep. When the
// result is longer than max runes it is cut at the last space at or before
// max (that space and everything after it are dropped, earlier spaces stay)
// and " ... (N)" is appended, N being the total number of messages shown.
// With no space to cut at, the cut is hard.
func BuildText(unread []string, current, sep string, max int) string {
	if max <= 0 {
		max = DefaultMaxLength
	}
	var b strings.Builder
	for _, u := range unread {
		b.WriteString(u)
		b.WriteString(sep)
	}
	b.WriteString(current)
	text := b.String()

	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	cut := -1
	for i := max; i >= 0; i-- {
		if i < len(runes) && runes[i] == ' ' {
			cut = i
			break
		}
	}
	if cut < 0 {
		cut = max
	}
	return string(runes[:cut]) + " ... (" + strconv.Itoa(len(unread)+1) + ")"
}
