package logx

import (
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Later fields win on duplicate keys.
type Field func(e *zerolog.Event)

func String(k, v string) Field                 { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strings(k string, v []string) Field       { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field                { return func(e *zerolog.Event) { e.Int(k, v) } }
func Bool(k string, v bool) Field              { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }
func Any(k string, v any) Field                { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Component tags a logger with the subsystem name.
func Component(name string) Field { return String("comp", name) }

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// addrVisible is how many trailing runes of an address survive masking.
const addrVisible = 4

// Addr logs a message address with everything but the tail masked.
func Addr(k, addr string) Field {
	return func(e *zerolog.Event) { e.Str(k, MaskAddr(addr)) }
}

// MaskAddr replaces all but the last few runes of addr with '*'.
// Short addresses are masked entirely.
func MaskAddr(addr string) string {
	n := utf8.RuneCountInString(addr)
	if n == 0 {
		return ""
	}
	if n <= addrVisible {
		return "****"
	}
	r := []rune(addr)
	return "***" + string(r[n-addrVisible:])
}
