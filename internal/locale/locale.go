// Package locale resolves the text encoding a command's terminal output is
// expected to use, and whether interactive input may be forwarded to it.
package locale

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// EnvDisableStdin disables stdin forwarding when set to a non-empty value.
const EnvDisableStdin = "PTYSHELL_DISABLE_STDIN"

// asciiCharset is the codeset of the C and POSIX locales.
const asciiCharset = "ANSI_X3.4-1968"

// Settings is the locale configuration read once at execution start.
type Settings struct {
	// Name is the effective locale, e.g. "en_US.UTF-8" or "C".
	Name string

	// StdinDisabled turns off input forwarding for every command.
	StdinDisabled bool
}

// FromEnv builds Settings from LC_ALL, LC_CTYPE and LANG, in that order of
// precedence, using lookup to read variables.
func FromEnv(lookup func(string) (string, bool)) Settings {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var s Settings
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if v, ok := lookup(key); ok && v != "" {
			s.Name = v
			break
		}
	}
	if v, ok := lookup(EnvDisableStdin); ok && v != "" {
		s.StdinDisabled = true
	}
	return s
}

// Charset returns the codeset part of the locale name. Locales without an
// explicit codeset (including C and POSIX) are treated as 7-bit ASCII.
func (s Settings) Charset() string {
	name := s.Name
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 && i+1 < len(name) {
		return name[i+1:]
	}
	return asciiCharset
}

// Encoding resolves the charset to a known encoding.
func (s Settings) Encoding() (encoding.Encoding, error) {
	cs := s.Charset()
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", cs, err)
	}
	return enc, nil
}

// IsUTF8 reports whether the locale uses a UTF-8 variant.
func (s Settings) IsUTF8() bool {
	enc, err := s.Encoding()
	if err != nil {
		return false
	}
	return enc == unicode.UTF8
}

// String returns the locale name, or "C" when none is set.
func (s Settings) String() string {
	if s.Name == "" {
		return "C"
	}
	return s.Name
}
