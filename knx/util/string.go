// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package util

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// PackString writes s into the first maxLen bytes of buffer, zero-padded to
// fill it. If s is longer than maxLen, it is truncated on a rune boundary so
// a multi-byte UTF-8 sequence is never split across the NUL padding.
func PackString(buffer []byte, maxLen int, s string) {
	for i := 0; i < maxLen; i++ {
		buffer[i] = 0
	}

	b := []byte(s)
	if len(b) > maxLen {
		b = b[:maxLen]
		i := len(b) - 1
		for i > 0 && !utf8.RuneStart(b[i]) {
			i--
		}
		if i >= 0 && !utf8.FullRune(b[i:]) {
			b = b[:i]
		}
	}

	copy(buffer, b)
}

// UnpackString reads a NUL-terminated, NUL-padded string of exactly maxLen
// bytes. Invalid UTF-8 byte sequences are repaired (replaced with the
// Unicode replacement character) instead of being silently truncated, so a
// corrupted field never desynchronises the caller's byte accounting.
func UnpackString(data []byte, maxLen int, out *string) (uint, error) {
	if len(data) < maxLen {
		return 0, io.ErrUnexpectedEOF
	}

	raw := data[:maxLen]
	if idx := bytes.IndexByte(raw, 0); idx >= 0 {
		raw = raw[:idx]
	}

	decoded, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), raw)
	if err != nil || !utf8.Valid(decoded) {
		decoded = []byte(strings.ToValidUTF8(string(raw), string(utf8.RuneError)))
	}

	*out = string(decoded)
	return uint(maxLen), nil
}
