package lsp

import "strings"

// LineAt returns line n of content without its line ending, or false when
// content has fewer lines.
func LineAt(content string, n int) (string, bool) {
	if n < 0 {
		return "", false
	}
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(content, '\n')
		if idx < 0 {
			return "", false
		}
		content = content[idx+1:]
	}
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	return strings.TrimSuffix(content, "\r"), true
}

// LinePrefix returns the part of line before the UTF-16 offset character.
func LinePrefix(line string, character int) string {
	return line[:utf16ToByteOffset(line, character)]
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	count := 0
	for _, r := range s {
		if r >= 0x10000 {
			count += 2 // Surrogate pair
		} else {
			count++
		}
	}
	return count
}

// utf16ToByteOffset converts a UTF-16 offset to byte offset within a string.
func utf16ToByteOffset(s string, utf16Off int) int {
	if utf16Off <= 0 {
		return 0
	}

	utf16Count := 0
	for i, r := range s {
		if utf16Count >= utf16Off {
			return i
		}
		if r >= 0x10000 {
			utf16Count += 2
		} else {
			utf16Count++
		}
	}
	return len(s)
}
