package sandbox

import (
	"fmt"
	"strings"
)

// openFor maps closing delimiters to their opening counterparts.
var openFor = map[byte]byte{')': '(', ']': '[', '}': '{'}

// CheckBalanced verifies that (), [] and {} nest correctly outside of string
// literals and line comments. It is a structural smoke test, not a parser:
// content that fails it is certainly broken, content that passes may still be.
func CheckBalanced(content string) error {
	var stack []byte

	inString := byte(0) // current quote char, 0 when outside a literal
	escaped := false
	inLineComment := false

	for i := 0; i < len(content); i++ {
		c := content[i]

		if inLineComment {
			if c == '\n' {
				inLineComment = false
			}
			continue
		}

		if inString != 0 {
			if escaped {
				escaped = false
			} else if c == '\\' && inString != '`' {
				escaped = true
			} else if c == inString || c == '\n' && inString != '`' {
				inString = 0
			}
			continue
		}

		switch c {
		case '"', '\'', '`':
			inString = c
		case '#':
			inLineComment = true
		case '/':
			if i+1 < len(content) && content[i+1] == '/' {
				inLineComment = true
			}
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != openFor[c] {
				return fmt.Errorf("unbalanced %q at offset %d", string(c), i)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", string(stack[len(stack)-1]))
	}
	return nil
}

// CheckContent runs the structural checks on a patched artifact: non-empty,
// text-only, within the size ceiling, and with balanced delimiters.
func CheckContent(name, content string, maxBytes int) []string {
	var errs []string

	if strings.TrimSpace(content) == "" {
		errs = append(errs, fmt.Sprintf("%s: empty after patch", name))
		return errs
	}
	if strings.ContainsRune(content, 0) {
		errs = append(errs, fmt.Sprintf("%s: contains binary data", name))
	}
	if len(content) > maxBytes {
		errs = append(errs, fmt.Sprintf("%s: %d bytes exceeds ceiling of %d", name, len(content), maxBytes))
	}
	if err := CheckBalanced(content); err != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))
	}

	return errs
}
