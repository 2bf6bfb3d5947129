package matcher

import (
	"strings"

	"github.com/draagon/codemesh/internal/mesh"
)

// scopeEnd computes the 1-based inclusive end line of the definition
// starting at startLine, using the language's scoping policy.
func scopeEnd(file *mesh.SourceFile, startLine int) int {
	if file.Language.WhitespaceScoped() {
		return indentScopeEnd(file, startLine)
	}
	return braceScopeEnd(file, startLine)
}

// indentScopeEnd scans forward from the definition header. The scope ends
// at the last non-blank, non-comment line whose indentation is strictly
// deeper than the header's; the first such line at or above the header's
// indentation is a sibling and stays outside the scope.
func indentScopeEnd(file *mesh.SourceFile, startLine int) int {
	lines := file.Lines()
	if startLine < 1 || startLine > len(lines) {
		return startLine
	}

	headerIndent := indentWidth(lines[startLine-1])
	end := startLine

	for i := startLine + 1; i <= len(lines); i++ {
		line := lines[i-1]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if indentWidth(line) <= headerIndent {
			break
		}
		end = i
	}
	return end
}

// indentWidth measures leading whitespace, counting a tab as 4 columns.
func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}

// braceScopeEnd finds the line holding the brace that closes the block
// opened at or after startLine. Braces inside string literals, character
// literals, and comments are not counted. Returns startLine when no
// opening brace follows the header, and the last line when the block never
// closes.
func braceScopeEnd(file *mesh.SourceFile, startLine int) int {
	lines := file.Lines()
	if startLine < 1 || startLine > len(lines) {
		return startLine
	}

	depth := 0
	opened := false

	var inString rune // active quote char, 0 when outside
	inLineComment := false
	inBlockComment := false

	for i := startLine; i <= len(lines); i++ {
		line := lines[i-1]
		inLineComment = false
		// Line-spanning strings reset per line except template literals.
		if inString != 0 && inString != '`' {
			inString = 0
		}

		for j := 0; j < len(line); j++ {
			c := line[j]

			if inLineComment {
				break
			}
			if inBlockComment {
				if c == '*' && j+1 < len(line) && line[j+1] == '/' {
					inBlockComment = false
					j++
				}
				continue
			}
			if inString != 0 {
				if c == '\\' {
					j++
					continue
				}
				if rune(c) == inString {
					inString = 0
				}
				continue
			}

			switch c {
			case '"', '\'', '`':
				inString = rune(c)
			case '/':
				if j+1 < len(line) {
					switch line[j+1] {
					case '/':
						inLineComment = true
					case '*':
						inBlockComment = true
						j++
					}
				}
			case '{':
				depth++
				opened = true
			case '}':
				depth--
				if opened && depth == 0 {
					return i
				}
			}
		}

		// The opening brace must appear on the header line or shortly
		// after; give up if nothing opened within two lines.
		if !opened && i >= startLine+2 {
			return startLine
		}
	}

	if !opened {
		return startLine
	}
	return len(lines)
}
