package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	hyphenBreak = regexp.MustCompile(`-\n[ \t]*`)
	blankLines  = regexp.MustCompile(`\n[ \t\r\f\v]*\n(?:[ \t\r\f\v]*\n)*`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// Clean normalizes raw engine output:
//
//   - "exam-\nple" becomes "example"
//   - a newline between two non-space characters becomes a space
//   - runs of blank lines collapse to one empty line
//   - an escaped \$ not followed by a word character becomes $
//
// Leading and trailing whitespace is trimmed.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = hyphenBreak.ReplaceAllString(text, "")
	text = joinLines(text)
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = unescapeDollar(text)
	return strings.TrimSpace(text)
}

// joinLines replaces a single newline with a space when both neighbours are
// non-space, so wrapped lines of a paragraph read as one line.
func joinLines(text string) string {
	runes := []rune(text)
	for i := 1; i < len(runes)-1; i++ {
		if runes[i] == '\n' && !unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i+1]) {
			runes[i] = ' '
		}
	}
	return string(runes)
}

func unescapeDollar(text string) string {
	if !strings.Contains(text, `\$`) {
		return text
	}
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) && runes[i+1] == '$' {
			if i+2 >= len(runes) || !isWord(runes[i+2]) {
				b.WriteRune('$')
				i++
				continue
			}
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// IsBlockFormula reports whether latex should be typeset as a display block:
// environments, \[ delimiters and multi-line markup.
func IsBlockFormula(latex string) bool {
	return strings.Contains(latex, `\begin{`) ||
		strings.Contains(latex, `\[`) ||
		strings.Contains(strings.TrimSpace(latex), "\n")
}

// WrapFormula collapses whitespace in latex and wraps it in $...$, or in a
// $$ block for display formulas.
func WrapFormula(latex string) string {
	block := IsBlockFormula(latex)
	latex = strings.TrimSpace(spaceRuns.ReplaceAllString(latex, " "))
	if block {
		return "$$\n" + latex + "\n$$"
	}
	return "$" + latex + "$"
}
