package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from user supplied text, normalises it to NFC and trims surrounding space.
// Control characters other than newlines and tabs are dropped.
func PlainText(value string) string {
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = norm.NFC.String(cleaned)
	cleaned = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	return strings.TrimSpace(cleaned)
}

// SingleLine behaves like PlainText and additionally collapses all whitespace runs into one space.
func SingleLine(value string) string {
	return strings.Join(strings.Fields(PlainText(value)), " ")
}
