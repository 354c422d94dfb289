package processor

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// NoTitle is stored when a post mention has neither a <title> nor an <h1>.
const NoTitle = "No title available"

var inlineTag = regexp.MustCompile(`</?[^>]+?>`)

// repairEncoding replaces ill-formed UTF-8 sequences with U+FFFD.
func repairEncoding(body []byte) []byte {
	if utf8.Valid(body) {
		return body
	}
	repaired, _, err := transform.Bytes(runes.ReplaceIllFormed(), body)
	if err != nil {
		return bytes.ToValidUTF8(body, []byte(string(utf8.RuneError)))
	}
	return repaired
}

// extractTitle returns the page <title>, else the first <h1>, else NoTitle, with
// any inline markup removed.
func extractTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(repairEncoding(body)))
	if err != nil {
		return NoTitle
	}
	for _, selector := range []string{"title", "h1"} {
		text := doc.Find(selector).First().Text()
		if title := strings.TrimSpace(inlineTag.ReplaceAllString(text, "")); title != "" {
			return title
		}
	}
	return NoTitle
}
