package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// GetText concatenates the text below node, script and style contents
// excluded.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	switch {
	case node.Type == html.TextNode:
		buffer.WriteString(node.Data)
		return
	case node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style"):
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText strips non printable characters and collapses whitespace.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = strings.Trim(s, " \t\r\n")
	return innerWhitespace.ReplaceAllString(s, " ")
}

// SelectionText returns the cleaned text of every node in sel.
func SelectionText(sel *goquery.Selection) string {
	var buffer strings.Builder
	for _, n := range sel.Nodes {
		buffer.WriteString(GetText(n))
		buffer.WriteString(" ")
	}
	return CleanText(buffer.String())
}

// FirstAttr returns the value of the first attribute in names that is set
// on the selection's first node.
func FirstAttr(sel *goquery.Selection, names ...string) (string, bool) {
	for _, name := range names {
		value, ok := sel.Attr(name)
		if ok && value != "" {
			return value, true
		}
	}
	return "", false
}
