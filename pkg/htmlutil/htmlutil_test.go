package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "Klasse 9 Software", CleanText("\n\t Klasse 9\u0007   Software \r\n"))
	require.Equal(t, "", CleanText(" \n "))
}

func TestSelectionText(t *testing.T) {
	doc := parse(t, `<div class="ui-messages-error">
		<span>Bitte pruefen</span>
		<script>PrimeFaces.focus()</script>
		<span>Sie Ihre   Eingaben</span>
	</div><p>other</p>`)

	require.Equal(t, "Bitte pruefen Sie Ihre Eingaben", SelectionText(doc.Find(".ui-messages-error")))
	require.Equal(t, "", SelectionText(doc.Find(".missing")))
}

func TestFirstAttr(t *testing.T) {
	sel := parse(t, `<a title="" data-term="Computersoftware">x</a>`).Find("a")

	value, ok := FirstAttr(sel, "title", "data-term")
	require.True(t, ok)
	require.Equal(t, "Computersoftware", value)

	_, ok = FirstAttr(sel, "href")
	require.False(t, ok)
}
