package normalize

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"wikirag/internal/domain"
)

func TestToText_PreservesCodeMacroAndHeadings(t *testing.T) {
	body := `<h1>Title</h1><p>intro</p><ac:structured-macro ac:name="code"><ac:plain-text-body><![CDATA[fmt.Println("hi")]]></ac:plain-text-body></ac:structured-macro>`
	text, err := ToText(body, true)
	require.NoError(t, err)
	require.Contains(t, text, "# Title")
	require.Contains(t, text, "intro")
}

func TestToText_StripsTOC(t *testing.T) {
	body := `<ac:structured-macro ac:name="toc"></ac:structured-macro><p>content</p>`
	text, err := ToText(body, true)
	require.NoError(t, err)
	require.NotContains(t, strings.ToLower(text), "toc")
	require.Contains(t, text, "content")
}

func TestToText_CollapsesWhitespace(t *testing.T) {
	body := `<p>a</p>



<p>b</p>`
	text, err := ToText(body, false)
	require.NoError(t, err)
	require.False(t, strings.Contains(text, "\n\n\n"))
}

func TestExtractLinks_ClassifiesByType(t *testing.T) {
	body := `<a href="https://example.atlassian.net/wiki/spaces/T/pages/67890/Title">internal</a>` +
		`<a href="https://google.com">external</a>` +
		`<a href="#x">anchor</a>` +
		`<a href="javascript:alert(1)">js</a>`
	links, err := ExtractLinks(body, "https://example.atlassian.net", "")
	require.NoError(t, err)
	require.Len(t, links, 2)

	byType := map[domain.LinkType]domain.PageLink{}
	for _, l := range links {
		byType[l.LinkType] = l
	}
	require.Equal(t, "67890", byType[domain.LinkInternal].ToPageID)
	require.Equal(t, domain.LinkExternal, byType[domain.LinkExternal].LinkType)
}

func TestExtractLinks_DropsSelfLinks(t *testing.T) {
	body := `<a href="https://example.atlassian.net/wiki/spaces/T/pages/67890/Title">self</a>`
	links, err := ExtractLinks(body, "https://example.atlassian.net", "67890")
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestExtractLinks_DedupesByURL(t *testing.T) {
	body := `<a href="https://google.com">one</a><a href="https://google.com">two</a>`
	links, err := ExtractLinks(body, "https://example.atlassian.net", "")
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestRemoveMacro_MatchesByACNameAttributeWithoutPanic(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		wrapFragment(`<ac:structured-macro ac:name="toc"></ac:structured-macro><p>keep</p>`)))
	require.NoError(t, err)
	require.NotPanics(t, func() { removeMacro(doc, "toc") })
	require.Equal(t, 0, doc.Find(`[ac\:name="toc"]`).Length())
	require.Contains(t, doc.Find("body").Text(), "keep")
}

func TestUnwrapMacro_MatchesByACNameAttributeAndFencesCode(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		wrapFragment(`<ac:structured-macro ac:name="code"><ac:plain-text-body><![CDATA[fmt.Println("hi")]]></ac:plain-text-body></ac:structured-macro>`)))
	require.NoError(t, err)
	require.NotPanics(t, func() { unwrapMacro(doc, "code") })
	require.Contains(t, doc.Find("body").Text(), "```")
	require.Contains(t, doc.Find("body").Text(), `fmt.Println("hi")`)
}

func TestExtractLinks_AttachmentPrefix(t *testing.T) {
	body := `<a href="attachment:doc.pdf">doc</a>`
	links, err := ExtractLinks(body, "https://example.atlassian.net", "")
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, domain.LinkAttachment, links[0].LinkType)
}
