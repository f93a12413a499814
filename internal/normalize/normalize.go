// Package normalize converts wiki storage-format HTML into plain text and
// extracts outgoing links, handling the wiki's macro vocabulary.
package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"wikirag/internal/domain"
)

// preserveMacros keep their rendered contents (code blocks are fenced).
var preserveMacros = map[string]bool{
	"code": true, "panel": true, "info": true, "warning": true,
	"note": true, "tip": true, "expand": true,
}

// stripMacros are removed entirely, contents and all.
var stripMacros = map[string]bool{
	"toc": true, "toc-zone": true, "children": true, "pagetree": true,
}

var (
	wsRunRe       = regexp.MustCompile(`[ \t]+`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	pageIDEqRe    = regexp.MustCompile(`pageId=(\d+)`)
	pagesSlashRe  = regexp.MustCompile(`/pages/(\d+)`)
	wikiSpacesRe  = regexp.MustCompile(`/wiki/spaces/\w+/pages/(\d+)`)
	headingTagsRe = regexp.MustCompile(`^h[1-6]$`)
	cdataRe       = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
)

// ToText strips script/style subtrees, handles macro preserve/strip rules,
// renders headings as markdown when preserveHeadings is set, and collapses
// whitespace.
func ToText(body string, preserveHeadings bool) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(wrapFragment(body)))
	if err != nil {
		return "", fmt.Errorf("normalize: parse body: %w", err)
	}

	doc.Find("script, style").Remove()
	for macro := range stripMacros {
		removeMacro(doc, macro)
	}
	for macro := range preserveMacros {
		unwrapMacro(doc, macro)
	}
	if preserveHeadings {
		renderHeadings(doc)
	}

	text := doc.Find("body").Text()
	return collapseWhitespace(text), nil
}

// wrapFragment makes an HTML fragment parseable as a full document; wiki
// storage format bodies are XML-flavored fragments, not full documents.
// CDATA sections (code macro bodies) become escaped text first, since the
// HTML parser would otherwise read them as comments and drop them.
func wrapFragment(body string) string {
	body = cdataRe.ReplaceAllStringFunc(body, func(m string) string {
		return htmlEscape(cdataRe.FindStringSubmatch(m)[1])
	})
	return "<html><body>" + body + "</body></html>"
}

// removeMacro deletes elements tagged as the given macro, by element name
// or by ac:name attribute (the wiki's native macro encoding).
func removeMacro(doc *goquery.Document, name string) {
	doc.Find(name).Remove()
	doc.Find(fmt.Sprintf(`[ac\:name="%s"]`, name)).Remove()
}

// unwrapMacro keeps a macro's text content but drops the wrapping element,
// fencing code blocks with triple backticks.
func unwrapMacro(doc *goquery.Document, name string) {
	sel := doc.Find(name).AddSelection(doc.Find(fmt.Sprintf(`[ac\:name="%s"]`, name)))
	sel.Each(func(_ int, s *goquery.Selection) {
		content := s.Find("ac\\:plain-text-body, cdata, plain-text-body").Text()
		if content == "" {
			content = s.Text()
		}
		if name == "code" {
			content = "\n```\n" + strings.TrimSpace(content) + "\n```\n"
		}
		s.ReplaceWithHtml("\n" + htmlEscape(content) + "\n")
	})
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// renderHeadings replaces h1-h6 elements with markdown-style heading lines
// so the chunker's heading-stack algorithm can see them as plain text.
func renderHeadings(doc *goquery.Document) {
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		if !headingTagsRe.MatchString(tag) {
			return
		}
		level := int(tag[1] - '0')
		title := strings.TrimSpace(s.Text())
		md := "\n\n" + strings.Repeat("#", level) + " " + title + "\n\n"
		s.ReplaceWithHtml(htmlEscape(md))
	})
}

func collapseWhitespace(s string) string {
	s = wsRunRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ExtractLinks collects native wiki `link` elements and plain `<a href>`
// elements, classifies each, drops anchor-only/script-scheme/self links,
// and deduplicates by URL. FromPageID is left unset; the caller stamps it
// before persisting.
func ExtractLinks(body string, baseURL string, currentPageID string) ([]domain.PageLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(wrapFragment(body)))
	if err != nil {
		return nil, fmt.Errorf("normalize: parse body: %w", err)
	}

	base, _ := url.Parse(baseURL)
	seen := make(map[string]bool)
	var links []domain.PageLink

	addLink := func(href, text string) {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		parsed := classify(href, base)
		if parsed.LinkType == domain.LinkInternal && parsed.ToPageID == currentPageID && parsed.ToPageID != "" {
			return
		}
		if seen[href] {
			return
		}
		seen[href] = true
		links = append(links, domain.PageLink{
			ToURL:    href,
			ToPageID: parsed.ToPageID,
			LinkText: strings.TrimSpace(text),
			LinkType: parsed.LinkType,
		})
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addLink(href, s.Text())
	})
	doc.Find(`ac\:link`).Each(func(_ int, s *goquery.Selection) {
		if attach := s.Find(`ri\:attachment`); attach.Length() > 0 {
			filename, _ := attach.Attr("ri:filename")
			addLink("attachment:"+filename, s.Text())
			return
		}
		if pageRef := s.Find(`ri\:page`); pageRef.Length() > 0 {
			title, _ := pageRef.Attr("ri:content-title")
			addLink("/wiki/pages/title/"+url.PathEscape(title), s.Text())
			return
		}
		if urlRef := s.Find(`ri\:url`); urlRef.Length() > 0 {
			href, _ := urlRef.Attr("ri:value")
			addLink(href, s.Text())
		}
	})

	return links, nil
}

type classified struct {
	LinkType domain.LinkType
	ToPageID string
}

// classify determines link type and, for internal links, extracts the
// page id lexically from the URL.
func classify(href string, base *url.URL) classified {
	if strings.HasPrefix(href, "attachment:") || strings.Contains(href, "/attachments/") {
		return classified{LinkType: domain.LinkAttachment}
	}

	u, err := url.Parse(href)
	isRelative := err == nil && u.Host == ""
	sameHost := err == nil && base != nil && u.Host != "" && u.Host == base.Host
	path := href
	if err == nil {
		path = u.Path
	}

	looksInternal := (isRelative || sameHost) &&
		(strings.Contains(path, "/wiki/") || strings.Contains(path, "/pages/") || strings.Contains(path, "/spaces/"))

	if !looksInternal {
		return classified{LinkType: domain.LinkExternal}
	}

	pageID := extractPageID(href)
	return classified{LinkType: domain.LinkInternal, ToPageID: pageID}
}

func extractPageID(href string) string {
	for _, re := range []*regexp.Regexp{pageIDEqRe, pagesSlashRe, wikiSpacesRe} {
		if m := re.FindStringSubmatch(href); m != nil {
			return m[1]
		}
	}
	return ""
}
