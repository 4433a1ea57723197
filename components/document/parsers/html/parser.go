package html

import (
	"bytes"
	"context"
	"io"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"

	"github.com/bububa/nutrition-agents/components/document"
)

// noise elements dropped before conversion
const noise = "script, style, noscript, nav, header, footer, aside, form, iframe"

// Parser extracts the main content of an html page and converts it to markdown
type Parser struct {
	opts []converter.ConvertOptionFunc
}

var _ document.Parser = (*Parser)(nil)

func NewParser(opts ...converter.ConvertOptionFunc) *Parser {
	return &Parser{
		opts: opts,
	}
}

// Parse writes the markdown of the page main content: the first main or article element, else the body
func (h *Parser) Parse(ctx context.Context, reader *bytes.Reader, writer io.Writer) error {
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return err
	}
	doc.Find(noise).Remove()
	sel := doc.Find("main, article").First()
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	content, err := goquery.OuterHtml(sel)
	if err != nil {
		return err
	}
	md, err := htmltomarkdown.ConvertString(content, h.opts...)
	if err != nil {
		return err
	}
	_, err = io.WriteString(writer, md)
	return err
}
