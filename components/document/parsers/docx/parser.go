package docx

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/bububa/nutrition-agents/components/document"
)

// Parser converts docx paragraphs and tables to text
type Parser struct{}

var _ document.Parser = (*Parser)(nil)

// Parse writes body items separated by blank lines
func (p *Parser) Parse(ctx context.Context, reader *bytes.Reader, writer io.Writer) error {
	doc, err := docx.Parse(reader, reader.Size())
	if err != nil {
		return err
	}
	var written int
	for _, it := range doc.Document.Body.Items {
		var content string
		switch t := it.(type) {
		case *docx.Paragraph:
			content = t.String()
		case *docx.Table:
			content = t.String()
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		if written > 0 {
			if _, err := io.WriteString(writer, "\n\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(writer, content); err != nil {
			return err
		}
		written++
	}
	return nil
}
