package xlsx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/bububa/nutrition-agents/components/document"
)

// Parser converts food composition sheets to text, one line per row.
// The first row of every sheet is the header; each data row is written as "header: value" pairs.
type Parser struct {
	password string
}

var _ document.Parser = (*Parser)(nil)

type Option func(*Parser)

func WithPassword(passwd string) Option {
	return func(p *Parser) {
		p.password = passwd
	}
}

func NewParser(opts ...Option) *Parser {
	ret := new(Parser)
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Parse implements document.Parser
func (p *Parser) Parse(ctx context.Context, reader *bytes.Reader, writer io.Writer) error {
	opts := make([]excelize.Options, 0, 1)
	if p.password != "" {
		opts = append(opts, excelize.Options{Password: p.password})
	}
	doc, err := excelize.OpenReader(reader, opts...)
	if err != nil {
		return err
	}
	defer doc.Close()
	for _, sheet := range doc.GetSheetList() {
		rows, err := doc.Rows(sheet)
		if err != nil {
			return err
		}
		var header []string
		for rowIdx := 0; rows.Next(); rowIdx++ {
			if err := ctx.Err(); err != nil {
				rows.Close()
				return err
			}
			row, err := rows.Columns()
			if err != nil {
				rows.Close()
				return err
			}
			if rowIdx == 0 {
				header = trimAll(row)
				continue
			}
			if line := rowLine(sheet, header, row); line != "" {
				if _, err := fmt.Fprintln(writer, line); err != nil {
					rows.Close()
					return err
				}
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
	}
	return nil
}

func rowLine(sheet string, header []string, row []string) string {
	parts := make([]string, 0, len(row))
	for idx, cell := range row {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		name := fmt.Sprintf("column %d", idx+1)
		if idx < len(header) && header[idx] != "" {
			name = header[idx]
		}
		parts = append(parts, name+": "+cell)
	}
	if len(parts) == 0 {
		return ""
	}
	return sheet + ". " + strings.Join(parts, "; ") + "."
}

func trimAll(list []string) []string {
	ret := make([]string, len(list))
	for i, v := range list {
		ret[i] = strings.TrimSpace(v)
	}
	return ret
}
