package parsers

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/bububa/nutrition-agents/components/document/parsers/html"
	"github.com/bububa/nutrition-agents/components/document/parsers/xlsx"
)

func TestHTMLMainContent(t *testing.T) {
	page := `<html><head><script>track()</script></head><body>
<nav>Home | About</nav>
<main><h1>Fiber</h1><p>Adults need about <strong>25 g</strong> of fiber per day.</p></main>
<footer>Copyright</footer></body></html>`
	var out bytes.Buffer
	require.NoError(t, html.NewParser().Parse(context.Background(), bytes.NewReader([]byte(page)), &out))
	md := out.String()
	assert.Contains(t, md, "# Fiber")
	assert.Contains(t, md, "**25 g**")
	assert.NotContains(t, md, "Home")
	assert.NotContains(t, md, "Copyright")
	assert.NotContains(t, md, "track()")
}

func TestXLSXRows(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Food", "Calories", "Protein"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Chicken breast", 165, 31}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"Brown rice", 111, ""}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	var out bytes.Buffer
	require.NoError(t, xlsx.NewParser().Parse(context.Background(), bytes.NewReader(buf.Bytes()), &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		sheet + ". Food: Chicken breast; Calories: 165; Protein: 31.",
		sheet + ". Food: Brown rice; Calories: 111.",
	}, lines)
}
