package output

import (
	"io"
	"strings"
	"unicode/utf8"
)

// Align is a column alignment.
type Align int

// Column alignments.
const (
	AlignLeft Align = iota
	AlignRight
)

// Table renders aligned columns for text output. Widths are measured in
// runes so currency symbols such as ¥ do not skew the layout.
type Table struct {
	headers   []string
	rows      [][]string
	align     map[int]Align
	noHeader  bool
	separator string
}

// NewTable creates a new table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{
		headers:   headers,
		align:     make(map[int]Align),
		separator: "  ",
	}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlign sets the alignment of column col.
func (t *Table) SetAlign(col int, a Align) {
	t.align[col] = a
}

// SetNoHeader suppresses the header row.
func (t *Table) SetNoHeader(noHeader bool) {
	t.noHeader = noHeader
}

// SetSeparator sets the column separator.
func (t *Table) SetSeparator(sep string) {
	t.separator = sep
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render renders the table to the writer.
func (t *Table) Render(w io.Writer) error {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return nil
	}

	widths := t.widths()
	var sb strings.Builder
	if !t.noHeader && len(t.headers) > 0 {
		t.writeRow(&sb, t.headers, widths)
		rule := make([]string, len(widths))
		for i, width := range widths {
			rule[i] = strings.Repeat("-", width)
		}
		t.writeRow(&sb, rule, widths)
	}
	for _, row := range t.rows {
		t.writeRow(&sb, row, widths)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// String returns the table as a string.
func (t *Table) String() string {
	var sb strings.Builder
	_ = t.Render(&sb)
	return sb.String()
}

func (t *Table) widths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		cols = max(cols, len(row))
	}

	widths := make([]int, cols)
	measure := func(cells []string) {
		for i, cell := range cells {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

func (t *Table) writeRow(sb *strings.Builder, cells []string, widths []int) {
	parts := make([]string, len(widths))
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(cell))
		if t.align[i] == AlignRight {
			parts[i] = pad + cell
		} else {
			parts[i] = cell + pad
		}
	}
	sb.WriteString(strings.TrimRight(strings.Join(parts, t.separator), " "))
	sb.WriteByte('\n')
}
