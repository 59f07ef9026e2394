package output

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Table renders rows as aligned text columns.
type Table struct {
	headers []string
	rows    [][]string
	right   map[int]bool
}

// NewTable creates a table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, right: make(map[int]bool)}
}

// AlignRight right-aligns the given columns; amounts read better that way.
func (t *Table) AlignRight(cols ...int) *Table {
	for _, c := range cols {
		t.right[c] = true
	}
	return t
}

// AddRow appends a row. Missing cells render empty.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the header, a rule and every row.
func (t *Table) Render(w io.Writer) error {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return nil
	}
	widths := t.widths()

	lines := make([][]string, 0, len(t.rows)+2)
	if len(t.headers) > 0 {
		rule := make([]string, len(widths))
		for i, n := range widths {
			rule[i] = strings.Repeat("-", n)
		}
		lines = append(lines, t.headers, rule)
	}
	lines = append(lines, t.rows...)

	for _, cells := range lines {
		parts := make([]string, len(widths))
		for i, n := range widths {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			pad := strings.Repeat(" ", n-utf8.RuneCountInString(cell))
			if t.right[i] {
				parts[i] = pad + cell
			} else {
				parts[i] = cell + pad
			}
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " ")); err != nil {
			return err
		}
	}
	return nil
}

// String returns the rendered table.
func (t *Table) String() string {
	var sb strings.Builder
	_ = t.Render(&sb)
	return sb.String()
}

func (t *Table) widths() []int {
	n := len(t.headers)
	for _, r := range t.rows {
		n = max(n, len(r))
	}
	widths := make([]int, n)
	for _, r := range append([][]string{t.headers}, t.rows...) {
		for i, cell := range r {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}
	return widths
}
