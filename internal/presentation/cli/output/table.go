package output

import (
	"strings"
)

// Alignment is a column's text alignment.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableColumn describes one column. Width is a minimum.
type TableColumn struct {
	Header string
	Width  int
	Align  Alignment
}

// TableData is a header row plus cells. Cells beyond the last column are
// dropped.
type TableData struct {
	Columns []TableColumn
	Rows    [][]string
}

// Table writes data with columns sized to their widest cell.
func (f *Formatter) Table(data TableData) error {
	if len(data.Columns) == 0 {
		return nil
	}

	widths := make([]int, len(data.Columns))
	for i, col := range data.Columns {
		widths[i] = max(len(col.Header), col.Width)
	}
	for _, row := range data.Rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], len(cell))
			}
		}
	}

	headers := make([]string, len(data.Columns))
	rules := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		headers[i] = col.Header
		rules[i] = strings.Repeat("-", widths[i])
	}

	if err := f.Println("%s", f.Bold(joinRow(headers, data.Columns, widths))); err != nil {
		return err
	}
	if err := f.Println("%s", strings.Join(rules, "  ")); err != nil {
		return err
	}
	for _, row := range data.Rows {
		if err := f.Println("%s", joinRow(row, data.Columns, widths)); err != nil {
			return err
		}
	}
	return nil
}

func joinRow(cells []string, cols []TableColumn, widths []int) string {
	if len(cells) > len(cols) {
		cells = cells[:len(cols)]
	}
	padded := make([]string, len(cells))
	for i, cell := range cells {
		padded[i] = pad(cell, widths[i], cols[i].Align)
	}
	return strings.TrimRight(strings.Join(padded, "  "), " ")
}

func pad(text string, width int, align Alignment) string {
	if len(text) >= width {
		return text
	}
	fill := strings.Repeat(" ", width-len(text))
	if align == AlignRight {
		return fill + text
	}
	return text + fill
}
