package sheets

import (
	"strconv"
	"strings"
)

// ColumnName converts a 0-based column index to its A1 letters:
// 0 is A, 25 is Z, 26 is AA.
func ColumnName(col int) string {
	if col < 0 {
		return ""
	}
	var buf []byte
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		buf = append(buf, byte('A'+(n-1)%26))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// quoteSheet quotes a sheet title for use in a range. Daily titles such as
// 3/7/2026 always need quoting.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// SheetRange addresses every cell of a sheet.
func SheetRange(title string) string {
	return quoteSheet(title)
}

// RowRange addresses one whole row. row is 0-based.
func RowRange(title string, row int) string {
	n := strconv.Itoa(row + 1)
	return quoteSheet(title) + "!" + n + ":" + n
}

// CellRange addresses one cell. row and col are 0-based.
func CellRange(title string, row, col int) string {
	return quoteSheet(title) + "!" + ColumnName(col) + strconv.Itoa(row+1)
}
