package sheets

import (
	"fmt"
	"strings"
)

// ColumnName converts a 1-based column number to its A1 letters.
func ColumnName(n int) string {
	if n < 1 {
		n = 1
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// QuoteSheet quotes a sheet title for use in A1 notation when needed.
func QuoteSheet(title string) string {
	plain := title != ""
	for _, r := range title {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			plain = false
			break
		}
	}
	if plain {
		return title
	}
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// RowRange returns the A1 range covering columns 1..columns of a single row.
func RowRange(sheet string, row, columns int) string {
	return fmt.Sprintf("%s!A%d:%s%d", QuoteSheet(sheet), row, ColumnName(columns), row)
}
