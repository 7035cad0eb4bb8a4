package render

import "fmt"

var byteUnits = [...]string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders n with two decimals and a binary unit suffix.
// A raw count of exactly 1024 stays "1024.00B"; once scaled, a value that
// reaches 1024 moves to the next unit, so 1048576 is "1.00MB". Values beyond
// the terabyte range stay in TB.
func FormatBytes(n uint64) string {
	val := float64(n)
	unit := 0
	for unit < len(byteUnits)-1 && (val > 1024.0 || (unit > 0 && val >= 1024.0)) {
		val /= 1024.0
		unit++
	}
	return fmt.Sprintf("%.2f%s", val, byteUnits[unit])
}
