package progress

import "fmt"

// FormatSpeed converts bytes/sec to a human readable string.
func FormatSpeed(bytesPerSec float64) string {
	switch {
	case bytesPerSec < 1024:
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	case bytesPerSec < 1024*1024:
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	case bytesPerSec < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB/s", bytesPerSec/(1024*1024*1024))
	}
}
