package utils

import (
	"fmt"
	"time"
)

// Unknown is shown for sizes and types that have not been learned yet.
const Unknown = "?"

// ConvertBytesToHumanReadable formats a byte count with a binary unit.
// Negative counts are unknown sizes.
func ConvertBytesToHumanReadable(bytes int64) string {
	if bytes < 0 {
		return Unknown
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTP"[exp])
}

// FormatProgress renders "received/total", falling back to just the received
// amount when the total is unknown.
func FormatProgress(received, total int64) string {
	if total <= 0 {
		return ConvertBytesToHumanReadable(received)
	}
	return ConvertBytesToHumanReadable(received) + "/" + ConvertBytesToHumanReadable(total)
}

// HumanTimeLeft renders the time until end as hh:mm:ss. It returns "" when end
// is zero or already past.
func HumanTimeLeft(end, now time.Time) string {
	if end.IsZero() {
		return ""
	}
	diff := end.Sub(now)
	if diff <= 0 {
		return ""
	}
	secs := int64(diff / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
