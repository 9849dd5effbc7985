package linktable

import "fmt"

var units = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// UnitFor picks the unit a size is best shown in. Unknown sizes get "".
func UnitFor(bytes int64) string {
	if bytes < 0 {
		return ""
	}
	i := 0
	for v := bytes; v >= 1024 && i < len(units)-1; v /= 1024 {
		i++
	}
	return units[i]
}

// FormatIn renders bytes in unit, with one decimal for anything above B.
func FormatIn(bytes int64, unit string, withUnit bool) string {
	if bytes < 0 {
		return Unknown
	}
	div := float64(1)
	found := false
	for _, u := range units {
		if u == unit {
			found = true
			break
		}
		div *= 1024
	}
	if !found {
		return Unknown
	}

	var s string
	if unit == "B" {
		s = fmt.Sprintf("%d", bytes)
	} else {
		s = fmt.Sprintf("%.1f", float64(bytes)/div)
	}
	if withUnit {
		s += unit
	}
	return s
}

// SizeText is what the size column shows for r: the size alone before a
// download starts, "received/total" once it runs.
func (r *Row) SizeText() string {
	unit := UnitFor(r.Bytes)
	switch r.State {
	case "":
		if r.Bytes < 0 {
			return Unknown
		}
		return FormatIn(r.Bytes, unit, true)
	default:
		if r.Bytes < 0 {
			unit = UnitFor(r.Received)
			return FormatIn(r.Received, unit, true) + "/" + Unknown
		}
		return FormatIn(r.Received, unit, false) + "/" + FormatIn(r.Bytes, unit, true)
	}
}
