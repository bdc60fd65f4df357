package storage

import (
	"fmt"
	"strings"
)

// NormalizeKey converts a scanned key value to a canonical string form,
// suitable for in-memory hash-lookup maps (e.g. "63099" or "WAYZATA").
//
// Backends must not assume a particular driver type for key columns
// (SQLite can hand back []byte, SQL Server int64); this helper keeps the
// chunk-classification maps consistent across backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
