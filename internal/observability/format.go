package observability

import "strconv"

func formatLatency(ns int64) string {
	return strconv.FormatInt(ns, 10)
}
