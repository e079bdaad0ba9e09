package events

import (
	"strconv"
	"strings"

	"solbox/crypto"
)

func addressString(addr [20]byte) string {
	var zero [20]byte
	if addr == zero {
		return ""
	}
	return crypto.FromRaw(addr).String()
}

func uintToString(v uint64) string { return strconv.FormatUint(v, 10) }

func intToString(v int64) string { return strconv.FormatInt(v, 10) }

func joinAmounts(values []uint64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = uintToString(v)
	}
	return strings.Join(parts, ",")
}
