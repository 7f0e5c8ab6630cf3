package device

import (
	"strconv"
	"strings"
)

// IsValidAddress reports whether s is an IPv4 dotted quad: four decimal octets
// in 0-255, one to three digits each, nothing else.
func IsValidAddress(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if len(part) == 0 || len(part) > 3 {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}
