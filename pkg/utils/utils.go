// Package utils provides small helpers shared by the uadk-go commands.
package utils

import (
	"strconv"
	"strings"
)

// SanitizeName maps every character outside [A-Za-z0-9_-] to a hyphen so
// the result is usable as a CDI device name and a file name.
func SanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '-'
	}, s)
}

// HumanBytes formats n with a binary unit suffix. Zero renders as "-".
func HumanBytes(n uint64) string {
	if n == 0 {
		return "-"
	}
	units := []string{"B", "KiB", "MiB", "GiB"}
	i := 0
	for n >= 1024 && n%1024 == 0 && i < len(units)-1 {
		n /= 1024
		i++
	}
	return strconv.FormatUint(n, 10) + units[i]
}
