package kibi

// Package kibi formats and parses byte sizes with binary (1024) multiples.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidByteSizeString = errors.New("Invalid byte size string")

var units = []string{"bytes", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes rounds down to the largest whole unit, eg 1536 -> "1 KB"
func FormatBytes(b int64) string {
	u := 0
	for u < len(units)-1 && b >= 1024 {
		b /= 1024
		u++
	}
	return fmt.Sprintf("%v %v", b, units[u])
}

// ParseBytes accepts a whole number with an optional suffix.
// Suffixes are case insensitive, and may be the full unit or just its first letter.
// Examples:
// 512 -> 512
// 50 bytes -> 50
// 64 kb -> 64*1024
// 512MB -> 512*1024*1024
// 2 g -> 2*1024*1024*1024
func ParseBytes(v string) (int64, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, ErrInvalidByteSizeString
	}
	value, err := strconv.ParseInt(v[:end], 10, 64)
	if err != nil {
		return 0, err
	}
	suffix := strings.TrimSpace(v[end:])
	if suffix == "" || suffix == "bytes" || suffix == "b" {
		return value, nil
	}
	multiplier := int64(1)
	for _, unit := range units[1:] {
		multiplier *= 1024
		full := strings.ToLower(unit)
		if suffix == full || suffix == full[:1] {
			return value * multiplier, nil
		}
	}
	return 0, ErrInvalidByteSizeString
}
