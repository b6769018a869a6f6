package utils

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// capacityPattern matches vendor capacity strings such as "10.5GB", "512 KB" or "0B"
var capacityPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([KMGTP]?B)?$`)

// capacityMultipliers are binary; the array displays GB meaning GiB
var capacityMultipliers = map[string]float64{
	"":   1,
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
	"PB": 1 << 50,
}

// ParseCapacity converts a vendor capacity string to a byte count, flooring
// fractional bytes. "-" and the empty string mean zero.
func ParseCapacity(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "-" {
		return 0, nil
	}

	matches := capacityPattern.FindStringSubmatch(strings.ToUpper(value))
	if matches == nil {
		return 0, fmt.Errorf("invalid capacity %q", value)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity %q: %w", value, err)
	}

	return int64(math.Floor(num * capacityMultipliers[matches[2]])), nil
}

// FormatBytes renders a byte count for logs and CLI output
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}
