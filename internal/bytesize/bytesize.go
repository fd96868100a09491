// Package bytesize parses and prints byte quantities used in configuration,
// such as buffer chunk sizes and pool retention limits.
//
// Accepted input is a non-negative number with an optional unit:
//   - none or B: bytes
//   - Ki/KiB, Mi/MiB, Gi/GiB, Ti/TiB: powers of 1024
//   - K/KB, M/MB, G/GB, T/TB: powers of 1000
//
// Units are case-insensitive and may be separated from the number by spaces.
package bytesize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ByteSize is a number of bytes.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// ErrInvalid is wrapped by every parse failure.
var ErrInvalid = errors.New("invalid byte size")

var units = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// binary units from largest to smallest, used for formatting.
var binary = []struct {
	size   ByteSize
	suffix string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// ParseByteSize parses strings like "4KiB", "1.5Mi", "100MB" or "1024".
func ParseByteSize(s string) (ByteSize, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalid)
	}

	split := strings.IndexFunc(trimmed, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	numStr, unitStr := trimmed, ""
	if split >= 0 {
		numStr, unitStr = trimmed[:split], strings.TrimSpace(trimmed[split:])
	}
	if numStr == "" {
		return 0, fmt.Errorf("%w: %q has no number", ErrInvalid, s)
	}

	mult, ok := units[strings.ToLower(unitStr)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalid, unitStr)
	}

	if !strings.Contains(numStr, ".") {
		n, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		if n > math.MaxUint64/uint64(mult) {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalid, s)
		}
		return ByteSize(n) * mult, nil
	}

	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	total := f * float64(mult)
	if total >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalid, s)
	}
	return ByteSize(total), nil
}

// String prints the size in the largest binary unit. Exact multiples have
// no fraction ("4KiB"); other values keep two decimals ("1.50MiB").
func (b ByteSize) String() string {
	for _, u := range binary {
		if b < u.size {
			continue
		}
		if b%u.size == 0 {
			return strconv.FormatUint(uint64(b/u.size), 10) + u.suffix
		}
		return fmt.Sprintf("%.2f%s", float64(b)/float64(u.size), u.suffix)
	}
	return strconv.FormatUint(uint64(b), 10) + "B"
}

// UnmarshalText lets viper, mapstructure and yaml decode sizes from strings.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText writes the size so that UnmarshalText reads back the same
// value: exact binary multiples use their unit, anything else plain bytes.
func (b ByteSize) MarshalText() ([]byte, error) {
	for _, u := range binary {
		if b >= u.size && b%u.size == 0 {
			return []byte(strconv.FormatUint(uint64(b/u.size), 10) + u.suffix), nil
		}
	}
	return []byte(strconv.FormatUint(uint64(b), 10)), nil
}

// Int returns the size as an int, saturating at math.MaxInt.
func (b ByteSize) Int() int {
	if uint64(b) > math.MaxInt {
		return math.MaxInt
	}
	return int(b)
}

func (b ByteSize) Uint64() uint64 { return uint64(b) }
