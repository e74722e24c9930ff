package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count that unmarshals from human-readable strings like
// "64KiB", "2MiB", or "4M". Decimal suffixes (K, M, G) are powers of 1000,
// binary suffixes (KiB, MiB, GiB) are powers of 1024. A bare number is bytes.
type ByteSize int64

var byteSuffixes = []struct {
	suffix string
	factor int64
}{
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"GB", 1000 * 1000 * 1000},
	{"MB", 1000 * 1000},
	{"KB", 1000},
	{"G", 1000 * 1000 * 1000},
	{"M", 1000 * 1000},
	{"K", 1000},
	{"B", 1},
}

// ParseByteSize parses a human-readable size string.
func ParseByteSize(s string) (ByteSize, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("empty byte size")
	}
	for _, e := range byteSuffixes {
		if !strings.HasSuffix(raw, e.suffix) {
			continue
		}
		num := strings.TrimSpace(strings.TrimSuffix(raw, e.suffix))
		val, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
		}
		return ByteSize(val * float64(e.factor)), nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(val), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for viper decoding.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 { return int64(b) }

// String renders the size with the largest exact binary suffix.
func (b ByteSize) String() string {
	v := int64(b)
	switch {
	case v >= 1<<30 && v%(1<<30) == 0:
		return fmt.Sprintf("%dGiB", v>>30)
	case v >= 1<<20 && v%(1<<20) == 0:
		return fmt.Sprintf("%dMiB", v>>20)
	case v >= 1<<10 && v%(1<<10) == 0:
		return fmt.Sprintf("%dKiB", v>>10)
	default:
		return strconv.FormatInt(v, 10)
	}
}
