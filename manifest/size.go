package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Size is a byte count. In TOML it may be an integer or a string with an
// optional KiB, MiB or GiB suffix ("512KiB", "4MiB").
type Size int

var sizeUnits = []struct {
	suffix string
	shift  uint
}{
	{"GiB", 30},
	{"MiB", 20},
	{"KiB", 10},
	{"B", 0},
}

// ParseSize parses a size string such as "4MiB" or "65536".
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	shift := uint(0)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			shift = u.shift
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, errors.Errorf("invalid size %q: negative", s)
	}
	if n > (1<<62)>>shift {
		return 0, errors.Errorf("invalid size %q: too large", s)
	}
	return Size(n << shift), nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (s *Size) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case int64:
		if x < 0 {
			return errors.Errorf("invalid size %d: negative", x)
		}
		*s = Size(x)
		return nil
	case string:
		n, err := ParseSize(x)
		if err != nil {
			return err
		}
		*s = n
		return nil
	}
	return errors.Errorf("invalid size %v: want an integer or a string", v)
}

// String renders the size with the largest exact unit.
func (s Size) String() string {
	for _, u := range sizeUnits[:3] {
		if n := int64(s); n != 0 && n%(1<<u.shift) == 0 {
			return fmt.Sprintf("%d%s", n>>u.shift, u.suffix)
		}
	}
	return strconv.FormatInt(int64(s), 10)
}

// Set implements flag.Value so sizes can come straight from the command line.
func (s *Size) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}
	*s = n
	return nil
}
