package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/141JosephAlen/ec-bot/internal/domain"
)

// ErrInvalidDate is returned for date values that match no accepted layout.
var ErrInvalidDate = errors.New("feed: invalid date")

var layouts = []string{
	time.RFC3339Nano,
	domain.ISOLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
}

var digits = regexp.MustCompile(`^-?\d+$`)

// ParseDate reads an instant from a string. Besides the layouts above it
// accepts epoch milliseconds. Eight digit values are read as YYYYMMDD.
func ParseDate(raw string) (domain.Millis, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	if digits.MatchString(raw) && len(raw) != 8 {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		return domain.Millis(ms), nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return domain.MillisOf(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// Date is a feed timestamp. The source sends ISO strings; older exports and
// pre-parsed documents carry epoch milliseconds, which pass through as is.
type Date struct {
	Millis domain.Millis
	// Raw keeps a value that could not be parsed so normalization can warn
	// about it instead of failing the whole document.
	Raw string
}

// At wraps an instant.
func At(m domain.Millis) Date {
	return Date{Millis: m}
}

// Value returns the instant, ErrInvalidDate when the source value was
// malformed, or zero when absent.
func (d Date) Value() (domain.Millis, error) {
	if d.Raw != "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDate, d.Raw)
	}
	return d.Millis, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	*d = Date{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			d.Raw = string(data)
			return nil
		}
		ms, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				d.Raw = string(data)
				return nil
			}
			ms = int64(f)
		}
		d.Millis = domain.Millis(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	ms, err := ParseDate(s)
	if err != nil {
		d.Raw = s
		return nil
	}
	d.Millis = ms
	return nil
}

// MarshalJSON writes ISO-8601, or null when absent.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.Millis == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(d.Millis.String())
}

// ID is an identifier the source sends either as a number or a string.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("feed: invalid id %s", data)
	}
	*id = ID(n.String())
	return nil
}
