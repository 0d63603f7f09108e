package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Credits is a fixed-point credit amount in hundredths of a credit.
// The smallest priced unit (a discard refund) is 25.
type Credits int64

const (
	Credit        Credits = 100
	QuarterCredit Credits = 25
	HalfCredit    Credits = 50
)

// WholeCredits returns n credits.
func WholeCredits(n int) Credits { return Credits(n) * Credit }

// Mul scales c by n.
func (c Credits) Mul(n int) Credits { return c * Credits(n) }

// String renders c with two decimals, e.g. "2.25".
func (c Credits) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Float returns c as a float; only for display and metrics.
func (c Credits) Float() float64 { return float64(c) / 100 }

func (c Credits) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Credits) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := ParseCredits(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var errBadCredits = errors.New("invalid credit amount")

// ParseCredits parses a decimal string with at most two fractional digits.
// Only a leading '-' is accepted as a sign; both parts must be plain digits.
func ParseCredits(s string) (Credits, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, hasFrac := strings.Cut(s, ".")
	if !isDigits(whole) || (hasFrac && (!isDigits(frac) || len(frac) > 2)) {
		return 0, fmt.Errorf("%w: %q", errBadCredits, s)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadCredits, s)
	}
	var f int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		f, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", errBadCredits, s)
		}
	}
	v := Credits(w*100 + f)
	if neg {
		v = -v
	}
	return v, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
