// Package phone normalizes customer phone numbers to E.164 with a configurable
// default country code.
package phone

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmpty   = errors.New("phone number is required")
	ErrInvalid = errors.New("enter a valid phone number")
)

// Normalizer turns user-entered numbers into "+<country><subscriber>".
type Normalizer struct {
	countryCode      string // digits only
	subscriberDigits int
}

// NewNormalizer builds a Normalizer for a country code such as "+91" and the
// subscriber number length used in that country.
func NewNormalizer(defaultCountryCode string, subscriberDigits int) (*Normalizer, error) {
	cc := strings.TrimPrefix(strings.TrimSpace(defaultCountryCode), "+")
	if cc == "" || digitsOnly(cc) != cc || len(cc) > 3 {
		return nil, fmt.Errorf("invalid country code %q", defaultCountryCode)
	}
	if subscriberDigits < 4 || len(cc)+subscriberDigits > 15 {
		return nil, fmt.Errorf("invalid subscriber length %d", subscriberDigits)
	}
	return &Normalizer{countryCode: cc, subscriberDigits: subscriberDigits}, nil
}

// CountryCode returns the default country code with its leading plus.
func (n *Normalizer) CountryCode() string {
	return "+" + n.countryCode
}

// Normalize validates raw and returns it in E.164 form. Only numbers in the
// default country are accepted.
func (n *Normalizer) Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmpty
	}

	international := strings.HasPrefix(raw, "+")
	digits := digitsOnly(raw)
	if !international && strings.HasPrefix(digits, "00") {
		international = true
		digits = digits[2:]
	}

	local := len(n.countryCode) + n.subscriberDigits
	switch {
	case len(digits) == n.subscriberDigits && !international:
		return "+" + n.countryCode + digits, nil
	case len(digits) == n.subscriberDigits+1 && digits[0] == '0' && !international:
		return "+" + n.countryCode + digits[1:], nil
	case len(digits) == local && strings.HasPrefix(digits, n.countryCode):
		return "+" + digits, nil
	}
	return "", ErrInvalid
}

// Format renders a normalized number for display, e.g. "+91 98765 43210".
func (n *Normalizer) Format(e164 string) string {
	prefix := "+" + n.countryCode
	if !strings.HasPrefix(e164, prefix) {
		return e164
	}
	sub := e164[len(prefix):]
	if len(sub) != n.subscriberDigits || n.subscriberDigits%2 != 0 {
		return e164
	}
	half := n.subscriberDigits / 2
	return prefix + " " + sub[:half] + " " + sub[half:]
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
