// Package quantity provides fixed-point bandwidth and data-volume values.
// All arithmetic is integer-only; floating point is used for display only.
package quantity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// scale is the number of stored units per whole unit (three decimal places).
const scale = 1000

var (
	errEmptyValue    = errors.New("quantity: empty value")
	errInvalidValue  = errors.New("quantity: invalid value")
	errTooPrecise    = errors.New("quantity: more than three decimal places")
	errValueOverflow = errors.New("quantity: value out of range")
)

// formatScaled renders a scaled integer as a decimal string without trailing zeros.
func formatScaled(v int64) string {
	sign := ""
	u := uint64(v)
	if v < 0 {
		sign = "-"
		u = uint64(-v)
	}
	whole := u / scale
	frac := u % scale
	if frac == 0 {
		return sign + strconv.FormatUint(whole, 10)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%03d", frac), "0")
	return sign + strconv.FormatUint(whole, 10) + "." + fracStr
}

// parseScaled parses a decimal string such as "12.5" into thousandths.
func parseScaled(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errEmptyValue
	}
	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	wholePart, fracPart, hasDot := strings.Cut(s, ".")
	if wholePart == "" && (!hasDot || fracPart == "") {
		return 0, fmt.Errorf("%w: %q", errInvalidValue, raw)
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if !isDigits(wholePart) || (hasDot && !isDigits(fracPart)) {
		return 0, fmt.Errorf("%w: %q", errInvalidValue, raw)
	}
	trimmedFrac := strings.TrimRight(fracPart, "0")
	if len(trimmedFrac) > 3 {
		return 0, fmt.Errorf("%w: %q", errTooPrecise, raw)
	}
	whole, errParse := strconv.ParseInt(wholePart, 10, 64)
	if errParse != nil || whole > (1<<62)/scale {
		return 0, fmt.Errorf("%w: %q", errValueOverflow, raw)
	}
	var frac int64
	if trimmedFrac != "" {
		padded := trimmedFrac + strings.Repeat("0", 3-len(trimmedFrac))
		frac, _ = strconv.ParseInt(padded, 10, 64)
	}
	value := whole*scale + frac
	if negative {
		value = -value
	}
	return value, nil
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

// unmarshalScaled accepts a JSON number or a quoted decimal string.
func unmarshalScaled(data []byte) (int64, error) {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return 0, nil
	}
	if unquoted, errUnquote := strconv.Unquote(s); errUnquote == nil {
		s = unquoted
	}
	if strings.ContainsAny(s, "eE") {
		return 0, fmt.Errorf("%w: exponent notation not supported", errInvalidValue)
	}
	return parseScaled(s)
}
