package quantity

// Bandwidth is a link speed stored in thousandths of a megabit per second (kbps).
//
// Examples:
//   - Mbps(50) = 50 Mbps (50000)
//   - Bandwidth(12500) = 12.5 Mbps
type Bandwidth int64

// Mbps creates a Bandwidth from whole megabits per second.
func Mbps(n int64) Bandwidth { return Bandwidth(n * scale) }

// ParseBandwidth parses a decimal megabit-per-second value such as "12.5".
func ParseBandwidth(s string) (Bandwidth, error) {
	v, err := parseScaled(s)
	if err != nil {
		return 0, err
	}
	return Bandwidth(v), nil
}

// Add returns the sum of two bandwidth values.
func (b Bandwidth) Add(other Bandwidth) Bandwidth { return b + other }

// Percent returns p percent of b, rounded down to the nearest kbps.
func (b Bandwidth) Percent(p int64) Bandwidth {
	return Bandwidth(int64(b) * p / 100)
}

// IsNegative reports whether the value is below zero.
func (b Bandwidth) IsNegative() bool { return b < 0 }

// Float returns the value in Mbps for display purposes.
func (b Bandwidth) Float() float64 { return float64(b) / scale }

// String formats the value in Mbps, e.g. "12.5".
func (b Bandwidth) String() string { return formatScaled(int64(b)) }

// MarshalJSON encodes the value as a decimal Mbps number.
func (b Bandwidth) MarshalJSON() ([]byte, error) {
	return []byte(formatScaled(int64(b))), nil
}

// UnmarshalJSON decodes a decimal Mbps number or string.
func (b *Bandwidth) UnmarshalJSON(data []byte) error {
	v, err := unmarshalScaled(data)
	if err != nil {
		return err
	}
	*b = Bandwidth(v)
	return nil
}
