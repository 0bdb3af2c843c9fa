package quantity

// MBPerGB is the number of megabytes in a gigabyte for cap accounting.
const MBPerGB = 1024

// Data is a traffic volume stored in thousandths of a megabyte.
//
// Examples:
//   - MB(1500) = 1500 MB (1500000)
//   - GB(100) = 102400 MB (102400000)
type Data int64

// MB creates a Data value from whole megabytes.
func MB(n int64) Data { return Data(n * scale) }

// GB creates a Data value from whole gigabytes.
func GB(n int64) Data { return Data(n * MBPerGB * scale) }

// ParseData parses a decimal megabyte value such as "1536.25".
func ParseData(s string) (Data, error) {
	v, err := parseScaled(s)
	if err != nil {
		return 0, err
	}
	return Data(v), nil
}

// Add returns the sum of two volumes.
func (d Data) Add(other Data) Data { return d + other }

// IsNegative reports whether the value is below zero.
func (d Data) IsNegative() bool { return d < 0 }

// Exceeds reports whether d is strictly greater than limit.
func (d Data) Exceeds(limit Data) bool { return d > limit }

// MBFloat returns the value in megabytes for display purposes.
func (d Data) MBFloat() float64 { return float64(d) / scale }

// GBFloat returns the value in gigabytes for display purposes.
func (d Data) GBFloat() float64 { return float64(d) / (MBPerGB * scale) }

// String formats the value in megabytes, e.g. "1536.25".
func (d Data) String() string { return formatScaled(int64(d)) }

// MarshalJSON encodes the value as a decimal megabyte number.
func (d Data) MarshalJSON() ([]byte, error) {
	return []byte(formatScaled(int64(d))), nil
}

// UnmarshalJSON decodes a decimal megabyte number or string.
func (d *Data) UnmarshalJSON(data []byte) error {
	v, err := unmarshalScaled(data)
	if err != nil {
		return err
	}
	*d = Data(v)
	return nil
}
