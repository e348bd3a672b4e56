//go:build !linux

package sysinfo

// NewReader returns a Reader backed by gopsutil.
func NewReader() (Reader, error) {
	return psReader{}, nil
}
