//go:build linux

package isolation

// NewIsolator returns the platform-appropriate Isolator.
func NewIsolator() Isolator {
	return NewLinuxIsolator()
}
