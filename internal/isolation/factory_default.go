//go:build !linux

package isolation

// NewIsolator returns the platform-appropriate Isolator. Outside Linux only
// the direct child is killed on cancel.
func NewIsolator() Isolator {
	return NewFallbackIsolator()
}
