//go:build !darwin && !linux

package clip

// New returns a no-op backend; native capture is only built for Linux and
// macOS.
func New() Backend {
	return newHeadless()
}
