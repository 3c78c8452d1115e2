// Package sysmem reports total physical memory.
package sysmem

// FallbackBytes is assumed when the platform gives no answer.
const FallbackBytes uint64 = 4 << 30

// Total returns physical memory in bytes. ok is false when the value is
// FallbackBytes rather than a detected amount.
func Total() (bytes uint64, ok bool) {
	b, ok := totalSystemMemory()
	if !ok || b == 0 {
		return FallbackBytes, false
	}
	return b, true
}
