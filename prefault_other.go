//go:build !linux

package parcoll

// prefaultRegion is a no-op on non-Linux platforms.
func prefaultRegion(data []byte) {}
