//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

// On platforms without mlock support we can still zero memory on release,
// but cannot prevent swapping.
func lockMemoryPlatform() (ProtectionLevel, error) {
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
