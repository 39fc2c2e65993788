package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// sysfsRoot is a variable so tests can point the backend at a
// temporary directory.
var sysfsRoot = "/sys/class/gpio"

// exportSettle is how long to wait after exporting a pin before its
// attribute files appear. udev needs a moment to fix up permissions.
const exportSettle = 100 * time.Millisecond

// sysfsBackend drives pins through the legacy /sys/class/gpio
// interface. Used as a fallback on older kernels without libgpiod.
type sysfsBackend struct {
	root string

	// exported tracks pins this process exported, for cleanup on Close.
	// Distinct outlets may be driven concurrently, so export bookkeeping
	// needs the lock.
	mu       sync.Mutex
	exported map[int]bool
}

// newSysfs probes for the sysfs GPIO interface.
func newSysfs() (Backend, error) {
	if _, err := os.Stat(filepath.Join(sysfsRoot, "export")); err != nil {
		return nil, probeError{reason: fmt.Sprintf("%s/export not present: %v", sysfsRoot, err)}
	}

	return &sysfsBackend{
		root:     sysfsRoot,
		exported: make(map[int]bool),
	}, nil
}

func (b *sysfsBackend) Name() string {
	return "sysfs"
}

// pinDir returns the attribute directory for a pin, exporting it first
// if this process has not already done so.
func (b *sysfsBackend) pinDir(pin int) (string, error) {
	dir := filepath.Join(b.root, fmt.Sprintf("gpio%d", pin))

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		exportPath := filepath.Join(b.root, "export")
		if err := os.WriteFile(exportPath, []byte(strconv.Itoa(pin)), 0200); err != nil {
			return "", fmt.Errorf("exporting gpio%d: %w", pin, err)
		}
		b.exported[pin] = true
		time.Sleep(exportSettle)
	}

	return dir, nil
}

func (b *sysfsBackend) SetPin(pin int, high bool) error {
	dir, err := b.pinDir(pin)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0644); err != nil {
		return fmt.Errorf("setting gpio%d direction: %w", pin, err)
	}

	value := "0"
	if high {
		value = "1"
	}
	if err := os.WriteFile(filepath.Join(dir, "value"), []byte(value), 0644); err != nil {
		return fmt.Errorf("writing gpio%d value: %w", pin, err)
	}

	return nil
}

func (b *sysfsBackend) GetPin(pin int) (bool, error) {
	dir, err := b.pinDir(pin)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(filepath.Join(dir, "value"))
	if err != nil {
		return false, fmt.Errorf("reading gpio%d value: %w", pin, err)
	}

	switch strings.TrimSpace(string(data)) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("gpio%d: unexpected value %q", pin, strings.TrimSpace(string(data)))
	}
}

// Close unexports every pin this process exported. Pins exported by
// other tooling are left alone.
func (b *sysfsBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	unexportPath := filepath.Join(b.root, "unexport")
	var firstErr error
	for pin := range b.exported {
		if err := os.WriteFile(unexportPath, []byte(strconv.Itoa(pin)), 0200); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unexporting gpio%d: %w", pin, err)
		}
	}
	return firstErr
}
