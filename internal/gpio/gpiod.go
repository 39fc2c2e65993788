package gpio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
)

// toolTimeout bounds each gpioset/gpioget invocation. The tools normally
// return in a few milliseconds; a hang indicates a stuck kernel driver.
const toolTimeout = 5 * time.Second

// gpiodBackend drives pins through the libgpiod command line tools
// (gpioset/gpioget). This is the preferred backend on modern kernels
// where the sysfs GPIO interface is deprecated or compiled out.
type gpiodBackend struct {
	chip    string
	setPath string
	getPath string
}

// newGpiod probes for the libgpiod tools and the configured gpiochip
// device. Missing prerequisites return a probeError so detection can
// fall through to the next backend.
func newGpiod(cfg config.GPIOConfig) (Backend, error) {
	setPath := cfg.GPIOSetPath
	if setPath == "" {
		setPath = "gpioset"
	}
	getPath := cfg.GPIOGetPath
	if getPath == "" {
		getPath = "gpioget"
	}

	resolvedSet, err := exec.LookPath(setPath)
	if err != nil {
		return nil, probeError{reason: fmt.Sprintf("gpioset not found: %v", err)}
	}
	resolvedGet, err := exec.LookPath(getPath)
	if err != nil {
		return nil, probeError{reason: fmt.Sprintf("gpioget not found: %v", err)}
	}

	chip := cfg.Chip
	if chip == "" {
		chip = "gpiochip0"
	}
	if _, err := os.Stat("/dev/" + chip); err != nil {
		return nil, probeError{reason: fmt.Sprintf("/dev/%s not present: %v", chip, err)}
	}

	return &gpiodBackend{
		chip:    chip,
		setPath: resolvedSet,
		getPath: resolvedGet,
	}, nil
}

func (b *gpiodBackend) Name() string {
	return "gpiod"
}

// SetPin drives a pin via gpioset.
//
// gpioset releases the line on exit, which leaves the pin at its
// last driven level on Raspberry Pi class hardware. This matches the
// relay-board use case: the level persists between invocations.
func (b *gpiodBackend) SetPin(pin int, high bool) error {
	level := "0"
	if high {
		level = "1"
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	arg := fmt.Sprintf("%d=%s", pin, level)
	cmd := exec.CommandContext(ctx, b.setPath, b.chip, arg)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("gpioset timed out after %v", toolTimeout)
		}
		return fmt.Errorf("gpioset %s %s: %w (output: %s)", b.chip, arg, err, strings.TrimSpace(string(output)))
	}

	return nil
}

// GetPin reads a pin level via gpioget.
func (b *gpiodBackend) GetPin(pin int) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.getPath, b.chip, strconv.Itoa(pin))
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return false, fmt.Errorf("gpioget timed out after %v", toolTimeout)
		}
		return false, fmt.Errorf("gpioget %s %d: %w (output: %s)", b.chip, pin, err, strings.TrimSpace(string(output)))
	}

	value := strings.TrimSpace(string(output))
	switch value {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("gpioget %s %d: unexpected output %q", b.chip, pin, value)
	}
}

func (b *gpiodBackend) Close() error {
	return nil
}
