package relay

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// GPIO drives the relay coil through a host GPIO pin.
type GPIO struct {
	pin        gpio.PinIO
	activeHigh bool
}

// NewGPIO initializes the host GPIO subsystem and claims the named pin
// (e.g. "GPIO17"), leaving the relay released so the modem has power.
func NewGPIO(pinName string, activeHigh bool) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio host init: %w", err)
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", pinName)
	}

	g := &GPIO{pin: pin, activeHigh: activeHigh}
	if err := g.SetPower(true); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *GPIO) SetPower(on bool) error {
	// Energizing the coil opens the power circuit.
	level := gpio.Level(!on == g.activeHigh)
	if err := g.pin.Out(level); err != nil {
		return fmt.Errorf("gpio pin %s: %w", g.pin.Name(), err)
	}

	return nil
}

// Close releases the relay so the modem is left powered.
func (g *GPIO) Close() error {
	return g.SetPower(true)
}
