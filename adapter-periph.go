package nrf24

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// edgePoll bounds each WaitForEdge so Unwatch never waits on an edge that
// does not come.
const edgePoll = 100 * time.Millisecond

// realPin wraps a gpio.PinIO to satisfy OutputPin and InterruptPin.
type realPin struct {
	gpio.PinIO

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (p *realPin) Out(l Level) error {
	return p.PinIO.Out(gpio.Level(l))
}

func (p *realPin) Read() Level {
	return Level(p.PinIO.Read())
}

func toGPIOEdge(edge Edge) gpio.Edge {
	switch edge {
	case RisingEdge:
		return gpio.RisingEdge
	case FallingEdge:
		return gpio.FallingEdge
	case BothEdges:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}

func (p *realPin) Watch(edge Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return fmt.Errorf("%w: pin %s already watched", ErrPkg, p.PinIO)
	}

	// The IRQ output is open-drain, active low.
	if err := p.PinIO.In(gpio.PullUp, toGPIOEdge(edge)); err != nil {
		return err
	}

	stop, done := make(chan struct{}), make(chan struct{})
	p.stop, p.done = stop, done
	go func() {
		defer close(done)
		for {
			edged := p.PinIO.WaitForEdge(edgePoll)
			select {
			case <-stop:
				return
			default:
			}
			if edged {
				handler()
			}
		}
	}()
	return nil
}

func (p *realPin) Unwatch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return nil
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil
	return p.PinIO.In(gpio.PullUp, gpio.NoEdge)
}

// Linux defaults, BCM numbering.
const (
	defaultSPIBus   = "/dev/spidev0.0"
	defaultSPIClock = physic.MegaHertz
	defaultCEPin    = 25
)

// Config adds the Linux wiring to RadioConfig.
type Config struct {
	RadioConfig
	// CEPin is the BCM number of the GPIO wired to CE. Defaults to 25.
	CEPin int `json:"ce_pin"`
	// IRQPin is the BCM number of the GPIO wired to IRQ.
	// Optional. Without it ReadLoop is unavailable and Write polls.
	IRQPin int `json:"irq_pin"`
	// SpiBusPath is the spidev device. Defaults to /dev/spidev0.0.
	SpiBusPath string `json:"spi_bus"`
	// SpiClockHz is the SPI clock. Defaults to 1MHz; the chip accepts up to 10MHz.
	SpiClockHz int `json:"spi_clock_hz"`
}

func lookupPin(role string, bcm int) (*realPin, error) {
	name := fmt.Sprintf("GPIO%d", bcm)
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: no %s pin %s", ErrInvalidConfig, role, name)
	}
	return &realPin{PinIO: pin}, nil
}

// New opens the SPI bus and GPIO pins through periph.io and initializes the
// radio on them. Closing the device closes the bus.
func New(c Config) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	if c.SpiBusPath == "" {
		c.SpiBusPath = defaultSPIBus
	}
	clock := defaultSPIClock
	if c.SpiClockHz > 0 {
		clock = physic.Frequency(c.SpiClockHz) * physic.Hertz
	}
	if c.CEPin == 0 {
		c.CEPin = defaultCEPin
	}

	hw := HardwareConfig{RadioConfig: c.RadioConfig}
	ce, err := lookupPin("CE", c.CEPin)
	if err != nil {
		return nil, err
	}
	hw.CE = ce
	if c.IRQPin != 0 {
		irq, err := lookupPin("IRQ", c.IRQPin)
		if err != nil {
			return nil, err
		}
		hw.IRQ = irq
	}

	port, err := spireg.Open(c.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", c.SpiBusPath, err)
	}
	conn, err := port.Connect(clock, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to create SPI connection: %w", err)
	}

	dev, err := NewWithHardware(hw, conn)
	if err != nil {
		port.Close()
		return nil, err
	}
	dev.nrfPort = port
	return dev, nil
}
