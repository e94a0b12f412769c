package nrf24

// Level represents the logical level of a pin (Low or High).
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "High"
	}
	return "Low"
}

// Edge represents the signal edge to trigger an interrupt.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

// SPI is a full-duplex SPI exchange with chip select handled by the
// implementation. The first byte clocked back by the nRF24L01 is always
// the STATUS register.
type SPI interface {
	// Tx sends w and reads into r.
	// len(r) must be >= len(w). w and r may be the same slice.
	Tx(w, r []byte) error
}

// OutputPin drives the CE line.
type OutputPin interface {
	Out(l Level) error
}

// InterruptPin is the IRQ line. The nRF24L01 pulls it low while any
// unmasked flag in STATUS is set.
type InterruptPin interface {
	// Read returns the current level of the pin.
	Read() Level
	// Watch configures the pin as input and calls handler every time edge
	// is detected, until Unwatch. handler must not block.
	Watch(edge Edge, handler func()) error
	// Unwatch removes the handler. No call to handler may start after
	// Unwatch returns.
	Unwatch() error
}
