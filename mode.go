package nrf24

import "time"

// RadioState is the operating mode of the transceiver.
type RadioState uint8

const (
	// DeepSleep is Power Down: PWR_UP clear, registers retained.
	DeepSleep RadioState = iota
	// Standby is Standby-I: powered, CE low.
	Standby
	// ReceiveActive is RX mode: PWR_UP and PRIM_RX set, CE high.
	ReceiveActive
	// TransmitInFlight is TX mode: a payload was loaded and CE pulsed.
	TransmitInFlight
)

func (s RadioState) String() string {
	switch s {
	case DeepSleep:
		return "DeepSleep"
	case Standby:
		return "Standby"
	case ReceiveActive:
		return "ReceiveActive"
	case TransmitInFlight:
		return "TransmitInFlight"
	default:
		return "unknown"
	}
}

const (
	powerUpDelay  = 5 * time.Millisecond  // oscillator start-up, worst case
	rxSettleDelay = 130 * time.Microsecond // Standby to RX
	cePulseWidth  = 30 * time.Microsecond  // datasheet minimum is 10us
)

// --- NRF24L01 Mode Controller ---
//
// All methods below expect d.mu to be held.

func (d *Device) setCE(l Level) {
	if err := d.config.CE.Out(l); err != nil && d.busErr == nil {
		d.busErr = err
		d.log.WithError(err).Error("failed to drive CE")
	}
	d.ce = l
}

// withCELow runs fn with CE low and restores the previous CE level.
// Configuration registers must only be written this way.
func (d *Device) withCELow(fn func()) {
	prev := d.ce
	d.setCE(Low)
	fn()
	if prev == High {
		d.setCE(High)
	}
}

// crcBits keeps the CRC configuration of a CONFIG value.
func crcBits(cfg byte) byte { return cfg & (_EN_CRC | _CRCO) }

// powerUp sets PWR_UP if it was clear and waits for the oscillator.
// It returns the CONFIG value now in effect.
func (d *Device) powerUp() byte {
	_, cfg := d.readRegister(_CONFIG)
	if cfg&_PWR_UP != 0 {
		return cfg
	}
	cfg |= _PWR_UP
	d.writeRegister(_CONFIG, cfg)
	time.Sleep(powerUpDelay)
	if d.mode == DeepSleep {
		d.mode = Standby
	}
	return cfg
}

func (d *Device) powerDown() {
	d.setCE(Low)
	_, cfg := d.readRegister(_CONFIG)
	d.writeRegister(_CONFIG, cfg&^byte(_PWR_UP))
	d.mode = DeepSleep
}

// enterReceive puts the chip in RX mode. It is a no-op, besides the CONFIG
// read, if the chip is already receiving.
func (d *Device) enterReceive() {
	_, cfg := d.readRegister(_CONFIG)
	if cfg&(_PWR_UP|_PRIM_RX) == _PWR_UP|_PRIM_RX && d.ce == High {
		d.mode = ReceiveActive
		return
	}
	d.setCE(Low)
	d.writeRegister(_CONFIG, crcBits(cfg)|_PWR_UP|_PRIM_RX)
	if cfg&_PWR_UP == 0 {
		time.Sleep(powerUpDelay)
	}
	d.setCE(High)
	time.Sleep(rxSettleDelay)
	d.mode = ReceiveActive
}

// prepareTransmit leaves RX mode for Standby-I without dropping power.
func (d *Device) prepareTransmit() {
	d.setCE(Low)
	_, cfg := d.readRegister(_CONFIG)
	d.writeRegister(_CONFIG, crcBits(cfg)|_PWR_UP)
	d.mode = Standby
}

// pulseTransmit starts sending the payload loaded in the TX FIFO.
func (d *Device) pulseTransmit() {
	d.setCE(High)
	time.Sleep(cePulseWidth)
	d.setCE(Low)
	d.mode = TransmitInFlight
}

func (d *Device) enterStandby() {
	d.setCE(Low)
	if d.mode != DeepSleep {
		d.mode = Standby
	}
}

// --- NRF24L01 Power Management ---

// EnableRX powers the radio up if needed and starts listening.
// This method is concurrent safe.
func (d *Device) EnableRX() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enterReceive()
	d.log.WithField("channel", d.config.Channel).Debug("receiver enabled")
	return d.takeErr()
}

// PowerDown puts the NRF24L01 into Power Down mode.
// In this mode, the radio is disabled with minimal current consumption (approx. 900nA).
// This method is concurrent safe.
func (d *Device) PowerDown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerDown()
	return d.takeErr()
}

// PowerUp wakes the NRF24L01 from Power Down mode into Standby-I.
// It blocks for the oscillator start-up time if the radio was powered down.
// This method is concurrent safe.
func (d *Device) PowerUp() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerUp()
	return d.takeErr()
}

// Mode returns the state the driver last moved the radio into.
// This method is concurrent safe.
func (d *Device) Mode() RadioState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// ProbeState derives the radio state from the chip itself: CONFIG, the CE
// level and, when transmitting, the TX FIFO.
// This method is concurrent safe.
func (d *Device) ProbeState() (RadioState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, cfg := d.readRegister(_CONFIG)
	state := Standby
	switch {
	case cfg&_PWR_UP == 0:
		state = DeepSleep
	case cfg&_PRIM_RX != 0:
		// PRIM_RX with CE low is idle.
		if d.ce == High {
			state = ReceiveActive
		}
	default:
		if _, fifo := d.readRegister(_FIFO_STATUS); fifo&_FIFO_TX_EMPTY == 0 {
			state = TransmitInFlight
		}
	}
	return state, d.takeErr()
}
