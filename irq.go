package nrf24

import "sync"

// dispatch reads the pending interrupt flags and performs their side effects
// in a fixed order: transmit failure, transmit success, then received data.
// A single status snapshot carries all three, so both transmit outcomes are
// settled before the RX FIFO is touched. It returns the flags it found.
// Call with d.mu held.
func (d *Device) dispatch() IRQ {
	reason := d.nop().IRQ()
	if reason == 0 {
		return 0
	}
	log := d.log.WithField("irq", reason)

	if reason&IRQTxFailed != 0 {
		d.lastTXFailed = true
		d.flushTX()
		d.clearIRQ(IRQTxFailed)
		log.Debug("transmit failed, TX FIFO flushed")
	}
	if reason&IRQTxOK != 0 {
		d.lastTXFailed = false
		d.clearIRQ(IRQTxOK)
	}
	if reason&IRQRxReady != 0 {
		// RX_DR is edge-triggered: it has to be cleared even when payloads
		// remain, or no further interrupt is raised.
		if _, fifo := d.readRegister(_FIFO_STATUS); fifo&_FIFO_RX_FULL == 0 {
			d.clearIRQ(IRQRxReady)
		}
		st, width := d.readPayloadWidth()
		if !validWidth(width) || !validPipe(st.RxPipe()) {
			d.discardRX(width, st.RxPipe())
		}
	}
	return reason
}

// discardRX drops the whole RX FIFO after the chip reported a payload
// that cannot be read, so the FIFO never gets stuck on it.
func (d *Device) discardRX(width byte, pipe int) {
	d.flushRX()
	d.clearIRQ(IRQRxReady)
	d.log.WithField("width", width).WithField("pipe", pipe).Warn("bogus RX payload, RX FIFO flushed")
}

// irqLine owns the edge watch on the IRQ pin. The watch is installed while
// at least one user (a read loop or a transmit) holds the line, so a
// transmit issued while a read loop runs reuses the loop's registration.
//
// While a transmit is in flight every notification goes to tx, the channel
// the transmit waits on. Otherwise notifications go to rx, the read loop's.
type irqLine struct {
	pin InterruptPin

	// reg serializes Watch/Unwatch. It is never taken by notify, so
	// Unwatch may wait for a running handler.
	reg   sync.Mutex
	users int

	mu           sync.Mutex
	transmitting bool

	rx chan struct{}
	tx chan struct{}
}

func newIRQLine(pin InterruptPin) *irqLine {
	return &irqLine{
		pin: pin,
		rx:  make(chan struct{}, 1),
		tx:  make(chan struct{}, 1),
	}
}

func (l *irqLine) acquire() error {
	l.reg.Lock()
	defer l.reg.Unlock()
	if l.users == 0 {
		if err := l.pin.Watch(FallingEdge, l.notify); err != nil {
			return err
		}
	}
	l.users++
	return nil
}

func (l *irqLine) release() error {
	l.reg.Lock()
	defer l.reg.Unlock()
	l.users--
	if l.users == 0 {
		return l.pin.Unwatch()
	}
	return nil
}

// notify is the edge handler. It never blocks: one pending notification per
// channel is enough since every wake-up re-reads the chip.
func (l *irqLine) notify() {
	l.mu.Lock()
	ch := l.rx
	if l.transmitting {
		ch = l.tx
	}
	l.mu.Unlock()
	post(ch)
}

// beginTransmit routes notifications to the transmit and drops a stale one.
func (l *irqLine) beginTransmit() {
	l.mu.Lock()
	l.transmitting = true
	l.mu.Unlock()
	drain(l.tx)
}

// endTransmit routes notifications back to the read loop. If the transmit
// saw received data, or a notification arrived after its last wake-up, the
// read loop is woken so the payload is not left in the FIFO.
func (l *irqLine) endTransmit(rxSeen bool) {
	l.mu.Lock()
	l.transmitting = false
	l.mu.Unlock()
	if drain(l.tx) || rxSeen {
		post(l.rx)
	}
}

func (l *irqLine) inTransmit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transmitting
}

func post(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
