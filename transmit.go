package nrf24

import (
	"fmt"
	"time"
)

const (
	// pollInterval paces STATUS polling when no IRQ pin is configured.
	pollInterval = time.Millisecond
	// irqRecheckInterval paces STATUS polling alongside the IRQ pin. The
	// line stays low while any flag is set, so an RX_DR left over from
	// receive mode hides the falling edge of TX_DS.
	irqRecheckInterval = 10 * time.Millisecond
)

// Write sends p to the configured address and blocks until the chip reports
// the outcome. failed is true when the retransmit budget ran out without an
// acknowledgement. An empty payload is a no-op.
//
// The radio is put back in the mode it was in before the call. Sending from
// power down pays the oscillator start-up every time; call PowerUp first to
// avoid it. Write may be called while a ReadLoop runs, including from its
// handler.
// This method is concurrent safe.
func (d *Device) Write(p []byte) (failed bool, err error) {
	if len(p) == 0 {
		return false, nil
	}
	if len(p) > _MAX_PAYLOAD_BYTES {
		return false, fmt.Errorf("%w: %w (%d bytes), max is %d", ErrPkg, ErrPayloadTooLarge, len(p), _MAX_PAYLOAD_BYTES)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.irq != nil {
		if err := d.irq.acquire(); err != nil {
			return false, fmt.Errorf("failed to watch IRQ pin: %w", err)
		}
		defer d.irq.release()
	}

	_, cfg := d.readRegister(_CONFIG)
	wasAsleep := cfg&_PWR_UP == 0
	wasReceiving := cfg&(_PWR_UP|_PRIM_RX) == _PWR_UP|_PRIM_RX && d.ce == High

	d.setCE(Low)
	d.powerUp()
	if cfg&_PRIM_RX != 0 {
		d.prepareTransmit()
	}
	d.writePayload(p)

	if d.irq != nil {
		d.irq.beginTransmit()
	}
	d.pulseTransmit()
	seen, waitErr := d.awaitTransmit()
	if waitErr != nil {
		d.flushTX()
		d.clearIRQ(IRQTxOK | IRQTxFailed)
	}
	if d.irq != nil {
		d.irq.endTransmit(seen&IRQRxReady != 0)
	}

	// Restore with the lock still held; a read loop must not see the chip
	// between TX and RX mode.
	switch {
	case wasReceiving:
		d.enterReceive()
	case wasAsleep:
		d.powerDown()
	default:
		d.enterStandby()
	}

	if err := d.takeErr(); err != nil {
		return false, err
	}
	if waitErr != nil {
		return false, waitErr
	}
	d.log.WithField("len", len(p)).WithField("failed", d.lastTXFailed).Debug("transmit done")
	return d.lastTXFailed, nil
}

// awaitTransmit blocks until a dispatch settles the transmission or the
// timeout expires. Notifications caused by received data only are
// dispatched and waited past. Call with d.mu held.
func (d *Device) awaitTransmit() (IRQ, error) {
	deadline := time.NewTimer(d.config.TxTimeout)
	defer deadline.Stop()

	var wake <-chan struct{}
	interval := pollInterval
	if d.irq != nil {
		wake = d.irq.tx
		interval = irqRecheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seen IRQ
	for {
		select {
		case <-wake:
		case <-ticker.C:
		case <-deadline.C:
			d.log.WithField("timeout", d.config.TxTimeout).Warn("no transmit interrupt, TX FIFO flushed")
			return seen, fmt.Errorf("%w: %w", ErrPkg, ErrTimeout)
		}
		irq := d.dispatch()
		seen |= irq
		if irq&(IRQTxOK|IRQTxFailed) != 0 {
			return seen, nil
		}
		if d.busErr != nil {
			return seen, nil
		}
	}
}

// Transmit sends p and reports a missing acknowledgement as ErrMaxRetries.
// This method is concurrent safe.
func (d *Device) Transmit(p []byte) error {
	failed, err := d.Write(p)
	if err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}
	if failed {
		return fmt.Errorf("failed to send data: %w: %w", ErrPkg, ErrMaxRetries)
	}
	return nil
}
