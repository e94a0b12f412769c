package nrf24

import (
	"context"
	"fmt"
)

// Handler receives one payload. It runs on the ReadLoop goroutine without
// the device lock held, so it may call Write; it must not call ReadLoop.
type Handler func(payload []byte)

// Read returns the payload at the head of the RX FIFO, if any.
// It does not wait; the radio must be receiving (see EnableRX).
// This method is concurrent safe.
func (d *Device) Read() ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.read()
	if err := d.takeErr(); err != nil {
		return nil, false, err
	}
	return p, ok, nil
}

// LastPipe returns the data pipe reported by the last Read, or 7 if the RX
// FIFO was empty.
// This method is concurrent safe.
func (d *Device) LastPipe() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastPipe
}

// read pops one payload. The width query and the payload read happen under
// the same lock acquisition so the width cannot go stale.
// Call with d.mu held.
func (d *Device) read() ([]byte, bool) {
	st, fifo := d.readRegister(_FIFO_STATUS)
	d.lastPipe = st.RxPipe()
	if fifo&_FIFO_RX_EMPTY != 0 {
		return nil, false
	}

	wst, width := d.readPayloadWidth()
	if !validWidth(width) {
		d.discardRX(width, wst.RxPipe())
		return nil, false
	}
	p := d.readPayload(width)
	if st.IRQ()&IRQRxReady != 0 {
		d.clearIRQ(IRQRxReady)
	}
	return p, true
}

// StopReadLoop asks ReadLoop to return. A running loop notices after it
// handles its next IRQ notification; cancel the ReadLoop context to stop it
// while it waits. If no loop is running, the next ReadLoop returns at once.
func (d *Device) StopReadLoop() {
	d.stopLoop.Store(true)
}

// ReadLoop watches the IRQ pin and reads at most one payload per
// notification, passing it to handler. It returns after count payloads
// (0 means no limit), after StopReadLoop, when ctx is done or when the
// device is closed. Notifications raised while a Write is in flight belong
// to the Write; any payload they announce is read once the Write is over.
//
// Only one ReadLoop may run at a time.
// This method is concurrent safe.
func (d *Device) ReadLoop(ctx context.Context, handler Handler, count int) error {
	if d.irq == nil {
		return fmt.Errorf("%w: %w", ErrPkg, ErrNoIRQ)
	}
	if !d.loopActive.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %w", ErrPkg, ErrLoopRunning)
	}
	defer d.loopActive.Store(false)
	defer d.stopLoop.Store(false)
	if d.stopLoop.Load() {
		return nil
	}

	if err := d.irq.acquire(); err != nil {
		return fmt.Errorf("failed to watch IRQ pin: %w", err)
	}
	defer d.irq.release()
	// A payload that arrived before the watch holds IRQ low, so no edge
	// will announce it.
	if d.irq.pin.Read() == Low {
		post(d.irq.rx)
	}

	d.log.WithField("count", count).Debug("read loop started")
	defer d.log.Debug("read loop stopped")

	remaining := count
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		case <-d.irq.rx:
		}

		if !d.irq.inTransmit() {
			d.mu.Lock()
			p, ok := d.read()
			err := d.takeErr()
			d.mu.Unlock()
			if err != nil {
				return err
			}
			if ok {
				handler(p)
				if count > 0 {
					remaining--
					if remaining == 0 {
						return nil
					}
				}
			}
		}

		if d.stopLoop.Load() {
			return nil
		}
	}
}

// ReceiveBlocking waits for one payload or for ctx to be done.
// It needs an IRQ pin and cannot run alongside ReadLoop.
// This method is concurrent safe.
func (d *Device) ReceiveBlocking(ctx context.Context) ([]byte, error) {
	var got []byte
	if err := d.ReadLoop(ctx, func(p []byte) { got = p }, 1); err != nil {
		return nil, err
	}
	if got == nil {
		return nil, fmt.Errorf("%w: read loop stopped before a payload arrived", ErrPkg)
	}
	return got, nil
}
