package nrf24

import "fmt"

// --- NRF24L01 Core Functions (SPI interaction) ---
//
// Everything in this file must be called with d.mu held.

// spiTransfer exchanges the first n bytes of the scratch buffer and returns
// the response without the status byte. After a bus error the exchange is
// skipped and a zeroed response returned, so the caller sees an idle chip
// until the error is collected with takeErr.
func (d *Device) spiTransfer(n int) (Status, []byte) {
	slice := d.scratch[:n]
	if d.busErr == nil {
		if err := d.conn.Tx(slice, slice); err != nil {
			d.busErr = err
			d.log.WithError(err).WithField("cmd", fmt.Sprintf("0x%02X", slice[0])).Error("SPI transfer failed")
		}
	}
	if d.busErr != nil {
		clear(slice)
	}
	d.status = Status(slice[0])
	return d.status, slice[1:]
}

// takeErr returns and resets the sticky bus error.
func (d *Device) takeErr() error {
	err := d.busErr
	d.busErr = nil
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBus, err)
	}
	return nil
}

func (d *Device) readRegister(reg byte) (Status, byte) {
	d.scratch[0] = _R_REGISTER | reg&_REGISTER_MASK
	d.scratch[1] = _NOP
	st, data := d.spiTransfer(2)
	return st, data[0]
}

// readRegisterN reads a multi-byte register such as an address into dst.
func (d *Device) readRegisterN(reg byte, dst []byte) Status {
	d.scratch[0] = _R_REGISTER | reg&_REGISTER_MASK
	for i := range dst {
		d.scratch[1+i] = _NOP
	}
	st, data := d.spiTransfer(1 + len(dst))
	copy(dst, data)
	return st
}

func (d *Device) writeRegister(reg byte, vals ...byte) Status {
	d.scratch[0] = _W_REGISTER | reg&_REGISTER_MASK
	copy(d.scratch[1:], vals)
	st, _ := d.spiTransfer(1 + len(vals))
	return st
}

func (d *Device) flushTX() {
	d.scratch[0] = _FLUSH_TX
	d.spiTransfer(1)
}

func (d *Device) flushRX() {
	d.scratch[0] = _FLUSH_RX
	d.spiTransfer(1)
}

func (d *Device) nop() Status {
	d.scratch[0] = _NOP
	st, _ := d.spiTransfer(1)
	return st
}

// clearIRQ clears the given flags. STATUS flags are write-1-to-clear.
func (d *Device) clearIRQ(irq IRQ) {
	d.writeRegister(_STATUS, byte(irq&_IRQ_MASK))
}

// readPayloadWidth returns the width of the payload at the head of the RX
// FIFO. The payload itself must be read in the same lock acquisition.
func (d *Device) readPayloadWidth() (Status, byte) {
	d.scratch[0] = _R_RX_PL_WID
	d.scratch[1] = _NOP
	st, data := d.spiTransfer(2)
	return st, data[0]
}

// readPayload pops width bytes from the RX FIFO into a new slice.
func (d *Device) readPayload(width byte) []byte {
	d.scratch[0] = _R_RX_PAYLOAD
	for i := 1; i <= int(width); i++ {
		d.scratch[i] = _NOP
	}
	_, data := d.spiTransfer(int(width) + 1)

	// Copy result BEFORE any further command reuses scratch
	result := make([]byte, len(data))
	copy(result, data)
	return result
}

func (d *Device) writePayload(p []byte) {
	d.scratch[0] = _W_TX_PAYLOAD
	copy(d.scratch[1:], p)
	d.spiTransfer(1 + len(p))
}
