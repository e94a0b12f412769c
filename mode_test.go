package nrf24

import (
	"bytes"
	"testing"
)

func TestEnableRX(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})

	if err := dev.EnableRX(); err != nil {
		t.Fatalf("EnableRX: %v", err)
	}
	// CRC16 | PWR_UP | PRIM_RX
	if got := chip.reg(_CONFIG); got != 0x0F {
		t.Errorf("CONFIG = 0x%02X, want 0x0F", got)
	}
	if chip.ce.get() != High {
		t.Error("CE must be high while receiving")
	}
	for _, op := range chip.opLog() {
		if op.cmd == _W_REGISTER|_CONFIG && op.ce != Low {
			t.Error("CONFIG written with CE high")
		}
	}
	if dev.Mode() != ReceiveActive {
		t.Errorf("Mode = %s, want ReceiveActive", dev.Mode())
	}
	if st, err := dev.ProbeState(); err != nil || st != ReceiveActive {
		t.Errorf("ProbeState = %s, %v", st, err)
	}

	// Already listening: one CONFIG read and nothing else.
	chip.resetOps()
	if err := dev.EnableRX(); err != nil {
		t.Fatal(err)
	}
	ops := chip.opLog()
	if len(ops) != 1 || ops[0].cmd != _R_REGISTER|_CONFIG {
		t.Errorf("second EnableRX sent %X", chip.stream())
	}
	if chip.ce.get() != High {
		t.Error("CE dropped by a redundant EnableRX")
	}
}

func TestPowerCycle(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{CRCLength: CRCLength8})

	if st, _ := dev.ProbeState(); st != DeepSleep {
		t.Errorf("ProbeState = %s after init, want DeepSleep", st)
	}

	if err := dev.PowerUp(); err != nil {
		t.Fatal(err)
	}
	// EN_CRC | PWR_UP, 8 bit CRC keeps CRCO clear.
	if got := chip.reg(_CONFIG); got != 0x0A {
		t.Errorf("CONFIG = 0x%02X, want 0x0A", got)
	}
	if dev.Mode() != Standby {
		t.Errorf("Mode = %s, want Standby", dev.Mode())
	}
	if st, _ := dev.ProbeState(); st != Standby {
		t.Errorf("ProbeState = %s, want Standby", st)
	}

	chip.resetOps()
	dev.PowerUp()
	if bytes.Contains(chip.stream(), []byte{_W_REGISTER | _CONFIG}) {
		t.Error("PowerUp rewrote CONFIG while powered")
	}

	// A loaded TX FIFO outside RX mode is a transmission in progress.
	chip.set(func(c *fakeChip) { c.tx = [][]byte{{1}} })
	if st, _ := dev.ProbeState(); st != TransmitInFlight {
		t.Errorf("ProbeState = %s, want TransmitInFlight", st)
	}

	dev.EnableRX()
	if err := dev.PowerDown(); err != nil {
		t.Fatal(err)
	}
	if got := chip.reg(_CONFIG); got != _EN_CRC|_PRIM_RX {
		t.Errorf("CONFIG = 0x%02X, want 0x09", got)
	}
	if chip.ce.get() != Low {
		t.Error("CE must be low when powered down")
	}
	if dev.Mode() != DeepSleep {
		t.Errorf("Mode = %s, want DeepSleep", dev.Mode())
	}
	if st, _ := dev.ProbeState(); st != DeepSleep {
		t.Errorf("ProbeState = %s, want DeepSleep", st)
	}
}

func TestCloseDevice(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()

	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if chip.reg(_CONFIG)&_PWR_UP != 0 {
		t.Error("radio left powered after Close")
	}
	chip.resetOps()
	if err := dev.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(chip.opLog()) != 0 {
		t.Error("second Close touched the bus")
	}
}

func TestRadioStateString(t *testing.T) {
	for st, want := range map[RadioState]string{
		DeepSleep:        "DeepSleep",
		Standby:          "Standby",
		ReceiveActive:    "ReceiveActive",
		TransmitInFlight: "TransmitInFlight",
		RadioState(9):    "unknown",
	} {
		if got := st.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
