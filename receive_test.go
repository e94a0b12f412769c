package nrf24

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

// runLoop starts ReadLoop on its own goroutine and waits until it watches
// the IRQ pin.
func runLoop(t *testing.T, ctx context.Context, dev *Device, chip *fakeChip, count int) (<-chan []byte, <-chan error) {
	t.Helper()
	got := make(chan []byte, 8)
	errc := make(chan error, 1)
	go func() {
		errc <- dev.ReadLoop(ctx, func(p []byte) { got <- p }, count)
	}()
	waitFor(t, "IRQ watch", chip.irq.watching)
	return got, errc
}

func recvPayload(t *testing.T, got <-chan []byte) []byte {
	t.Helper()
	select {
	case p := <-got:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a payload")
		return nil
	}
}

func loopResult(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not return")
		return nil
	}
}

func TestReadEmpty(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()
	chip.resetOps()

	p, ok, err := dev.Read()
	if err != nil || ok || p != nil {
		t.Fatalf("Read = %v, %v, %v", p, ok, err)
	}
	if dev.LastPipe() != 7 {
		t.Errorf("LastPipe = %d, want 7", dev.LastPipe())
	}
	if chip.count(_R_RX_PAYLOAD) != 0 || chip.count(_R_RX_PL_WID) != 0 {
		t.Errorf("empty FIFO read anyway: %X", chip.stream())
	}
}

func TestReadWidths(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()

	for n := 1; n <= 32; n++ {
		want := bytes.Repeat([]byte{byte(n)}, n)
		chip.receive(1, want)

		p, ok, err := dev.Read()
		if err != nil || !ok {
			t.Fatalf("width %d: Read = %v, %v", n, ok, err)
		}
		if !bytes.Equal(p, want) {
			t.Errorf("width %d: got %X", n, p)
		}
		if chip.reg(_STATUS)&_RX_DR != 0 {
			t.Errorf("width %d: RX_DR not cleared", n)
		}
		if dev.LastPipe() != 1 {
			t.Errorf("width %d: LastPipe = %d", n, dev.LastPipe())
		}
	}
}

func TestReadBogusWidth(t *testing.T) {
	for _, width := range []int{0, 33} {
		chip := newFakeChip()
		dev := newTestDevice(t, chip, RadioConfig{})
		dev.EnableRX()
		chip.set(func(c *fakeChip) { c.widthOverride = width })
		chip.receive(1, []byte("data"))

		p, ok, err := dev.Read()
		if err != nil || ok || p != nil {
			t.Errorf("width %d: Read = %v, %v, %v", width, p, ok, err)
		}
		if chip.count(_FLUSH_RX) != 1 || chip.count(_R_RX_PAYLOAD) != 0 {
			t.Errorf("width %d: expected a flush and no payload read: %X", width, chip.stream())
		}
		if chip.reg(_STATUS)&_RX_DR != 0 {
			t.Errorf("width %d: RX_DR not cleared", width)
		}
	}
}

func TestReadLoopCount(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()

	got, errc := runLoop(t, context.Background(), dev, chip, 2)
	chip.receive(1, []byte("one"))
	if p := recvPayload(t, got); string(p) != "one" {
		t.Errorf("got %q", p)
	}
	chip.receive(1, []byte("two"))
	if p := recvPayload(t, got); string(p) != "two" {
		t.Errorf("got %q", p)
	}
	if err := loopResult(t, errc); err != nil {
		t.Fatalf("ReadLoop: %v", err)
	}

	for i := 0; i < 3; i++ {
		chip.receive(1, []byte("late"))
	}
	if len(got) != 0 {
		t.Errorf("handler called %d times after count was reached", len(got))
	}
	if w, u := chip.irq.counts(); w != 1 || u != 1 {
		t.Errorf("watches/unwatches = %d/%d, want 1/1", w, u)
	}
}

func TestReadLoopPendingPayload(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()
	// Arrives with nobody watching: no edge will announce it.
	chip.receive(2, []byte("early"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := dev.ReceiveBlocking(ctx)
	if err != nil {
		t.Fatalf("ReceiveBlocking: %v", err)
	}
	if string(p) != "early" || dev.LastPipe() != 2 {
		t.Errorf("got %q on pipe %d", p, dev.LastPipe())
	}
}

func TestReceiveBlockingTimeout(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := dev.ReceiveBlocking(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReceiveBlocking = %v, want deadline exceeded", err)
	}
	if chip.irq.watching() {
		t.Error("IRQ pin still watched")
	}
}

func TestReadLoopBogusWidth(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()

	ctx, cancel := context.WithCancel(context.Background())
	got, errc := runLoop(t, ctx, dev, chip, 0)
	chip.set(func(c *fakeChip) { c.widthOverride = 0 })
	chip.receive(1, []byte("data"))
	waitFor(t, "RX flush", func() bool { return chip.count(_FLUSH_RX) == 1 })

	cancel()
	if err := loopResult(t, errc); !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadLoop = %v, want context.Canceled", err)
	}
	if len(got) != 0 {
		t.Error("handler called for a bogus payload")
	}
}

func TestReadLoopErrors(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDeviceHW(t, chip, HardwareConfig{CE: chip.ce})
	if err := dev.ReadLoop(context.Background(), func([]byte) {}, 0); !errors.Is(err, ErrNoIRQ) {
		t.Errorf("ReadLoop without IRQ = %v, want ErrNoIRQ", err)
	}

	chip = newFakeChip()
	dev = newTestDevice(t, chip, RadioConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, errc := runLoop(t, ctx, dev, chip, 0)
	if err := dev.ReadLoop(ctx, func([]byte) {}, 0); !errors.Is(err, ErrLoopRunning) {
		t.Errorf("second ReadLoop = %v, want ErrLoopRunning", err)
	}
	cancel()
	loopResult(t, errc)
}

func TestStopReadLoop(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()

	_, errc := runLoop(t, context.Background(), dev, chip, 0)
	dev.StopReadLoop()
	// Noticed on the next notification.
	chip.irq.fire()
	if err := loopResult(t, errc); err != nil {
		t.Fatalf("ReadLoop: %v", err)
	}
	if chip.irq.watching() {
		t.Error("IRQ pin still watched")
	}
}

func TestReadLoopIdleStart(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()
	chip.resetOps()

	ctx, cancel := context.WithCancel(context.Background())
	_, errc := runLoop(t, ctx, dev, chip, 0)
	time.Sleep(10 * time.Millisecond)
	// IRQ is high: nothing pending, so nothing to read.
	if n := len(chip.opLog()); n != 0 {
		t.Errorf("idle loop used the bus: %X", chip.stream())
	}
	cancel()
	loopResult(t, errc)
}

func TestStopBeforeReadLoop(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()

	dev.StopReadLoop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dev.ReadLoop(ctx, func([]byte) {}, 0); err != nil {
		t.Fatalf("ReadLoop = %v, want an immediate stop", err)
	}
	if w, _ := chip.irq.counts(); w != 0 {
		t.Error("stopped loop watched the IRQ pin")
	}

	// The request is used up by the loop it stopped.
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := dev.ReadLoop(ctx, func([]byte) {}, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadLoop = %v, want deadline exceeded", err)
	}
}

func TestCloseStopsReadLoop(t *testing.T) {
	chip := newFakeChip()
	dev := newTestDevice(t, chip, RadioConfig{})
	dev.EnableRX()

	_, errc := runLoop(t, context.Background(), dev, chip, 0)
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	if err := loopResult(t, errc); err != nil {
		t.Fatalf("ReadLoop: %v", err)
	}
	if _, u := chip.irq.counts(); u != 1 {
		t.Error("IRQ pin not released")
	}
}
