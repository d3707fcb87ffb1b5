package sh1106

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"midiboy/internal/sim"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// op is one recorded Tx with the control line levels seen at that moment.
type op struct {
	data bool
	cs   gpio.Level
	w    []byte
}

type recorder struct {
	cs, dc *gpiotest.Pin
	freq   physic.Frequency
	mode   spi.Mode
	limit  int
	failAt int // 1-based Tx index that fails, 0 never
	ops    []op
}

func newRecorder() *recorder {
	return &recorder{
		cs: &gpiotest.Pin{N: "CS"},
		dc: &gpiotest.Pin{N: "DC"},
	}
}

func (r *recorder) String() string { return "recorder" }

func (r *recorder) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	r.freq, r.mode = f, mode
	return r, nil
}

func (r *recorder) Duplex() conn.Duplex { return conn.Half }

func (r *recorder) MaxTxSize() int { return r.limit }

func (r *recorder) Tx(w, _ []byte) error {
	if r.failAt > 0 && len(r.ops)+1 == r.failAt {
		r.ops = append(r.ops, op{})
		return errors.New("bus fault")
	}
	r.ops = append(r.ops, op{
		data: r.dc.Read() == gpio.High,
		cs:   r.cs.Read(),
		w:    append([]byte(nil), w...),
	})
	return nil
}

func (r *recorder) TxPackets(p []spi.Packet) error {
	for _, pk := range p {
		if err := r.Tx(pk.W, pk.R); err != nil {
			return err
		}
	}
	return nil
}

func (r *recorder) reset() { r.ops = nil }

func newTestDev(t *testing.T) (*Dev, *recorder, *gpiotest.Pin) {
	t.Helper()
	r := newRecorder()
	rst := &gpiotest.Pin{N: "RST"}
	d, err := New(r, r.cs, r.dc, rst)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return d, r, rst
}

func cmd(b ...byte) op  { return op{data: false, cs: gpio.Low, w: b} }
func data(b ...byte) op { return op{data: true, cs: gpio.Low, w: b} }

func expectOps(t *testing.T, got []op, want ...op) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d transfers, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.data != w.data || g.cs != w.cs || !bytes.Equal(g.w, w.w) {
			t.Errorf("transfer %d = {data:%v cs:%s % x}, want {data:%v cs:%s % x}",
				i, g.data, g.cs, g.w, w.data, w.cs, w.w)
		}
	}
}

func TestNewBusSettings(t *testing.T) {
	d, r, rst := newTestDev(t)
	if r.freq != 10*physic.MegaHertz {
		t.Errorf("frequency = %s, want 10MHz", r.freq)
	}
	if r.mode != spi.Mode0|spi.NoCS {
		t.Errorf("mode = %v, want Mode0|NoCS", r.mode)
	}
	if r.cs.Read() != gpio.High {
		t.Error("cs must be released after init")
	}
	if rst.Read() != gpio.High {
		t.Error("reset line must end high")
	}
	if got := d.String(); !strings.HasPrefix(got, "sh1106.Dev{recorder") {
		t.Errorf("String() = %q", got)
	}
}

func TestNewWithoutCSUsesPortChipSelect(t *testing.T) {
	r := newRecorder()
	if _, err := New(r, nil, r.dc, nil); err != nil {
		t.Fatal(err)
	}
	if r.mode != spi.Mode0 {
		t.Errorf("mode = %v, want Mode0", r.mode)
	}
}

func TestPortChipSelectFramesPerTx(t *testing.T) {
	r := newRecorder()
	d, err := New(r, nil, r.dc, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.reset()

	// Without a CS pin every Tx is a separate hardware frame: each page of
	// Clear is one command frame followed by one data frame.
	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	if len(r.ops) != 2*Pages {
		t.Fatalf("Clear() sent %d transfers, want %d", len(r.ops), 2*Pages)
	}
	for i, o := range r.ops {
		if o.data != (i%2 == 1) {
			t.Errorf("transfer %d data=%v", i, o.data)
		}
	}
}

func TestNewRequiresDC(t *testing.T) {
	if _, err := New(newRecorder(), nil, nil, nil); err == nil {
		t.Error("New without dc pin should fail")
	}
}

func TestResetSequence(t *testing.T) {
	_, r, _ := newTestDev(t)

	want := []op{cmd(0xAE, 0x40, 0xA1, 0xC0, 0x81, 0xFF)}
	for page := byte(0); page < Pages; page++ {
		want = append(want, cmd(0x02, 0x10, 0xB0|page), data(make([]byte, Width)...))
	}
	want = append(want, cmd(0xAF))
	expectOps(t, r.ops, want...)
}

func TestScrollMasking(t *testing.T) {
	d, r, _ := newTestDev(t)
	r.reset()

	if err := d.SetScroll(70); err != nil {
		t.Fatal(err)
	}
	if d.Scroll() != 6 {
		t.Errorf("SetScroll(70) -> %d, want 6", d.Scroll())
	}
	if err := d.AddScroll(-10); err != nil {
		t.Fatal(err)
	}
	if d.Scroll() != 60 {
		t.Errorf("AddScroll(-10) from 6 -> %d, want 60", d.Scroll())
	}
	if err := d.AddScroll(8); err != nil {
		t.Fatal(err)
	}
	if d.Scroll() != 4 {
		t.Errorf("AddScroll(8) from 60 -> %d, want 4", d.Scroll())
	}
	expectOps(t, r.ops, cmd(0x46), cmd(0x7C), cmd(0x44))
}

func TestSetPosition(t *testing.T) {
	tests := []struct {
		name   string
		scroll uint8
		x, y   uint8
		want   []byte
	}{
		{"origin", 0, 0, 0, []byte{0x02, 0x10, 0xB0}},
		{"column high nibble", 0, 30, 3, []byte{0x00, 0x12, 0xB3}},
		{"scrolled one page", 8, 5, 2, []byte{0x07, 0x10, 0xB3}},
		{"partial page ignored", 15, 0, 0, []byte{0x02, 0x10, 0xB1}},
		{"page wraps", 56, 0, 3, []byte{0x02, 0x10, 0xB2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, r, _ := newTestDev(t)
			if err := d.SetScroll(tt.scroll); err != nil {
				t.Fatal(err)
			}
			r.reset()
			if err := d.SetPosition(tt.x, tt.y); err != nil {
				t.Fatal(err)
			}
			expectOps(t, r.ops, cmd(tt.want...))
		})
	}
}

func TestDrawBitmapInverse(t *testing.T) {
	d, r, _ := newTestDev(t)
	r.reset()

	if err := d.DrawBitmap([]byte{0xFF, 0x00}, true); err != nil {
		t.Fatal(err)
	}
	if err := d.DrawBitmap([]byte{0x81, 0x7E}, false); err != nil {
		t.Fatal(err)
	}
	expectOps(t, r.ops, data(0x00, 0xFF), data(0x81, 0x7E))
}

func TestDrawBitmapAt(t *testing.T) {
	d, r, _ := newTestDev(t)
	r.reset()

	glyphs := bytes.NewReader([]byte{0x1F, 0x11, 0x1F, 0x00, 0x1F, 0x00})
	if err := d.DrawBitmapAt(glyphs, 3, 3, true); err != nil {
		t.Fatal(err)
	}
	expectOps(t, r.ops, data(0xFF, 0xE0, 0xFF))

	r.reset()
	if err := d.DrawBitmapAt(glyphs, 4, 5, false); err == nil {
		t.Error("short read should fail")
	}
	if len(r.ops) != 0 {
		t.Errorf("short read must not send anything, sent %+v", r.ops)
	}
}

func TestDrawSpace(t *testing.T) {
	d, r, _ := newTestDev(t)
	r.reset()

	if err := d.DrawSpace(3, false); err != nil {
		t.Fatal(err)
	}
	if err := d.DrawSpace(2, true); err != nil {
		t.Fatal(err)
	}
	if err := d.DrawSpace(0, true); err != nil {
		t.Fatal(err)
	}
	expectOps(t, r.ops, data(0, 0, 0), data(0xFF, 0xFF))
}

func TestRegisterCommands(t *testing.T) {
	tests := []struct {
		name string
		call func(d *Dev) error
		want []byte
	}{
		{"contrast", func(d *Dev) error { return d.SetContrast(0x3C) }, []byte{0x81, 0x3C}},
		{"enable", func(d *Dev) error { return d.Enable(true) }, []byte{0xAF}},
		{"halt", func(d *Dev) error { return d.Halt() }, []byte{0xAE}},
		{"invert on", func(d *Dev) error { return d.Invert(true) }, []byte{0xA7}},
		{"invert off", func(d *Dev) error { return d.Invert(false) }, []byte{0xA6}},
		{"all on", func(d *Dev) error { return d.AllOn(true) }, []byte{0xA5}},
		{"all on off", func(d *Dev) error { return d.AllOn(false) }, []byte{0xA4}},
		{"mirror", func(d *Dev) error { return d.SetMirror(false, true) }, []byte{0xA0, 0xC8}},
		{"nop", func(d *Dev) error { return d.Nop() }, []byte{0xE3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, r, _ := newTestDev(t)
			r.reset()
			if err := tt.call(d); err != nil {
				t.Fatal(err)
			}
			expectOps(t, r.ops, cmd(tt.want...))
		})
	}
}

func TestTrackedRegisters(t *testing.T) {
	d, _, _ := newTestDev(t)
	if d.Contrast() != 0xFF || !d.Enabled() {
		t.Errorf("after reset: contrast=%#x enabled=%v", d.Contrast(), d.Enabled())
	}
	if err := d.SetContrast(0x20); err != nil {
		t.Fatal(err)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if d.Contrast() != 0x20 || d.Enabled() {
		t.Errorf("after halt: contrast=%#x enabled=%v", d.Contrast(), d.Enabled())
	}
}

func TestFailedWriteKeepsCachedRegisters(t *testing.T) {
	d, r, _ := newTestDev(t)
	if err := d.SetScroll(8); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"set scroll", func() error { return d.SetScroll(40) }},
		{"add scroll", func() error { return d.AddScroll(8) }},
		{"contrast", func() error { return d.SetContrast(0x20) }},
		{"enable", func() error { return d.Enable(false) }},
	}
	for _, tt := range tests {
		r.reset()
		r.failAt = 1
		if err := tt.call(); err == nil {
			t.Fatalf("%s: expected bus error", tt.name)
		}
	}
	if d.Scroll() != 8 || d.Contrast() != 0xFF || !d.Enabled() {
		t.Errorf("cached registers changed by failed writes: scroll=%d contrast=%#x enabled=%v",
			d.Scroll(), d.Contrast(), d.Enabled())
	}

	r.failAt = 0
	if err := d.AddScroll(8); err != nil {
		t.Fatal(err)
	}
	if d.Scroll() != 16 {
		t.Errorf("Scroll() = %d, want 16", d.Scroll())
	}
}

func TestTxSplitsAtLimit(t *testing.T) {
	d, r, _ := newTestDev(t)
	r.reset()
	d.max = 4

	if err := d.DrawSpace(10, true); err != nil {
		t.Fatal(err)
	}
	expectOps(t, r.ops,
		data(0xFF, 0xFF, 0xFF, 0xFF),
		data(0xFF, 0xFF, 0xFF, 0xFF),
		data(0xFF, 0xFF),
	)
}

func TestTransactionReleasesOnError(t *testing.T) {
	d, r, _ := newTestDev(t)
	r.reset()
	r.failAt = 1

	if err := d.SetPosition(0, 0); err == nil {
		t.Fatal("expected bus error")
	}
	if r.cs.Read() != gpio.High {
		t.Error("cs must be released after a failed transfer")
	}

	// The lock must be free again.
	r.failAt = 0
	if err := d.Nop(); err != nil {
		t.Fatalf("Nop() after failure = %v", err)
	}
}

func TestTransactionStopsAfterFirstError(t *testing.T) {
	d, r, _ := newTestDev(t)
	r.reset()
	r.failAt = 1

	// Clear's first page fails on its command transfer; the data transfer
	// of that page and the remaining pages must not be sent.
	if err := d.Clear(); err == nil {
		t.Fatal("expected bus error")
	}
	if len(r.ops) != 1 {
		t.Errorf("sent %d transfers after failure, want 1", len(r.ops))
	}
}

func TestTransactionReleasesOnPanic(t *testing.T) {
	d, r, _ := newTestDev(t)
	r.reset()

	func() {
		defer func() { _ = recover() }()
		_ = d.transact(func(t *txn) {
			t.command(0xE3)
			panic("boom")
		})
	}()
	if r.cs.Read() != gpio.High {
		t.Error("cs must be released after a panic")
	}
	if len(r.ops) != 0 {
		t.Errorf("queued bytes must be discarded on panic, sent %+v", r.ops)
	}
	if err := d.Nop(); err != nil {
		t.Fatalf("Nop() after panic = %v", err)
	}
}

func newSimDev(t *testing.T) (*Dev, *sim.Panel) {
	t.Helper()
	p := sim.NewPanel()
	p.Fill(0xA5)
	d, err := New(p, p.CS, p.DC, p.RST)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return d, p
}

func TestResetLeavesPanelBlankAndOn(t *testing.T) {
	_, p := newSimDev(t)

	st := p.State()
	if !st.On || !st.MirrorX || st.MirrorY || st.Contrast != 0xFF || st.StartLine != 0 {
		t.Errorf("unexpected state after reset: %+v", st)
	}
	for page := 0; page < Pages; page++ {
		visible := p.Page(page)[ColumnOffset : ColumnOffset+Width]
		if !bytes.Equal(visible, make([]byte, Width)) {
			t.Fatalf("page %d not blank after reset", page)
		}
	}
	if p.Unknown() != 0 {
		t.Errorf("controller saw %d unknown commands", p.Unknown())
	}
}

func TestClearIsIdempotent(t *testing.T) {
	d, p := newSimDev(t)

	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	first := p.Image()
	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	second := p.Image()
	if !bytes.Equal(first.Pix, second.Pix) {
		t.Error("two consecutive clears differ")
	}
}

func TestDrawAfterClearOnlyShowsNewBytes(t *testing.T) {
	d, p := newSimDev(t)

	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := d.SetPosition(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.DrawBitmap([]byte{0x01, 0x80}, false); err != nil {
		t.Fatal(err)
	}

	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			want := (x == 0 && y == 0) || (x == 1 && y == 7)
			if got := p.Lit(x, y); got != want {
				t.Fatalf("pixel (%d,%d) lit=%v, want %v", x, y, got, want)
			}
		}
	}
}

func TestScrolledPositionKeepsScreenRow(t *testing.T) {
	d, p := newSimDev(t)

	if err := d.SetScroll(16); err != nil {
		t.Fatal(err)
	}
	if err := d.SetPosition(10, 1); err != nil {
		t.Fatal(err)
	}
	if err := d.DrawSpace(1, true); err != nil {
		t.Fatal(err)
	}
	for y := 0; y < Height; y++ {
		want := y >= 8 && y < 16
		if got := p.Lit(10, y); got != want {
			t.Errorf("pixel (10,%d) lit=%v, want %v", y, got, want)
		}
	}
}
