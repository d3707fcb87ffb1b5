package sh1106

import (
	"fmt"

	appLog "midiboy/internal/log"

	"periph.io/x/conn/v3/gpio"
)

type busMode uint8

const (
	modeUnset busMode = iota
	modeCommand
	modeData
)

// txn queues the bytes of one bus transaction. Bytes of the same mode are
// sent in a single Tx; switching mode flushes the queue before the DC line
// changes. The first failure sticks and everything after it is discarded.
type txn struct {
	d       *Dev
	mode    busMode
	buf     []byte
	err     error
	commits []func()
}

// transact runs body with the Dev locked and chip-select asserted. Queued
// bytes are flushed when body returns, then chip-select is released and the
// lock dropped. The release also runs if body panics, in which case the
// queued bytes are discarded.
func (d *Dev) transact(body func(t *txn)) (err error) {
	d.mu.Lock()
	if d.cs != nil {
		if err := d.cs.Out(gpio.Low); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("sh1106: assert cs: %w", err)
		}
	}

	t := txn{d: d, buf: d.scratch[:0]}
	completed := false
	defer func() {
		if completed {
			t.flush()
			if t.err == nil {
				for _, fn := range t.commits {
					fn()
				}
			}
		}
		if d.cs != nil {
			if err := d.cs.Out(gpio.High); err != nil && t.err == nil {
				t.err = fmt.Errorf("sh1106: release cs: %w", err)
			}
		}
		d.scratch = t.buf[:0]
		d.mu.Unlock()

		if t.err != nil {
			appLog.Error("sh1106 transaction failed", t.err)
			if err == nil {
				err = t.err
			}
		}
	}()

	body(&t)
	completed = true
	return nil
}

// onCommit runs fn under the Dev lock once every queued byte was sent.
// Cached register values are updated this way so a failed transfer leaves
// them matching the controller.
func (t *txn) onCommit(fn func()) {
	t.commits = append(t.commits, fn)
}

func (t *txn) setMode(m busMode) {
	if t.err != nil || t.mode == m {
		return
	}
	t.flush()
	if t.err != nil {
		return
	}
	level := gpio.Low
	if m == modeData {
		level = gpio.High
	}
	if err := t.d.dc.Out(level); err != nil {
		t.err = fmt.Errorf("sh1106: dc pin: %w", err)
		return
	}
	t.mode = m
}

func (t *txn) command(b ...byte) {
	t.setMode(modeCommand)
	t.write(b)
}

func (t *txn) data(b []byte) {
	t.setMode(modeData)
	t.write(b)
}

func (t *txn) data1(b byte) {
	t.setMode(modeData)
	if t.err == nil {
		t.buf = append(t.buf, b)
	}
}

func (t *txn) write(b []byte) {
	if t.err == nil {
		t.buf = append(t.buf, b...)
	}
}

// flush sends the queued bytes, split at the connection's size limit.
func (t *txn) flush() {
	for off := 0; off < len(t.buf) && t.err == nil; {
		end := len(t.buf)
		if t.d.max > 0 && end-off > t.d.max {
			end = off + t.d.max
		}
		if err := t.d.c.Tx(t.buf[off:end], nil); err != nil {
			t.err = fmt.Errorf("sh1106: tx: %w", err)
		}
		off = end
	}
	t.buf = t.buf[:0]
}
