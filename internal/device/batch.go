package device

import (
	"strings"
	"time"

	"makcu/internal/proto"
)

// Batch accumulates encoded commands and transmits them as one contiguous
// write. It is the only construct that guarantees transmission order
// across multiple logical operations; everything else on the connection
// carries no cross-call ordering promise.
type Batch struct {
	d    *Device
	cmds []string
	err  error // first build error, surfaced by Execute
}

// Batch starts a new command batch.
func (d *Device) Batch() *Batch {
	return &Batch{d: d}
}

func (b *Batch) add(cmd string, err error) *Batch {
	if b.err == nil && err != nil {
		b.err = err
		return b
	}
	if err == nil {
		b.cmds = append(b.cmds, cmd)
	}
	return b
}

// MouseMove appends a relative cursor movement.
func (b *Batch) MouseMove(dx, dy int) *Batch {
	return b.add(proto.Move(dx, dy), nil)
}

// MouseMoveTo appends an absolute cursor movement.
func (b *Batch) MouseMoveTo(x, y int) *Batch {
	return b.add(proto.MoveTo(x, y), nil)
}

// MouseDown appends a button press.
func (b *Batch) MouseDown(btn proto.MouseButton) *Batch {
	return b.add(proto.ButtonSet(btn, true))
}

// MouseUp appends a button release.
func (b *Batch) MouseUp(btn proto.MouseButton) *Batch {
	return b.add(proto.ButtonSet(btn, false))
}

// MouseClick appends count press/release cycles.
func (b *Batch) MouseClick(btn proto.MouseButton, count int) *Batch {
	if count < 1 {
		count = 1
	}
	return b.add(proto.Click(btn, count))
}

// MouseWheel appends a wheel movement.
func (b *Batch) MouseWheel(delta int) *Batch {
	return b.add(proto.Wheel(delta), nil)
}

// KeyDown appends a key press.
func (b *Batch) KeyDown(k proto.KeyCode) *Batch {
	return b.add(proto.KeyDown(k), nil)
}

// KeyUp appends a key release.
func (b *Batch) KeyUp(k proto.KeyCode) *Batch {
	return b.add(proto.KeyUp(k), nil)
}

// KeyPress appends a press/release cycle.
func (b *Batch) KeyPress(k proto.KeyCode, hold time.Duration) *Batch {
	return b.add(proto.KeyPress(k, int(hold.Milliseconds())), nil)
}

// TypeString appends typing a literal string.
func (b *Batch) TypeString(text string) *Batch {
	return b.add(proto.TypeString(text))
}

// Delay appends an on-device pause between the surrounding commands.
func (b *Batch) Delay(dur time.Duration) *Batch {
	return b.add(proto.DeviceDelay(int(dur.Milliseconds())), nil)
}

// Len returns the number of accumulated commands.
func (b *Batch) Len() int {
	return len(b.cmds)
}

// Execute transmits the accumulated commands in a single write, in
// submission order. The batch is always fire-and-forget: success means
// the bytes were queued.
func (b *Batch) Execute() error {
	if b.err != nil {
		return b.err
	}
	if len(b.cmds) == 0 {
		return nil
	}
	return b.d.ch.Write(strings.Join(b.cmds, ""))
}
