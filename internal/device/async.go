package device

import (
	"time"

	"makcu/internal/proto"
)

// Async variants run the operation on its own goroutine and deliver the
// result on the returned channel. Only the awaiting caller blocks.
// Concurrent async calls on one connection are NOT guaranteed to transmit
// in submission order — there is no sequencer beyond mutual exclusion on
// the raw write; use a Batch when order matters.

func (d *Device) async(fn func() error) <-chan error {
	res := make(chan error, 1)
	go func() {
		res <- fn()
	}()
	return res
}

// MouseMoveAsync is the deferred form of MouseMove.
func (d *Device) MouseMoveAsync(dx, dy int) <-chan error {
	return d.async(func() error { return d.MouseMove(dx, dy) })
}

// MouseMoveToAsync is the deferred form of MouseMoveTo.
func (d *Device) MouseMoveToAsync(x, y int) <-chan error {
	return d.async(func() error { return d.MouseMoveTo(x, y) })
}

// MouseClickAsync is the deferred form of MouseClick.
func (d *Device) MouseClickAsync(b proto.MouseButton, count int) <-chan error {
	return d.async(func() error { return d.MouseClick(b, count) })
}

// MouseWheelAsync is the deferred form of MouseWheel.
func (d *Device) MouseWheelAsync(delta int) <-chan error {
	return d.async(func() error { return d.MouseWheel(delta) })
}

// KeyPressAsync is the deferred form of KeyPress.
func (d *Device) KeyPressAsync(k proto.KeyCode, hold time.Duration) <-chan error {
	return d.async(func() error { return d.KeyPress(k, hold) })
}

// MultiKeyPressAsync is the deferred form of MultiKeyPress.
func (d *Device) MultiKeyPressAsync(keys []proto.KeyCode, hold time.Duration) <-chan error {
	return d.async(func() error { return d.MultiKeyPress(keys, hold) })
}

// TypeStringAsync is the deferred form of TypeString.
func (d *Device) TypeStringAsync(text string) <-chan error {
	return d.async(func() error { return d.TypeString(text) })
}
