package link

import (
	"errors"
	"io"
	"log"
	"time"

	"makcu/internal/proto"
)

// monitor drains inbound bytes for the life of one connection. Every byte
// not consumed as an acknowledgment is classified here: a byte below the
// notification threshold (and not CR/LF) is a button bitmask, everything
// else accumulates into acknowledgment lines for SendAndAwait. The stop
// channel is checked before every read so the port is never read after
// Close begins tearing it down.
func (c *Channel) monitor(port Transport, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 64)
	var line []byte

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				// Link reports closed; monitoring stops silently.
				return
			}
			log.Printf("Link: monitor read fault: %v", err)
			time.Sleep(c.timing.PollInterval)
			continue
		}

		for _, b := range buf[:n] {
			switch {
			case proto.IsNotification(b):
				c.updateButtons(proto.ButtonMask(b))
			case b == '\r' || b == '\n':
				if len(line) > 0 {
					c.deliverAck(string(line))
					line = line[:0]
				}
			default:
				line = append(line, b)
			}
		}
	}
}

// updateButtons stores the new mask with a single atomic store and fires
// callbacks once per changed bit. A byte equal to the cached mask produces
// no callbacks at all.
func (c *Channel) updateButtons(mask proto.ButtonMask) {
	old := proto.ButtonMask(c.buttons.Load())
	if mask == old {
		return
	}
	c.buttons.Store(uint32(mask))

	c.mu.Lock()
	cbs := make([]ButtonCallback, len(c.callbacks))
	copy(cbs, c.callbacks)
	c.mu.Unlock()
	if len(cbs) == 0 {
		return
	}

	diff := old ^ mask
	for bit := 0; bit < proto.ButtonCount; bit++ {
		if diff&(1<<bit) == 0 {
			continue
		}
		button := proto.MouseButton(bit)
		pressed := mask&(1<<bit) != 0
		for _, cb := range cbs {
			cb(button, pressed)
		}
	}
}

// deliverAck hands a completed acknowledgment line to the waiting command,
// if any. Acknowledgments arriving after their command timed out have no
// consumer and are dropped.
func (c *Channel) deliverAck(text string) {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()

	if p == nil {
		return
	}
	p.resp <- text
}
