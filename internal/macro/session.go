package macro

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"makcu/internal/proto"
)

// Header is the first line of a saved macro file. Load refuses files that
// do not start with it.
const Header = "MAKCU_MACRO_V1"

// DefaultMinDelay is the movement coalescing window while recording.
const DefaultMinDelay = 10 * time.Millisecond

var (
	// ErrBusy means the session is recording or playing and the requested
	// operation is not allowed in that state.
	ErrBusy = errors.New("macro session busy")

	// ErrCanceled means playback stopped at a cancellation point before
	// finishing the sequence.
	ErrCanceled = errors.New("macro playback canceled")

	// ErrBadFormat means a macro file or line could not be parsed.
	ErrBadFormat = errors.New("bad macro format")
)

// Session holds one recorded action sequence and its record/play state
// machine. The zero value is not usable; call NewSession.
type Session struct {
	mu      sync.Mutex
	actions []Action

	recording   bool
	playing     bool
	recordStart time.Time

	// minDelay drops mouse movements recorded closer together than this,
	// keeping hand-recorded macros from ballooning with jitter samples.
	minDelay       time.Duration
	recordMovement bool
	pacing         bool
	lastMove       time.Time

	cancel          chan struct{}
	cancelRequested bool
	done            chan struct{}
}

// NewSession returns an idle session with movement recording and paced
// playback enabled.
func NewSession() *Session {
	return &Session{
		minDelay:       DefaultMinDelay,
		recordMovement: true,
		pacing:         true,
	}
}

// SetRecordMovement toggles whether AddMouseMove records anything.
func (s *Session) SetRecordMovement(on bool) {
	s.mu.Lock()
	s.recordMovement = on
	s.mu.Unlock()
}

// SetPacing toggles timestamp-paced playback. With pacing off the actions
// run back to back.
func (s *Session) SetPacing(on bool) {
	s.mu.Lock()
	s.pacing = on
	s.mu.Unlock()
}

// SetMinDelay changes the movement coalescing window.
func (s *Session) SetMinDelay(d time.Duration) {
	s.mu.Lock()
	s.minDelay = d
	s.mu.Unlock()
}

// IsRecording reports whether a recording is in progress.
func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// IsPlaying reports whether playback is in progress.
func (s *Session) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// StartRecording clears the sequence and begins stamping added actions
// against a fresh start time. Fails while playing.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return fmt.Errorf("%w: playing", ErrBusy)
	}
	if s.recording {
		return fmt.Errorf("%w: already recording", ErrBusy)
	}
	s.actions = s.actions[:0]
	s.recording = true
	s.recordStart = time.Now()
	s.lastMove = time.Time{}
	return nil
}

// StopRecording ends the recording. Returns false if none was running.
func (s *Session) StopRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return false
	}
	s.recording = false
	log.Printf("Macro: recording stopped with %d actions", len(s.actions))
	return true
}

// stamp returns the timestamp for a newly added action: elapsed recording
// time while recording, otherwise the tail action's timestamp so manually
// built sequences stay monotonic.
func (s *Session) stamp() time.Duration {
	if s.recording {
		return time.Since(s.recordStart)
	}
	if n := len(s.actions); n > 0 {
		return s.actions[n-1].At
	}
	return 0
}

// add appends while idle or recording; playback owns the sequence.
func (s *Session) add(a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return fmt.Errorf("%w: playing", ErrBusy)
	}
	a.At = s.stamp()
	s.actions = append(s.actions, a)
	return nil
}

// AddKey appends a key press or release.
func (s *Session) AddKey(k proto.KeyCode, pressed bool) error {
	return s.add(Action{Kind: KindKey, Key: k, Pressed: pressed})
}

// AddMultiKey appends a simultaneous press or release of several keys.
func (s *Session) AddMultiKey(keys []proto.KeyCode, pressed bool) error {
	if len(keys) == 0 {
		return proto.ErrEmptyArgs
	}
	ks := make([]proto.KeyCode, len(keys))
	copy(ks, keys)
	return s.add(Action{Kind: KindMultiKey, Keys: ks, Pressed: pressed})
}

// AddTypeString appends typing a literal string.
func (s *Session) AddTypeString(text string) error {
	if text == "" {
		return proto.ErrEmptyArgs
	}
	return s.add(Action{Kind: KindTypeString, Text: text})
}

// AddMouseButton appends a mouse button press or release.
func (s *Session) AddMouseButton(b proto.MouseButton, pressed bool) error {
	return s.add(Action{Kind: KindMouseButton, Button: b, Pressed: pressed})
}

// AddMouseMove appends a relative cursor movement. While recording,
// movements are subject to the recording toggle and the coalescing
// window; manual adds while idle always land.
func (s *Session) AddMouseMove(dx, dy int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return fmt.Errorf("%w: playing", ErrBusy)
	}
	if s.recording {
		if !s.recordMovement {
			return nil
		}
		now := time.Now()
		if !s.lastMove.IsZero() && now.Sub(s.lastMove) < s.minDelay {
			return nil
		}
		s.lastMove = now
	}
	a := Action{Kind: KindMouseMove, X: dx, Y: dy}
	a.At = s.stamp()
	s.actions = append(s.actions, a)
	return nil
}

// AddMouseWheel appends a wheel movement.
func (s *Session) AddMouseWheel(delta int) error {
	return s.add(Action{Kind: KindMouseWheel, Delta: delta})
}

// AddDelay appends an explicit pause.
func (s *Session) AddDelay(d time.Duration) error {
	return s.add(Action{Kind: KindDelay, Hold: d})
}

// CaptureButton records a hardware button transition. Wire it as the
// device's button callback so physical clicks land in the recording; it
// is a no-op unless a recording is active.
func (s *Session) CaptureButton(b proto.MouseButton, pressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}
	s.actions = append(s.actions, Action{
		At:      time.Since(s.recordStart),
		Kind:    KindMouseButton,
		Button:  b,
		Pressed: pressed,
	})
}

// ActionCount returns the current sequence length.
func (s *Session) ActionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// Actions returns a copy of the sequence.
func (s *Session) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out
}

// Clear empties the sequence. It is a no-op while recording or playing.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording || s.playing {
		return
	}
	s.actions = s.actions[:0]
}

// Play runs the sequence repeat times against r, blocking until it
// finishes, fails, or is canceled. Pacing sleeps restore the recorded
// inter-action gaps; cancellation is checked before every action and
// between repeats, and interrupts pacing sleeps immediately.
func (s *Session) Play(r Runner, repeat int) error {
	if repeat < 1 {
		repeat = 1
	}

	s.mu.Lock()
	if s.recording || s.playing {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot play", ErrBusy)
	}
	if len(s.actions) == 0 {
		s.mu.Unlock()
		return nil
	}
	actions := make([]Action, len(s.actions))
	copy(actions, s.actions)
	pacing := s.pacing
	minDelay := s.minDelay
	s.playing = true
	s.cancel = make(chan struct{})
	s.cancelRequested = false
	s.done = make(chan struct{})
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	err := s.run(r, actions, repeat, pacing, minDelay, cancel)

	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
	close(done)
	return err
}

func (s *Session) run(r Runner, actions []Action, repeat int, pacing bool, minDelay time.Duration, cancel <-chan struct{}) error {
	for rep := 0; rep < repeat; rep++ {
		select {
		case <-cancel:
			return ErrCanceled
		default:
		}

		prev := time.Duration(0)
		for i, a := range actions {
			select {
			case <-cancel:
				return ErrCanceled
			default:
			}

			// Gaps below the coalescing window are noise, not pacing.
			if pacing && i > 0 {
				if gap := a.At - prev; gap >= minDelay {
					select {
					case <-cancel:
						return ErrCanceled
					case <-time.After(gap):
					}
				}
			}
			prev = a.At

			if err := a.execute(r); err != nil {
				return fmt.Errorf("action %d (%s): %w", i, a.Kind, err)
			}
		}
	}
	return nil
}

// PlayAsync runs Play on its own goroutine and delivers the result on the
// returned channel.
func (s *Session) PlayAsync(r Runner, repeat int) <-chan error {
	res := make(chan error, 1)
	go func() {
		res <- s.Play(r, repeat)
	}()
	return res
}

// Cancel stops an in-progress playback and blocks until it has fully
// stopped. A no-op when nothing is playing.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.playing || s.cancelRequested {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	s.cancelRequested = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	close(cancel)
	<-done
}

// Save writes the sequence to path: a header line, the action count, then
// one timestamped action per line.
func (s *Session) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create macro file: %w", err)
	}
	defer f.Close()
	if err := s.SaveTo(f); err != nil {
		return err
	}
	return f.Close()
}

// SaveTo writes the sequence to w in the macro file format.
func (s *Session) SaveTo(w io.Writer) error {
	actions := s.Actions()

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Header)
	fmt.Fprintln(bw, len(actions))
	for _, a := range actions {
		fmt.Fprintf(bw, "%d,%s\n", a.At.Milliseconds(), a.serialize())
	}
	return bw.Flush()
}

// Load replaces the sequence with the contents of the file at path. Fails
// while recording or playing, and on any malformed line.
func (s *Session) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open macro file: %w", err)
	}
	defer f.Close()
	return s.LoadFrom(f)
}

// LoadFrom replaces the sequence with actions parsed from r.
func (s *Session) LoadFrom(r io.Reader) error {
	s.mu.Lock()
	busy := s.recording || s.playing
	s.mu.Unlock()
	if busy {
		return fmt.Errorf("%w: cannot load", ErrBusy)
	}

	sc := bufio.NewScanner(r)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != Header {
		return fmt.Errorf("%w: missing header", ErrBadFormat)
	}
	if !sc.Scan() {
		return fmt.Errorf("%w: missing count", ErrBadFormat)
	}
	count, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || count < 0 {
		return fmt.Errorf("%w: count %q", ErrBadFormat, sc.Text())
	}

	actions := make([]Action, 0, count)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		a, err := parseAction(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", len(actions)+3, err)
		}
		actions = append(actions, a)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read macro file: %w", err)
	}
	if len(actions) != count {
		return fmt.Errorf("%w: header says %d actions, file has %d", ErrBadFormat, count, len(actions))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording || s.playing {
		return fmt.Errorf("%w: cannot load", ErrBusy)
	}
	s.actions = actions
	return nil
}
