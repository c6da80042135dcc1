//go:build linux

package keystroke

import (
	"fmt"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/gvalkov/golang-evdev"
)

// LinuxAvailable reports whether this build can attempt the evdev/uinput
// keystroke sink. It is always true on Linux; whether /dev/uinput is
// actually writable is only known once NewLinuxSink tries to open it.
func LinuxAvailable() bool { return true }

// NewLinuxSink opens a virtual uinput keyboard and returns a Sink that
// synthesizes key-down/key-up event pairs for the finalized utterance text,
// pausing delay between keys.
func NewLinuxSink(delay time.Duration) (Sink, error) {
	dev, err := evdev.CreateDevice("talkie-dictation", evdev.InputId{
		BusType: 0x03, // BUS_USB
		Vendor:  0x1d6b,
		Product: 0x0101,
		Version: 1,
	}, keyBitset())
	if err != nil {
		return nil, fmt.Errorf("keystroke: open uinput device: %w", err)
	}
	s := &linuxSink{dev: dev}
	s.delay.Store(int64(delay))
	return s, nil
}

type linuxSink struct {
	dev   *evdev.UInputDevice
	delay atomic.Int64 // nanoseconds; read by Type's goroutine, written by the supervisor on config change
}

func (s *linuxSink) Init() error { return nil }

// SetDelay updates the inter-keystroke pause applied by future Type calls.
func (s *linuxSink) SetDelay(d time.Duration) {
	s.delay.Store(int64(d))
}

func (s *linuxSink) Type(text string) error {
	for _, r := range text {
		code, shifted, ok := runeToKeycode(r)
		if !ok {
			continue
		}
		if err := s.pressKey(code, shifted); err != nil {
			return fmt.Errorf("keystroke: type %q: %w", r, err)
		}
	}
	return nil
}

func (s *linuxSink) Cleanup() error {
	if s.dev == nil {
		return nil
	}
	return s.dev.Close()
}

func (s *linuxSink) pressKey(code uint16, shifted bool) error {
	if shifted {
		if err := s.emit(evdev.EV_KEY, evdev.KEY_LEFTSHIFT, 1); err != nil {
			return err
		}
	}
	if err := s.emit(evdev.EV_KEY, code, 1); err != nil {
		return err
	}
	if err := s.emit(evdev.EV_SYN, evdev.SYN_REPORT, 0); err != nil {
		return err
	}
	if err := s.emit(evdev.EV_KEY, code, 0); err != nil {
		return err
	}
	if shifted {
		if err := s.emit(evdev.EV_KEY, evdev.KEY_LEFTSHIFT, 0); err != nil {
			return err
		}
	}
	if err := s.emit(evdev.EV_SYN, evdev.SYN_REPORT, 0); err != nil {
		return err
	}
	// Virtual devices have no hardware debounce; a pause keeps the
	// receiving application's input queue from coalescing adjacent keys.
	if d := time.Duration(s.delay.Load()); d > 0 {
		time.Sleep(d)
	}
	return nil
}

func (s *linuxSink) emit(eventType, code uint16, value int32) error {
	return s.dev.WriteEvent(&evdev.InputEvent{
		Type:  eventType,
		Code:  code,
		Value: value,
	})
}

// runeToKeycode maps a rune to a US-QWERTY evdev keycode and whether it
// requires the shift modifier. Runes outside this layout are dropped.
func runeToKeycode(r rune) (code uint16, shifted bool, ok bool) {
	if code, ok := lowerKeycodes[unicode.ToLower(r)]; ok {
		return code, unicode.IsUpper(r), true
	}
	if code, ok := shiftedSymbolKeycodes[r]; ok {
		return code, true, true
	}
	return 0, false, false
}

var lowerKeycodes = map[rune]uint16{
	'a': evdev.KEY_A, 'b': evdev.KEY_B, 'c': evdev.KEY_C, 'd': evdev.KEY_D,
	'e': evdev.KEY_E, 'f': evdev.KEY_F, 'g': evdev.KEY_G, 'h': evdev.KEY_H,
	'i': evdev.KEY_I, 'j': evdev.KEY_J, 'k': evdev.KEY_K, 'l': evdev.KEY_L,
	'm': evdev.KEY_M, 'n': evdev.KEY_N, 'o': evdev.KEY_O, 'p': evdev.KEY_P,
	'q': evdev.KEY_Q, 'r': evdev.KEY_R, 's': evdev.KEY_S, 't': evdev.KEY_T,
	'u': evdev.KEY_U, 'v': evdev.KEY_V, 'w': evdev.KEY_W, 'x': evdev.KEY_X,
	'y': evdev.KEY_Y, 'z': evdev.KEY_Z,
	'0': evdev.KEY_0, '1': evdev.KEY_1, '2': evdev.KEY_2, '3': evdev.KEY_3,
	'4': evdev.KEY_4, '5': evdev.KEY_5, '6': evdev.KEY_6, '7': evdev.KEY_7,
	'8': evdev.KEY_8, '9': evdev.KEY_9,
	' ':  evdev.KEY_SPACE,
	'\n': evdev.KEY_ENTER,
	'.':  evdev.KEY_DOT,
	',':  evdev.KEY_COMMA,
	'-':  evdev.KEY_MINUS,
	'\'': evdev.KEY_APOSTROPHE,
	';':  evdev.KEY_SEMICOLON,
	'/':  evdev.KEY_SLASH,
}

var shiftedSymbolKeycodes = map[rune]uint16{
	'?': evdev.KEY_SLASH,
	'!': evdev.KEY_1,
	':': evdev.KEY_SEMICOLON,
	'"': evdev.KEY_APOSTROPHE,
}

func keyBitset() []uint16 {
	keys := make([]uint16, 0, len(lowerKeycodes)+2)
	for _, code := range lowerKeycodes {
		keys = append(keys, code)
	}
	keys = append(keys, evdev.KEY_LEFTSHIFT, evdev.KEY_ENTER)
	return keys
}
