package supervisor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talkie-dictation/talkie/internal/config"
)

type fakeVAD struct {
	suspended bool
	resumed   bool
}

func (f *fakeVAD) Suspend() { f.suspended = true }
func (f *fakeVAD) Resume()  { f.resumed = true }

type fakeSwapper struct {
	calls int
	err   error
}

func (f *fakeSwapper) Swap(cfg config.Config) error {
	f.calls++
	return f.err
}

func newTestSupervisor(t *testing.T, vad VADController) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "talkie.conf")
	store, err := config.Load(cfgPath)
	require.NoError(t, err)
	statePath := filepath.Join(dir, ".talkie")
	sup, err := New(store, vad, statePath)
	require.NoError(t, err)
	return sup, statePath
}

func TestApplyChangeSuspendsAndResumesVADWhileTranscribing(t *testing.T) {
	vad := &fakeVAD{}
	sup, _ := newTestSupervisor(t, vad)
	require.NoError(t, sup.SetTranscribing(true))

	sw := &fakeSwapper{}
	sup.RegisterSwapper("input_device", sw)

	next := sup.Current()
	next.InputDevice = "usb-mic"
	require.NoError(t, sup.ApplyChange(next))

	require.True(t, vad.suspended)
	require.True(t, vad.resumed)
	require.Equal(t, 1, sw.calls)
	require.Equal(t, "usb-mic", sup.Current().InputDevice)
}

func TestApplyChangeSkipsVADWhenNotTranscribing(t *testing.T) {
	vad := &fakeVAD{}
	sup, _ := newTestSupervisor(t, vad)

	sw := &fakeSwapper{}
	sup.RegisterSwapper("typing_delay_ms", sw)

	next := sup.Current()
	next.TypingDelayMs = 20
	require.NoError(t, sup.ApplyChange(next))

	require.False(t, vad.suspended)
	require.Equal(t, 1, sw.calls)
}

func TestApplyChangeNoOpWhenNoWatchedFieldChanges(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)
	sw := &fakeSwapper{}
	sup.RegisterSwapper("input_device", sw)

	next := sup.Current()
	next.ConfidenceThreshold = 50 // not a watched swap field
	require.NoError(t, sup.ApplyChange(next))
	require.Equal(t, 0, sw.calls)
}

func TestApplyChangeRetriesOnceThenSucceeds(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)

	attempts := 0
	sw := swapperFunc(func(cfg config.Config) error {
		attempts++
		if attempts == 1 {
			return errRetryableForTest
		}
		return nil
	})
	sup.RegisterSwapper("input_device", sw)
	sup.retryBackoff = time.Millisecond

	next := sup.Current()
	next.InputDevice = "usb-mic"
	require.NoError(t, sup.ApplyChange(next))
	require.Equal(t, 2, attempts)
}

func TestApplyChangePropagatesRequiresRestart(t *testing.T) {
	sup, _ := newTestSupervisor(t, nil)
	sw := &fakeSwapper{err: ErrRequiresRestart}
	sup.RegisterSwapper("speech_engine", sw)

	next := sup.Current()
	next.SpeechEngine = "sherpa"
	err := sup.ApplyChange(next)
	require.ErrorIs(t, err, ErrRequiresRestart)
}

func TestSetTranscribingMirrorsStateFile(t *testing.T) {
	sup, statePath := newTestSupervisor(t, nil)
	require.NoError(t, sup.SetTranscribing(true))

	got, err := ReadState(statePath)
	require.NoError(t, err)
	require.True(t, got)

	require.NoError(t, sup.SetTranscribing(false))
	got, err = ReadState(statePath)
	require.NoError(t, err)
	require.False(t, got)
}

func TestObserveTranscribingUpdatesInMemoryFlagWithoutRewritingFile(t *testing.T) {
	sup, statePath := newTestSupervisor(t, nil)
	require.NoError(t, WriteState(statePath, true))

	sup.ObserveTranscribing(true)
	require.True(t, sup.Transcribing())

	got, err := ReadState(statePath)
	require.NoError(t, err)
	require.True(t, got)
}

func TestPollStateNotifiesOnChange(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, ".talkie")

	sup, err := New(mustStore(t, dir), nil, statePath)
	require.NoError(t, err)

	stop := make(chan struct{})
	changes := make(chan bool, 4)
	go PollState(statePath, 5*time.Millisecond, stop, func(on bool) { changes <- on })

	require.NoError(t, sup.SetTranscribing(true))

	select {
	case on := <-changes:
		require.True(t, on)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for poll notification")
	}
	close(stop)
}

func mustStore(t *testing.T, dir string) *config.Store {
	t.Helper()
	store, err := config.Load(filepath.Join(dir, "talkie.conf"))
	require.NoError(t, err)
	return store
}

type swapperFunc func(config.Config) error

func (f swapperFunc) Swap(cfg config.Config) error { return f(cfg) }

var errRetryableForTest = &retryableError{}

type retryableError struct{}

func (*retryableError) Error() string { return "transient swap failure" }
