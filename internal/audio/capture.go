// Package audio captures microphone audio via malgo and hands it off,
// frame by frame, to the VAD pipeline (C1).
package audio

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// Ring buffer configuration constants.
const (
	// ringBufferSize is the number of sample chunks the ring buffer can
	// hold. At 16kHz with 32ms chunks (512 samples), this is ~4 seconds.
	ringBufferSize = 128

	// maxSamplesPerChunk bounds allocation in the audio callback path.
	maxSamplesPerChunk = 2048
)

type audioChunk struct {
	samples []float32
	len     int
}

// ringBuffer is a lock-free SPSC ring buffer: the malgo callback is the
// sole producer, processLoop is the sole consumer, and both sides touch
// only atomic counters — never allocate or lock — in the hot path.
type ringBuffer struct {
	chunks      [ringBufferSize]audioChunk
	head        atomic.Uint64
	tail        atomic.Uint64
	overflowCount atomic.Uint64
}

func newRingBuffer() *ringBuffer {
	rb := &ringBuffer{}
	for i := range rb.chunks {
		rb.chunks[i].samples = make([]float32, maxSamplesPerChunk)
	}
	return rb
}

func (rb *ringBuffer) push(samples []float32) bool {
	head := rb.head.Load()
	tail := rb.tail.Load()

	if head-tail >= ringBufferSize {
		count := rb.overflowCount.Add(1)
		if count%100 == 0 {
			log.Printf("⚠️  audio ring buffer full, dropped %d chunks", count)
		}
		return false
	}

	slot := &rb.chunks[head%ringBufferSize]
	n := copy(slot.samples, samples)
	slot.len = n

	rb.head.Add(1)
	return true
}

func (rb *ringBuffer) pop() []float32 {
	head := rb.head.Load()
	tail := rb.tail.Load()

	if head == tail {
		return nil
	}

	slot := &rb.chunks[tail%ringBufferSize]
	samples := slot.samples[:slot.len]

	rb.tail.Add(1)
	return samples
}

// Stats reports the capture device's running health counters.
type Stats struct {
	Overflows  uint64 // ring buffer pushes dropped because it was full
	Underruns  uint64 // processLoop polls that delivered no frame (buffer empty, no onFrame, or not running)
	FramesSent uint64
}

// Device describes one capture-capable input device for `talkie devices`.
type Device struct {
	ID         string
	Name       string
	IsDefault  bool
}

// ListDevices enumerates capture devices without opening any of them.
func ListDevices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate capture devices: %w", err)
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:        fmt.Sprintf("%v", info.ID),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		}
	}
	return devices, nil
}

// Capturer streams microphone audio as Frames at a target sample rate,
// resampling transparently when the device's native rate differs.
type Capturer struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	sampleRate       uint32
	deviceSampleRate uint32
	onFrame          func(Frame)
	running          atomic.Bool
	ringBuf          *ringBuffer
	stopChan         chan struct{}
	wg               sync.WaitGroup
	resampler        *PolyphaseResampler

	streamStart time.Time
	underruns   atomic.Uint64
	framesSent  atomic.Uint64
	closeOnce   sync.Once
}

// NewCapturer opens the audio context (but not a device) and registers
// onFrame as the sink for every captured Frame. onFrame is called from
// Capturer's own processLoop goroutine, never from the malgo callback.
func NewCapturer(sampleRate int, onFrame func(Frame)) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: initialize context: %w", err)
	}

	return &Capturer{
		ctx:        ctx,
		sampleRate: uint32(sampleRate),
		onFrame:    onFrame,
		ringBuf:    newRingBuffer(),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start opens the default capture device and begins streaming frames.
func (c *Capturer) Start() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = c.sampleRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	tempDevice, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{})
	if err != nil {
		return fmt.Errorf("audio: query capture device: %w", err)
	}
	c.deviceSampleRate = tempDevice.SampleRate()
	tempDevice.Uninit()

	if c.deviceSampleRate != c.sampleRate {
		if c.deviceSampleRate > c.sampleRate {
			c.resampler = NewPolyphaseResampler(int(c.deviceSampleRate), int(c.sampleRate))
			log.Printf("audio: resampling %d Hz -> %d Hz (polyphase)", c.deviceSampleRate, c.sampleRate)
		} else {
			log.Printf("audio: resampling %d Hz -> %d Hz (linear)", c.deviceSampleRate, c.sampleRate)
		}
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if !c.running.Load() {
			return
		}
		pooledSamples := bytesToFloat32(pInputSamples)
		if len(pooledSamples) > 0 {
			c.ringBuf.push(pooledSamples)
		}
		returnFloat32Buffer(pooledSamples)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("audio: initialize capture device: %w", err)
	}

	c.device = device
	c.streamStart = time.Now()
	c.running.Store(true)

	c.wg.Add(1)
	go c.processLoop()

	if err := device.Start(); err != nil {
		return fmt.Errorf("audio: start capture device: %w", err)
	}
	return nil
}

// processLoop drains the ring buffer and forwards decoded Frames to
// onFrame. Runs in its own goroutine so the malgo callback never blocks.
func (c *Capturer) processLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		samples := c.ringBuf.pop()
		if samples == nil || c.onFrame == nil || !c.running.Load() {
			c.underruns.Add(1)
			select {
			case <-c.stopChan:
				return
			case <-time.After(100 * time.Microsecond):
			}
			continue
		}

		samplesCopy := make([]float32, len(samples))
		copy(samplesCopy, samples)

		if c.resampler != nil {
			samplesCopy = c.resampler.Resample(samplesCopy)
		} else if c.deviceSampleRate != c.sampleRate {
			samplesCopy = ResampleInPlace(samplesCopy, int(c.deviceSampleRate), int(c.sampleRate))
		}

		ts := time.Since(c.streamStart)
		c.onFrame(NewFloat32Frame(samplesCopy, int(c.sampleRate), ts))
		c.framesSent.Add(1)
	}
}

// Stats returns a snapshot of the capturer's running health counters.
func (c *Capturer) Stats() Stats {
	return Stats{
		Overflows:  c.ringBuf.overflowCount.Load(),
		Underruns:  c.underruns.Load(),
		FramesSent: c.framesSent.Load(),
	}
}

// Stop halts capture and blocks until processLoop has drained.
func (c *Capturer) Stop() {
	c.running.Store(false)

	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.wg.Wait()

	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Pause suspends frame delivery without tearing down the device, used by
// the supervisor around a model hot-swap.
func (c *Capturer) Pause() { c.running.Store(false) }

// Resume restarts frame delivery after Pause.
func (c *Capturer) Resume() { c.running.Store(true) }

// Close is idempotent: it stops capture (if running) and releases the
// audio context. Safe to call more than once.
func (c *Capturer) Close() {
	c.closeOnce.Do(func() {
		c.Stop()
		if c.ctx != nil {
			_ = c.ctx.Uninit()
			c.ctx.Free()
			c.ctx = nil
		}
	})
}

// float32Pool avoids allocating on every audio callback invocation.
var float32Pool = sync.Pool{
	New: func() interface{} {
		buf := make([]float32, 2048)
		return &buf
	},
}

// bytesToFloat32 converts raw LE bytes to float32 samples using a pooled
// buffer. The returned slice is valid only until returnFloat32Buffer.
func bytesToFloat32(data []byte) []float32 {
	numSamples := len(data) / 4
	pBuf := float32Pool.Get().(*[]float32)

	if cap(*pBuf) < numSamples {
		*pBuf = make([]float32, numSamples)
	}
	samples := (*pBuf)[:numSamples]

	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

func returnFloat32Buffer(samples []float32) {
	if samples == nil {
		return
	}
	buf := samples[:cap(samples)]
	float32Pool.Put(&buf)
}
