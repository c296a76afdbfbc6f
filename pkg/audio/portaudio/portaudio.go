// Package portaudio implements [audio.Source] on top of the PortAudio C
// library, capturing float32 samples from a local input device.
//
// This package requires cgo and the PortAudio development headers.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/voiceflow-pro/voiceflow/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Option configures a [Source].
type Option func(*Source)

// WithDevice selects the input device whose name contains name
// (case-insensitive). An empty name selects the system default.
func WithDevice(name string) Option {
	return func(s *Source) { s.device = name }
}

// WithFramesPerBuffer sets the PortAudio callback block size.
func WithFramesPerBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// Source captures microphone input through PortAudio.
type Source struct {
	format          audio.Format
	device          string
	framesPerBuffer int

	mu     sync.Mutex
	stream *pa.Stream
	sink   func([]float32)
}

// New returns a microphone source capturing in the given format. The device is
// opened lazily in Start.
func New(format audio.Format, opts ...Option) *Source {
	s := &Source{
		format:          format,
		framesPerBuffer: 1024,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Start implements [audio.Source]. It initialises PortAudio, opens the
// selected input device and starts the stream. PortAudio invokes sink on its
// own callback thread.
func (s *Source) Start(_ context.Context, sink func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return errors.New("portaudio: source already running")
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := s.inputDevice()
	if err != nil {
		_ = pa.Terminate()
		return err
	}

	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = s.format.Channels
	params.SampleRate = float64(s.format.SampleRate)
	params.FramesPerBuffer = s.framesPerBuffer

	s.sink = sink
	stream, err := pa.OpenStream(params, s.process)
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	s.stream = stream

	slog.Info("portaudio: capture started",
		"device", dev.Name,
		"format", s.format.String(),
		"frames_per_buffer", s.framesPerBuffer,
	)
	return nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	s.stream = nil
	s.sink = nil
	return errors.Join(errs...)
}

func (s *Source) process(in []float32) {
	if s.sink != nil {
		s.sink(in)
	}
}

func (s *Source) inputDevice() (*pa.DeviceInfo, error) {
	if s.device == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(s.device)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", s.device)
}

// Device describes an available capture device.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Devices lists the input-capable devices known to PortAudio.
func Devices() ([]Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer func() { _ = pa.Terminate() }()

	all, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	out := make([]Device, 0, len(all))
	for _, d := range all {
		if d.MaxInputChannels <= 0 {
			continue
		}
		host := ""
		if d.HostApi != nil {
			host = d.HostApi.Name
		}
		out = append(out, Device{
			Name:              d.Name,
			HostAPI:           host,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}
