package audio

import (
	"encoding/base64"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// Float32ToInt16 converts a single sample in [-1, 1] to signed 16-bit PCM.
// Input is clamped first; negative values scale by 32768 and non-negative
// values by 32767 so both extremes map onto the full int16 range. NaN maps
// to silence.
func Float32ToInt16(s float32) int16 {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Float32SliceToInt16 converts every sample of in with [Float32ToInt16].
func Float32SliceToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = Float32ToInt16(s)
	}
	return out
}

// PCM16Bytes packs samples as little-endian 16-bit PCM.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DownmixStereo averages interleaved L/R pairs into mono. A trailing odd
// sample is dropped.
func DownmixStereo(samples []int16) []int16 {
	return Downmix(samples, 2)
}

// Downmix averages each interleaved group of channels samples into one mono
// sample. An incomplete trailing group is dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// UpmixMono duplicates each mono sample into an L/R pair.
func UpmixMono(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}

// Resample converts interleaved samples with the given channel count from
// srcRate to dstRate using linear interpolation per channel. Invalid rates or
// equal rates return the input unchanged.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			a := float64(samples[idx*channels+ch])
			b := float64(samples[next*channels+ch])
			out[i*channels+ch] = int16(math.Round(a + (b-a)*frac))
		}
	}
	return out
}

// Resampler converts a stream of interleaved frames between sample rates
// with linear interpolation. Unlike [Resample] it keeps the last input frame
// and the fractional read position between calls, so a stream cut into
// blocks resamples the same as one long buffer. Not safe for concurrent use.
type Resampler struct {
	channels         int
	srcRate, dstRate int64

	// pos is the read position in units of 1/dstRate source frames, relative
	// to the start of prev+samples.
	pos  int64
	prev []int16
}

// NewResampler returns a resampler for interleaved audio with the given
// channel count.
func NewResampler(channels, srcRate, dstRate int) *Resampler {
	return &Resampler{
		channels: max(channels, 1),
		srcRate:  int64(srcRate),
		dstRate:  int64(dstRate),
	}
}

// Process resamples the next block of the stream. Invalid or equal rates
// return samples unchanged.
func (r *Resampler) Process(samples []int16) []int16 {
	if r.srcRate <= 0 || r.dstRate <= 0 || r.srcRate == r.dstRate {
		return samples
	}
	ch := r.channels
	in := samples[:len(samples)/ch*ch]
	if len(r.prev) > 0 {
		in = append(append(make([]int16, 0, len(r.prev)+len(in)), r.prev...), in...)
	}
	frames := int64(len(in) / ch)
	if frames < 2 {
		if frames == 1 {
			r.prev = append(r.prev[:0], in...)
		}
		return nil
	}

	out := make([]int16, 0, int((frames*r.dstRate/r.srcRate)+1)*ch)
	for {
		idx := r.pos / r.dstRate
		if idx+1 >= frames {
			break
		}
		frac := float64(r.pos%r.dstRate) / float64(r.dstRate)
		for c := range ch {
			a := float64(in[int(idx)*ch+c])
			b := float64(in[int(idx+1)*ch+c])
			out = append(out, int16(math.Round(a+(b-a)*frac)))
		}
		r.pos += r.srcRate
	}

	// The last frame starts the next block.
	r.pos -= (frames - 1) * r.dstRate
	r.prev = append(r.prev[:0], in[(frames-1)*int64(ch):]...)
	return out
}

// Encoder turns captured frames into the PCM16 payload expected by the
// transcription service. Create one per stream: resampling state carries
// over from one frame to the next.
type Encoder struct {
	// Target is the wire format. Frames in another format are down/up-mixed
	// and resampled before packing.
	Target Format

	warnedMismatch sync.Once
	resampler      *Resampler
	resampleFrom   Format
}

// PCM16 converts f to little-endian 16-bit PCM in the target format. Any
// channel count is downmixed when the target is mono.
func (e *Encoder) PCM16(f Frame) []byte {
	samples := Float32SliceToInt16(f.Samples)
	src := f.Format
	if e.Target.SampleRate == 0 || e.Target.Channels == 0 || src == e.Target {
		return PCM16Bytes(samples)
	}

	e.warnedMismatch.Do(func() {
		slog.Warn("audio encoder: converting capture format",
			"from", src.String(),
			"to", e.Target.String(),
		)
	})

	channels := max(src.Channels, 1)
	if channels != e.Target.Channels {
		samples = Downmix(samples, channels)
		channels = 1
		if e.Target.Channels == 2 {
			samples = UpmixMono(samples)
			channels = 2
		}
	}

	if src.SampleRate != e.Target.SampleRate {
		if e.resampler == nil || e.resampleFrom != src {
			e.resampler = NewResampler(channels, src.SampleRate, e.Target.SampleRate)
			e.resampleFrom = src
		}
		samples = e.resampler.Process(samples)
	}
	return PCM16Bytes(samples)
}

// Base64 returns the PCM16 payload of f encoded with standard base64, ready
// to be placed in an audio_chunk message.
func (e *Encoder) Base64(f Frame) string {
	return base64.StdEncoding.EncodeToString(e.PCM16(f))
}
