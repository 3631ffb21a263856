package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Transcoder converts compressed speech into a WAV stream.
type Transcoder interface {
	Transcode(src []byte, dst io.WriteSeeker) error
}

// MP3Transcoder decodes MP3 and writes 16-bit mono PCM WAV at SampleRate.
type MP3Transcoder struct {
	SampleRate int
}

// Transcode decodes src and writes the WAV to dst.
func (t MP3Transcoder) Transcode(src []byte, dst io.WriteSeeker) error {
	dec, err := mp3.NewDecoder(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("open mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("unexpected decoded length %d", len(raw))
	}

	mono := downmixStereo(raw)
	if len(mono) == 0 {
		return fmt.Errorf("mp3 contained no audio")
	}

	rate := t.SampleRate
	if rate <= 0 {
		rate = dec.SampleRate()
	}
	return encodeWAV(dst, resampleLinear(mono, dec.SampleRate(), rate), rate)
}

// downmixStereo averages interleaved 16-bit little-endian stereo frames.
func downmixStereo(raw []byte) []int16 {
	mono := make([]int16, len(raw)/4)
	for i := range mono {
		l := int(int16(binary.LittleEndian.Uint16(raw[i*4:])))
		r := int(int16(binary.LittleEndian.Uint16(raw[i*4+2:])))
		mono[i] = int16((l + r) / 2)
	}
	return mono
}

func resampleLinear(in []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(in) == 0 {
		return append([]int16(nil), in...)
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen <= 1 {
		return []int16{}
	}
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) / ratio
		i0 := int(math.Floor(pos))
		if i0 >= len(in) {
			i0 = len(in) - 1
		}
		i1 := i0 + 1
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		f := pos - float64(i0)
		v := float64(in[i0])*(1-f) + float64(in[i1])*f
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}
	return out
}

func encodeWAV(w io.WriteSeeker, samples []int16, rate int) error {
	enc := wav.NewEncoder(w, rate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}
