package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

const (
	// HeaderSize is the size of the canonical RIFF/WAVE header written by this package.
	HeaderSize = 44

	// MIMETypeWAV is the MIME type attached to every encoded WAV stream.
	MIMETypeWAV = "audio/wav"

	// Channels is the channel count of every WAV produced here (mono).
	Channels = 1

	// BitsPerSample is the PCM bit depth of every WAV produced here.
	BitsPerSample = 16

	formatPCM = 1
)

// Sample is a buffer of normalized amplitudes in [-1, 1] paired with its
// sample rate, as emitted by a synthesis engine.
type Sample struct {
	Data       []float32
	SampleRate int
}

// Encoded is an immutable audio container ready for playback.
type Encoded struct {
	Data       []byte
	MIMEType   string
	SampleRate int
	Channels   int
}

// EncodeWAV converts s into a mono 16-bit little-endian PCM WAV stream.
// It never fails; an empty sample produces a header-only WAV.
func EncodeWAV(s Sample) Encoded {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(s.Data)*2))
	_ = WriteWAV(buf, s.Data, s.SampleRate)
	return Encoded{
		Data:       buf.Bytes(),
		MIMEType:   MIMETypeWAV,
		SampleRate: s.SampleRate,
		Channels:   Channels,
	}
}

// WriteWAV writes samples to w as a mono PCM16 WAV stream.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	dataBytes := uint32(len(samples) * 2)
	if err := writeHeader(w, dataBytes, sampleRate); err != nil {
		return err
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(Quantize(s)))
	}
	_, err := w.Write(pcm)
	return err
}

// NewWavBuffer wraps already quantized PCM16LE mono bytes in a WAV container.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	_ = writeHeader(buf, uint32(len(pcm)), sampleRate)
	buf.Write(pcm)
	return buf.Bytes()
}

// Quantize maps a normalized amplitude onto the signed 16-bit range.
// Values are clamped to [-1, 1]; negatives scale by 32768 and the rest by
// 32767, truncating toward zero.
func Quantize(v float32) int16 {
	s := float64(v)
	if math.IsNaN(s) {
		return 0
	}
	s = math.Max(-1, math.Min(1, s))
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

// PCM16ToFloat converts PCM16LE bytes into normalized amplitudes.
// A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7fff
		}
	}
	return out
}

// Silence returns a header-only WAV at the given rate.
func Silence(sampleRate int) Encoded {
	return EncodeWAV(Sample{SampleRate: sampleRate})
}

func writeHeader(w io.Writer, dataBytes uint32, sampleRate int) error {
	const blockAlign = Channels * BitsPerSample / 8

	var h [HeaderSize]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataBytes)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataBytes)

	_, err := w.Write(h[:])
	return err
}
