package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat is returned when audio cannot be decoded for playback.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoded holds interleaved PCM16LE frames ready for a playback device.
type Decoded struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames in d.
func (d Decoded) Frames() int {
	if d.Channels <= 0 {
		return 0
	}
	return len(d.PCM) / (2 * d.Channels)
}

// Decode parses a WAV container. Bit depths above 16 are reduced to 16.
func Decode(data []byte) (Decoded, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Decoded{}, fmt.Errorf("%w: not a PCM wav stream", ErrUnsupportedFormat)
	}

	out := Decoded{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
	}
	if err := d.FwdToPCM(); err != nil {
		return Decoded{}, fmt.Errorf("decode wav: %w", err)
	}
	if d.PCMSize == 0 {
		return out, nil
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Decoded{}, fmt.Errorf("decode wav: %w", err)
	}

	shift := int(d.BitDepth) - 16
	if shift < 0 {
		return Decoded{}, fmt.Errorf("%w: %d-bit pcm", ErrUnsupportedFormat, d.BitDepth)
	}

	out.PCM = toPCM16(buf, shift)
	return out, nil
}

func toPCM16(buf *goaudio.IntBuffer, shift int) []byte {
	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v>>shift)))
	}
	return pcm
}
