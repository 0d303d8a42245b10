package audio

import "math"

const (
	// trimFrame is the analysis window in milliseconds.
	trimFrame = 10

	// minVoicedFrames is how many consecutive frames must exceed the
	// threshold before they count as speech, so isolated clicks are ignored.
	minVoicedFrames = 3
)

// TrimSilence drops leading and trailing frames of s whose RMS energy stays
// at or below threshold. One frame of padding is kept on each side. A sample
// with no voiced run is returned unchanged, as is any sample when threshold
// is not positive.
func TrimSilence(s Sample, threshold float64) Sample {
	if threshold <= 0 || s.SampleRate <= 0 || len(s.Data) == 0 {
		return s
	}
	frame := s.SampleRate * trimFrame / 1000
	if frame == 0 {
		return s
	}
	frames := (len(s.Data) + frame - 1) / frame

	first, last := -1, -1
	run := 0
	for i := 0; i < frames; i++ {
		if frameRMS(s.Data, i*frame, frame) > threshold {
			run++
			if run >= minVoicedFrames {
				if first < 0 {
					first = i - run + 1
				}
				last = i
			}
			continue
		}
		run = 0
	}
	if first < 0 {
		return s
	}

	start := max(first-1, 0) * frame
	end := min((last+2)*frame, len(s.Data))
	return Sample{Data: s.Data[start:end], SampleRate: s.SampleRate}
}

func frameRMS(data []float32, off, n int) float64 {
	end := min(off+n, len(data))
	if end <= off {
		return 0
	}
	var sum float64
	for _, v := range data[off:end] {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(end-off))
}
