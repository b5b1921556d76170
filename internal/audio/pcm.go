package audio

// PCM is interleaved signed 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Convert resamples and remixes p to the requested format.
func (p PCM) Convert(sampleRate, channels int) PCM {
	out := p
	switch {
	case out.Channels == 1 && channels == 2:
		out.Samples = MonoToStereo(out.Samples)
	case out.Channels == 2 && channels == 1:
		out.Samples = StereoToMono(out.Samples)
	}
	out.Channels = channels
	if out.SampleRate != sampleRate {
		out.Samples = ResampleInterleaved(out.Samples, channels, out.SampleRate, sampleRate)
		out.SampleRate = sampleRate
	}
	return out
}

// Bytes returns the samples as little-endian bytes.
func (p PCM) Bytes() []byte {
	return SamplesToBytes(p.Samples)
}

// Resample converts mono audio between sample rates by linear interpolation,
// which is adequate for speech and short sound cues.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	return ResampleInterleaved(samples, 1, fromRate, toRate)
}

// ResampleInterleaved resamples every channel of interleaved audio.
func ResampleInterleaved(samples []int16, channels, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	if channels <= 0 {
		channels = 1
	}

	frames := len(samples) / channels
	ratio := float64(fromRate) / float64(toRate)
	newFrames := int(float64(frames) / ratio)
	out := make([]int16, newFrames*channels)

	for i := 0; i < newFrames; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		for c := 0; c < channels; c++ {
			if idx >= frames-1 {
				out[i*channels+c] = samples[(frames-1)*channels+c]
				continue
			}
			s1 := float64(samples[idx*channels+c])
			s2 := float64(samples[(idx+1)*channels+c])
			out[i*channels+c] = int16(s1 + frac*(s2-s1))
		}
	}
	return out
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// MonoToStereo duplicates mono samples to stereo.
func MonoToStereo(samples []int16) []int16 {
	stereo := make([]int16, len(samples)*2)
	for i, s := range samples {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return stereo
}

// StereoToMono averages stereo samples to mono.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		mono[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return mono
}
