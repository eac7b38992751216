package wespeaker

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// melFrontend turns a raw waveform into the log-mel feature matrix the
// WeSpeaker model consumes. Filterbank construction follows the
// torchaudio/librosa convention: triangular filters defined in Hz over
// HTK-mel-spaced center frequencies.
type melFrontend struct {
	sampleRate int
	numMels    int
	hopLength  int
	winLength  int
	fftSize    int

	filters [][]float64
	window  []float64
	fft     *fourier.FFT
}

func newMelFrontend(sampleRate, numMels, hopLength, winLength, fftSize int) *melFrontend {
	return &melFrontend{
		sampleRate: sampleRate,
		numMels:    numMels,
		hopLength:  hopLength,
		winLength:  winLength,
		fftSize:    fftSize,
		filters:    melFilterbank(fftSize, numMels, sampleRate),
		window:     hannWindow(winLength),
		fft:        fourier.NewFFT(fftSize),
	}
}

// compute returns the log-mel spectrogram as [frames][numMels]. Frames are
// left-aligned: frame t covers samples [t*hop, t*hop+win).
func (f *melFrontend) compute(samples []float32) [][]float32 {
	numFrames := 1
	if len(samples) >= f.winLength {
		numFrames = (len(samples)-f.winLength)/f.hopLength + 1
	}

	spec := make([][]float32, numFrames)
	frameData := make([]float64, f.fftSize)
	for t := range numFrames {
		start := t * f.hopLength
		for i := range frameData {
			frameData[i] = 0
		}
		for i := 0; i < f.winLength; i++ {
			if idx := start + i; idx < len(samples) {
				frameData[i] = float64(samples[idx]) * f.window[i]
			}
		}

		coeffs := f.fft.Coefficients(nil, frameData)

		power := make([]float64, f.fftSize/2+1)
		for i := range power {
			re := real(coeffs[i])
			im := imag(coeffs[i])
			power[i] = re*re + im*im
		}

		spec[t] = make([]float32, f.numMels)
		for m := 0; m < f.numMels; m++ {
			var sum float64
			for k, p := range power {
				sum += p * f.filters[m][k]
			}
			if sum < 1e-9 {
				sum = 1e-9
			}
			spec[t][m] = float32(math.Log(sum))
		}
	}
	return spec
}

// melFilterbank builds numMels triangular filters over the positive FFT
// bins, with center frequencies equally spaced on the HTK mel scale.
func melFilterbank(fftSize, numMels, sampleRate int) [][]float64 {
	hzToMel := func(hz float64) float64 {
		return 2595.0 * math.Log10(1.0+hz/700.0)
	}
	melToHz := func(mel float64) float64 {
		return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
	}

	numBins := fftSize/2 + 1
	fMax := float64(sampleRate) / 2.0

	binFreqs := make([]float64, numBins)
	for i := range binFreqs {
		binFreqs[i] = float64(i) * fMax / float64(numBins-1)
	}

	// numMels + 2 edge points: left edge, centers, right edge.
	mMin := hzToMel(0)
	mMax := hzToMel(fMax)
	edges := make([]float64, numMels+2)
	for i := range edges {
		mel := mMin + float64(i)*(mMax-mMin)/float64(numMels+1)
		edges[i] = melToHz(mel)
	}

	widths := make([]float64, numMels+1)
	for i := range widths {
		widths[i] = edges[i+1] - edges[i]
	}

	filters := make([][]float64, numMels)
	for m := range filters {
		filters[m] = make([]float64, numBins)
		for k, freq := range binFreqs {
			lower := (freq - edges[m]) / widths[m]
			upper := (edges[m+2] - freq) / widths[m+1]
			v := math.Min(lower, upper)
			if v < 0 {
				v = 0
			}
			filters[m][k] = v
		}
	}
	return filters
}

func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}
