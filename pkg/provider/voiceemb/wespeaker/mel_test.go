package wespeaker

import (
	"math"
	"testing"
)

func TestMelFrontendFrameCount(t *testing.T) {
	t.Parallel()

	f := newMelFrontend(sampleRate, numMels, hopLength, winLength, fftSize)

	cases := []struct {
		name       string
		samples    int
		wantFrames int
	}{
		{"exactly one window", winLength, 1},
		{"one window plus one hop", winLength + hopLength, 2},
		{"one second", sampleRate, (sampleRate-winLength)/hopLength + 1},
		{"shorter than a window", winLength - 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			spec := f.compute(make([]float32, tc.samples))
			if len(spec) != tc.wantFrames {
				t.Fatalf("compute(%d samples) = %d frames, want %d", tc.samples, len(spec), tc.wantFrames)
			}
			for _, frame := range spec {
				if len(frame) != numMels {
					t.Fatalf("frame has %d mel bins, want %d", len(frame), numMels)
				}
			}
		})
	}
}

func TestMelFrontendSilenceFloor(t *testing.T) {
	t.Parallel()

	f := newMelFrontend(sampleRate, numMels, hopLength, winLength, fftSize)
	spec := f.compute(make([]float32, sampleRate/2))

	// Pure silence clamps to the log floor rather than -Inf.
	wantFloor := float32(math.Log(1e-9))
	for t0, frame := range spec {
		for m, v := range frame {
			if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
				t.Fatalf("frame %d mel %d: non-finite value %v", t0, m, v)
			}
			if v < wantFloor-1e-3 {
				t.Fatalf("frame %d mel %d: %v below log floor %v", t0, m, v, wantFloor)
			}
		}
	}
}

func TestMelFrontendToneEnergyPlacement(t *testing.T) {
	t.Parallel()

	f := newMelFrontend(sampleRate, numMels, hopLength, winLength, fftSize)

	// A loud 1 kHz tone must put more energy into the mel bin covering
	// 1 kHz than a distant high-frequency bin receives.
	samples := make([]float32, sampleRate/2)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*1000*float64(i)/sampleRate))
	}
	spec := f.compute(samples)

	frame := spec[len(spec)/2]
	peak, peakBin := frame[0], 0
	for m, v := range frame {
		if v > peak {
			peak, peakBin = v, m
		}
	}
	if peakBin == 0 || peakBin == numMels-1 {
		t.Fatalf("1 kHz tone peaked at edge bin %d", peakBin)
	}
	if peak <= frame[numMels-1] {
		t.Fatalf("peak bin %d (%v) not above top bin (%v)", peakBin, peak, frame[numMels-1])
	}
}

func TestMelFilterbankShape(t *testing.T) {
	t.Parallel()

	filters := melFilterbank(fftSize, numMels, sampleRate)
	if len(filters) != numMels {
		t.Fatalf("filterbank has %d filters, want %d", len(filters), numMels)
	}
	for m, filter := range filters {
		if len(filter) != fftSize/2+1 {
			t.Fatalf("filter %d has %d bins, want %d", m, len(filter), fftSize/2+1)
		}
		var sum float64
		for _, v := range filter {
			if v < 0 || v > 1 {
				t.Fatalf("filter %d has weight %v outside [0, 1]", m, v)
			}
			sum += v
		}
		if sum == 0 {
			t.Fatalf("filter %d is all-zero", m)
		}
	}
}

func TestL2Normalize(t *testing.T) {
	t.Parallel()

	v := []float32{3, 4}
	l2Normalize(v)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Fatalf("norm after normalize = %v, want 1", norm)
	}

	// Near-zero vectors are left alone.
	z := []float32{0, 0}
	l2Normalize(z)
	if z[0] != 0 || z[1] != 0 {
		t.Fatalf("zero vector mutated: %v", z)
	}
}
