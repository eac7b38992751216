package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// errNotWAV is returned by decodeWAV when the input is not a RIFF/WAVE file.
var errNotWAV = errors.New("audio: not a RIFF/WAVE file")

// wavFormat describes the fmt chunk of a parsed WAV file.
type wavFormat struct {
	channels   int
	sampleRate int
	bitsPerSam int
}

// decodeWAV parses a PCM WAV file and returns interleaved float32 samples in
// [-1, 1] together with the source format. Only 16-bit signed little-endian
// PCM is accepted; that is what every sensible recorder and transcoder emits.
func decodeWAV(data []byte) ([]float32, wavFormat, error) {
	var fmtc wavFormat

	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmtc, errNotWAV
	}

	var pcm []byte
	haveFmt := false

	// Walk the chunk list. Chunks are word aligned; a stray odd-sized chunk
	// gets a pad byte.
	r := bytes.NewReader(data[12:])
	for {
		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break
		}
		chunkID := string(header[0:4])
		size := binary.LittleEndian.Uint32(header[4:8])

		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmtc, fmt.Errorf("audio: truncated %q chunk: %w", chunkID, err)
		}
		if size%2 == 1 {
			io.CopyN(io.Discard, r, 1)
		}

		switch chunkID {
		case "fmt ":
			if len(body) < 16 {
				return nil, fmtc, fmt.Errorf("audio: fmt chunk too short (%d bytes)", len(body))
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			fmtc.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			fmtc.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			fmtc.bitsPerSam = int(binary.LittleEndian.Uint16(body[14:16]))
			if audioFormat != 1 || fmtc.bitsPerSam != 16 {
				return nil, fmtc, fmt.Errorf("audio: unsupported WAV encoding (format %d, %d bits); only 16-bit PCM is supported",
					audioFormat, fmtc.bitsPerSam)
			}
			haveFmt = true
		case "data":
			pcm = body
		}
	}

	if !haveFmt {
		return nil, fmtc, errors.New("audio: WAV file has no fmt chunk")
	}
	if pcm == nil {
		return nil, fmtc, errors.New("audio: WAV file has no data chunk")
	}
	if fmtc.channels <= 0 || fmtc.sampleRate <= 0 {
		return nil, fmtc, fmt.Errorf("audio: invalid WAV format (%d channels, %d Hz)", fmtc.channels, fmtc.sampleRate)
	}

	return pcm16ToFloat32(pcm), fmtc, nil
}

// writeWAV writes mono float32 samples as a 16-bit PCM WAV file at path.
func writeWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}

	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * 2)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)

	for _, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.Write(&buf, binary.LittleEndian, int16(s*32767))
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("audio: write %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("audio: close %q: %w", path, err)
	}
	return nil
}

// pcm16ToFloat32 converts 16-bit signed little-endian PCM bytes to float32
// samples normalized to [-1, 1]. A trailing odd byte is ignored.
func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// downmixMono averages interleaved multi-channel samples into mono. If
// channels is 1 the input is returned unchanged.
func downmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
