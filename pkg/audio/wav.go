package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ReadWAV decodes a RIFF/WAV stream into float32 samples in [-1, 1] and
// reports the sample rate. Multi-channel input is downmixed by averaging;
// only 16-bit PCM is supported, which is the only format the Toolkit
// emits. Unknown chunks (LIST, INFO, ...) are skipped.
func ReadWAV(r io.Reader) ([]float32, int, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a WAV stream")
	}

	var (
		channels      int
		sampleRate    int
		bitsPerSample int
		data          []byte
		foundFmt      bool
	)

	chunkHeader := make([]byte, 8)
	for data == nil {
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("audio: read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			buf := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, 0, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if len(buf) < 16 {
				return nil, 0, fmt.Errorf("audio: fmt chunk too short (%d bytes)", len(buf))
			}
			channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(buf[14:16]))
			foundFmt = true

		case "data":
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(r, buf)
			// Tolerate a short final data chunk; some writers declare the
			// size before knowing the true length.
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
				return nil, 0, fmt.Errorf("audio: read data chunk: %w", err)
			}
			data = buf[:n]

		default:
			if chunkSize%2 != 0 {
				chunkSize++ // chunks are word-aligned
			}
			if _, err := io.CopyN(io.Discard, r, chunkSize); err != nil {
				return nil, 0, fmt.Errorf("audio: skip chunk %q: %w", chunkID, err)
			}
		}
	}

	if !foundFmt {
		return nil, 0, fmt.Errorf("audio: fmt chunk not found")
	}
	if data == nil {
		return nil, 0, fmt.Errorf("audio: data chunk not found")
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("audio: unsupported bit depth %d (want 16)", bitsPerSample)
	}
	if channels <= 0 {
		return nil, 0, fmt.Errorf("audio: invalid channel count %d", channels)
	}

	frameBytes := 2 * channels
	frames := len(data) / frameBytes
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			off := i*frameBytes + 2*c
			sum += int32(int16(binary.LittleEndian.Uint16(data[off : off+2])))
		}
		samples[i] = float32(sum/int32(channels)) / 32768.0
	}
	return samples, sampleRate, nil
}

// ReadWAVFile is [ReadWAV] for a file on disk. The sample rate is checked
// against [SampleRate]: files at any other rate are rejected rather than
// silently fed to models trained on 16 kHz input.
func ReadWAVFile(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()

	samples, rate, err := ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	if rate != SampleRate {
		return nil, fmt.Errorf("audio: %s has sample rate %d, want %d", path, rate, SampleRate)
	}
	return samples, nil
}

// WriteWAV encodes samples as a mono 16-bit PCM WAV stream at the given
// sample rate. Samples outside [-1, 1] are clipped.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	dataSize := len(samples) * 2

	var header bytes.Buffer
	header.WriteString("RIFF")
	binary.Write(&header, binary.LittleEndian, uint32(36+dataSize))
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	binary.Write(&header, binary.LittleEndian, uint32(16))
	binary.Write(&header, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&header, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&header, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&header, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&header, binary.LittleEndian, uint16(16))           // bits per sample
	header.WriteString("data")
	binary.Write(&header, binary.LittleEndian, uint32(dataSize))

	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("audio: write WAV header: %w", err)
	}

	pcm := make([]byte, dataSize)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write WAV data: %w", err)
	}
	return nil
}

// WriteWAVFile is [WriteWAV] to a file, truncating any existing one.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio: close %s: %w", path, err)
	}
	return nil
}
