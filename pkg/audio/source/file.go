// ABOUTME: File-backed sources decoded with go-mp3 and mewkiz/flac
// ABOUTME: Play once or loop; a finished non-looping file reads as exhausted
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// Open creates a file source, choosing the decoder by extension
func Open(path string, loop bool) (PcmSource, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return NewMP3(path, loop)
	case ".flac":
		return NewFLAC(path, loop)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
}

// Title returns the file name without extension
func Title(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// MP3 reads from an MP3 file
type MP3 struct {
	file    *os.File
	decoder *mp3.Decoder
	format  audio.Format
	loop    bool
	eof     bool
	buf     []byte
}

// NewMP3 opens an MP3 file
func NewMP3(path string, loop bool) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	log.Printf("Loaded MP3: %s (sample rate: %d Hz)", Title(path), decoder.SampleRate())

	return &MP3{
		file:    f,
		decoder: decoder,
		loop:    loop,
		format: audio.Format{
			Codec:      "mp3",
			SampleRate: decoder.SampleRate(),
			Channels:   2, // go-mp3 always decodes to stereo
			BitDepth:   16,
		},
	}, nil
}

func (s *MP3) Read(samples []float32) (int, error) {
	if s.eof {
		return 0, nil
	}

	numBytes := len(samples) * 2
	if cap(s.buf) < numBytes {
		s.buf = make([]byte, numBytes)
	}
	buf := s.buf[:numBytes]

	n, err := io.ReadFull(s.decoder, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}

	numSamples := n / 2
	for i := 0; i < numSamples; i++ {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	}

	if err != nil {
		if !s.loop {
			s.eof = true
			return numSamples, nil
		}
		if _, seekErr := s.file.Seek(0, io.SeekStart); seekErr != nil {
			return numSamples, fmt.Errorf("failed to seek to start: %w", seekErr)
		}
		decoder, decErr := mp3.NewDecoder(s.file)
		if decErr != nil {
			return numSamples, fmt.Errorf("failed to create new decoder: %w", decErr)
		}
		s.decoder = decoder
	}

	return numSamples, nil
}

func (s *MP3) Format() audio.Format { return s.format }

func (s *MP3) Close() error {
	return s.file.Close()
}

// FLAC reads from a FLAC file
type FLAC struct {
	file    *os.File
	stream  *flac.Stream
	format  audio.Format
	loop    bool
	eof     bool
	pending []float32
}

// NewFLAC opens a FLAC file
func NewFLAC(path string, loop bool) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	format := audio.Format{
		Codec:      "flac",
		SampleRate: int(info.SampleRate),
		Channels:   int(info.NChannels),
		BitDepth:   int(info.BitsPerSample),
	}

	log.Printf("Loaded FLAC: %s (sample rate: %d Hz, channels: %d, bit depth: %d)",
		Title(path), format.SampleRate, format.Channels, format.BitDepth)

	return &FLAC{
		file:   f,
		stream: stream,
		format: format,
		loop:   loop,
	}, nil
}

func (s *FLAC) Read(samples []float32) (int, error) {
	read := copy(samples, s.pending)
	s.pending = s.pending[read:]

	scale := float32(int64(1) << (s.format.BitDepth - 1))
	for read < len(samples) && !s.eof {
		frame, err := s.stream.ParseNext()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return read, err
			}
			if !s.loop {
				s.eof = true
				break
			}
			if _, seekErr := s.file.Seek(0, io.SeekStart); seekErr != nil {
				return read, fmt.Errorf("failed to seek to start: %w", seekErr)
			}
			stream, decErr := flac.New(s.file)
			if decErr != nil {
				return read, fmt.Errorf("failed to create new stream: %w", decErr)
			}
			s.stream = stream
			continue
		}

		channels := s.format.Channels
		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < channels; ch++ {
				v := float32(frame.Subframes[ch].Samples[i]) / scale
				if read < len(samples) {
					samples[read] = v
					read++
				} else {
					s.pending = append(s.pending, v)
				}
			}
		}
	}

	return read, nil
}

func (s *FLAC) Format() audio.Format { return s.format }

func (s *FLAC) Close() error {
	return s.file.Close()
}
