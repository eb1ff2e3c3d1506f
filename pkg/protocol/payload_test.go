package protocol

import (
	"errors"
	"testing"
)

func TestControlRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Control
	}{
		{name: "start", in: Control{Command: CommandStart}},
		{name: "volume", in: Control{Command: CommandSetVolume, Parameter: 0.75}},
		{name: "metadata", in: Control{Command: CommandRequestMetadata, Parameter: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := EncodeControl(tt.in)
			if len(data) != ControlSize {
				t.Fatalf("expected %d bytes, got %d", ControlSize, len(data))
			}
			got, err := DecodeControl(data)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got != tt.in {
				t.Errorf("expected %+v, got %+v", tt.in, got)
			}
		})
	}
}

func TestDecodeControlErrors(t *testing.T) {
	if _, err := DecodeControl([]byte{1, 0}); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
	if _, err := DecodeControl([]byte{0x09, 0, 0, 0, 0}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	for c := CommandStart; c <= CommandRequestMetadata; c++ {
		got, err := ParseCommand(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCommand(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseCommand("rewind"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Metadata
	}{
		{name: "default", in: DefaultMetadata()},
		{name: "voice", in: Metadata{SampleRate: 16000, Channels: 1, BitsPerSample: 16, ProviderName: "Microphone", Timestamp: 1700000000000000}},
		{name: "empty name", in: Metadata{SampleRate: 48000, Channels: 2, BitsPerSample: 32}},
		{name: "long name", in: Metadata{ProviderName: string(make([]byte, 300))}},
		{name: "unicode", in: Metadata{ProviderName: "Wohnzimmer Lautsprecher ♪"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMetadata(EncodeMetadata(tt.in))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got != tt.in {
				t.Errorf("expected %+v, got %+v", tt.in, got)
			}
		})
	}
}

func TestDecodeMetadataMalformed(t *testing.T) {
	valid := EncodeMetadata(Metadata{SampleRate: 16000, Channels: 1, BitsPerSample: 16, ProviderName: "mic"})

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "no name", data: valid[:12]},
		{name: "name cut", data: valid[:14]},
		{name: "no timestamp", data: valid[:len(valid)-1]},
		{name: "huge length", data: append(append([]byte{}, valid[:12]...), 0xff, 0xff, 0xff, 0x7f)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMetadata(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMessageConstructors(t *testing.T) {
	audio := NewAudioMessage([]byte{1, 2}, 5)
	if audio.Type != MessageAudio || audio.Sequence != 5 {
		t.Errorf("unexpected audio message %+v", audio)
	}

	ctrl, err := DecodeControl(NewControlMessage(CommandPause, 0).Payload)
	if err != nil || ctrl.Command != CommandPause {
		t.Errorf("unexpected control payload %+v, %v", ctrl, err)
	}

	meta, err := DecodeMetadata(NewMetadataMessage(DefaultMetadata()).Payload)
	if err != nil || meta.ProviderName != "Unknown" {
		t.Errorf("unexpected metadata payload %+v, %v", meta, err)
	}

	hb := NewHeartbeatMessage()
	if hb.Type != MessageHeartbeat || len(hb.Payload) != 0 {
		t.Errorf("unexpected heartbeat %+v", hb)
	}
	if MessageType(0x09).String() != "unknown(0x09)" {
		t.Errorf("unexpected String %q", MessageType(0x09).String())
	}
}
