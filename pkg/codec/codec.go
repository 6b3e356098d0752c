package codec

import (
	"fmt"

	"github.com/harunnryd/lyra/pkg/errorsx"
)

// Decoder turns one encoded reply chunk into little-endian PCM16.
type Decoder interface {
	Name() string
	Decode(data []byte) ([]byte, error)
}

// PCM16 is the pass-through decoder for sessions that already deliver raw
// PCM16.
type PCM16 struct{}

func (PCM16) Name() string { return "pcm16" }

func (PCM16) Decode(data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, errorsx.Wrap(fmt.Errorf("pcm16: odd payload length %d", len(data)), errorsx.ReasonDecode)
	}
	return data, nil
}

// ForName returns the decoder for a wire codec name; empty means pcm16.
func ForName(name string, rate, channels int) (Decoder, error) {
	switch name {
	case "", "pcm16":
		return PCM16{}, nil
	case "opus":
		return NewOpus(rate, channels)
	}
	return nil, errorsx.Wrap(fmt.Errorf("unknown codec %q", name), errorsx.ReasonDecode)
}
