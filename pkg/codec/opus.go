package codec

import (
	"fmt"

	"github.com/harunnryd/lyra/pkg/errorsx"
	"layeh.com/gopus"
)

// Opus decodes Opus packets into PCM16. One decoder per stream: the decoder
// carries state across consecutive packets.
type Opus struct {
	dec       *gopus.Decoder
	frameSize int
	channels  int
}

// NewOpus creates a decoder for the given output rate and channel count.
// Reply audio arrives as 20 ms packets.
func NewOpus(rate, channels int) (*Opus, error) {
	if rate <= 0 {
		rate = 24000
	}
	if channels <= 0 {
		channels = 1
	}
	dec, err := gopus.NewDecoder(rate, channels)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("create opus decoder: %w", err), errorsx.ReasonDecode)
	}
	return &Opus{
		dec:       dec,
		frameSize: rate * 20 / 1000,
		channels:  channels,
	}, nil
}

func (o *Opus) Name() string { return "opus" }

func (o *Opus) Decode(data []byte) ([]byte, error) {
	pcm, err := o.dec.Decode(data, o.frameSize, false)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("opus decode: %w", err), errorsx.ReasonDecode)
	}
	return int16sToBytes(pcm), nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
