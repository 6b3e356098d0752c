package codec

import (
	"fmt"

	"github.com/harunnryd/lyra/pkg/errorsx"
	"github.com/harunnryd/lyra/pkg/frames"
)

// Processor is the inbound decode stage: audio frames carrying a codec meta
// are decoded to PCM16, everything else passes through. A failed decode
// drops just that frame; the stream continues.
type Processor struct {
	rate     int
	channels int
	decoders map[string]Decoder
}

func NewProcessor(rate, channels int) *Processor {
	if rate <= 0 {
		rate = 24000
	}
	if channels <= 0 {
		channels = 1
	}
	return &Processor{
		rate:     rate,
		channels: channels,
		decoders: make(map[string]Decoder),
	}
}

func (p *Processor) Name() string { return "codec" }

func (p *Processor) Process(f frames.Frame) ([]frames.Frame, error) {
	af, ok := f.(frames.AudioFrame)
	if !ok {
		return []frames.Frame{f}, nil
	}
	meta := af.Meta()
	name := meta[frames.MetaCodec]

	dec, err := p.decoder(name)
	if err != nil {
		return nil, err
	}
	pcm, err := dec.Decode(af.RawPayload())
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("segment %s: %w", meta[frames.MetaSeq], err), errorsx.ReasonDecode)
	}
	delete(meta, frames.MetaCodec)
	out := frames.NewAudioFrame("", af.PTS(), pcm, p.rate, p.channels, meta)
	return []frames.Frame{out}, nil
}

func (p *Processor) decoder(name string) (Decoder, error) {
	if d, ok := p.decoders[name]; ok {
		return d, nil
	}
	d, err := ForName(name, p.rate, p.channels)
	if err != nil {
		return nil, err
	}
	p.decoders[name] = d
	return d, nil
}
