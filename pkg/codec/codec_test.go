package codec

import (
	"testing"

	"github.com/harunnryd/lyra/pkg/errorsx"
	"github.com/harunnryd/lyra/pkg/frames"
)

func TestPCM16Passthrough(t *testing.T) {
	d := PCM16{}
	pcm := []byte{1, 2, 3, 4}
	out, err := d.Decode(pcm)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out) != string(pcm) {
		t.Fatalf("pcm16 must pass through unchanged")
	}

	if _, err := d.Decode([]byte{1}); err == nil {
		t.Fatalf("odd payload must fail")
	}
}

func TestForNameUnknown(t *testing.T) {
	if _, err := ForName("g711", 24000, 1); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
	if d, err := ForName("", 24000, 1); err != nil || d.Name() != "pcm16" {
		t.Fatalf("empty codec must default to pcm16")
	}
}

func TestProcessorDecodesAndPassesThrough(t *testing.T) {
	p := NewProcessor(24000, 1)

	meta := map[string]string{frames.MetaSeq: "1"}
	af := frames.NewAudioFrame("s1", 10, []byte{5, 6}, 24000, 1, meta)
	out, err := p.Process(af)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one frame, got %d", len(out))
	}
	decoded := out[0].(frames.AudioFrame)
	if decoded.Rate() != 24000 || string(decoded.RawPayload()) != string([]byte{5, 6}) {
		t.Fatalf("unexpected decode result")
	}

	sys := frames.NewSystemFrame("s1", 11, frames.SysReplyComplete, nil)
	out, err = p.Process(sys)
	if err != nil || len(out) != 1 {
		t.Fatalf("non-audio frames must pass through")
	}
	if sf, ok := out[0].(frames.SystemFrame); !ok || sf.Name() != frames.SysReplyComplete {
		t.Fatalf("system frame mangled: %#v", out[0])
	}
}

func TestProcessorDecodeFailureDropsSegment(t *testing.T) {
	p := NewProcessor(24000, 1)
	meta := map[string]string{frames.MetaSeq: "2"}
	af := frames.NewAudioFrame("s1", 12, []byte{1}, 24000, 1, meta) // odd length
	_, err := p.Process(af)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if errorsx.Reason(err) != errorsx.ReasonDecode {
		t.Fatalf("expected decode reason, got %q", errorsx.Reason(err))
	}
}
