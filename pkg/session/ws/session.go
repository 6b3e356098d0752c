package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/lyra/pkg/configutil"
	"github.com/harunnryd/lyra/pkg/errorsx"
	"github.com/harunnryd/lyra/pkg/frames"
)

type Config struct {
	URL          string `mapstructure:"url"`
	Token        string `mapstructure:"token"`
	SampleRate   int    `mapstructure:"sample_rate"`
	PingInterval int    `mapstructure:"ping_interval_ms"`
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15000
	}
	return c
}

// ConfigFromSettings validates and decodes a free-form settings map.
func ConfigFromSettings(settings map[string]any) (Config, error) {
	schema := configutil.Schema{
		Required: []string{"url"},
		Optional: []string{"token", "sample_rate", "ping_interval_ms"},
	}
	if err := configutil.ValidateSettings(settings, schema); err != nil {
		return Config{}, fmt.Errorf("ws session settings: %w", err)
	}
	var cfg Config
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return Config{}, fmt.Errorf("ws session settings: %w", err)
	}
	if err := configutil.RequireString(cfg.URL, "session.settings.url"); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// message is the JSON envelope on the wire, both directions.
type message struct {
	Type    string `json:"type"`
	ReplyID string `json:"reply_id,omitempty"`
	Seq     int    `json:"seq,omitempty"`
	Audio   string `json:"audio,omitempty"` // base64 payload
	Codec   string `json:"codec,omitempty"`
	Text    string `json:"text,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Speed   string `json:"speed,omitempty"`
}

// Session is a dialing websocket client for a realtime agent endpoint.
type Session struct {
	cfg      Config
	log      *slog.Logger
	streamID string

	mu     sync.Mutex // guards conn writes
	conn   *websocket.Conn
	recvCh chan frames.Frame
	closed atomic.Bool
	cancel context.CancelFunc
}

func New(cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:      cfg.withDefaults(),
		log:      log,
		streamID: uuid.NewString(),
		recvCh:   make(chan frames.Frame, 512),
	}
}

func (s *Session) Name() string { return "ws" }

func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("dial %s: %w", s.cfg.URL, err), errorsx.ReasonSessionClosed)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.readLoop()
	go s.pingLoop(loopCtx)
	return nil
}

func (s *Session) Stop() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	conn := s.conn
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) Recv() <-chan frames.Frame { return s.recvCh }

func (s *Session) Send(f frames.Frame) error {
	msg, ok := encodeFrame(f)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return errorsx.New(errorsx.ReasonSessionSend, "session not connected")
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionSend)
	}
	return nil
}

func (s *Session) readLoop() {
	defer close(s.recvCh)
	remoteClosed := false
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			// A local Stop or an in-band closed message already settled how
			// this session ended; the read error is just the aftermath.
			if s.closed.Load() || remoteClosed {
				return
			}
			s.push(terminalFrame(s.streamID, err))
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("session_message_invalid", "error", err)
			continue
		}
		if msg.Type == "closed" {
			remoteClosed = true
		}
		f, err := decodeMessage(s.streamID, msg, s.cfg.SampleRate)
		if err != nil {
			s.log.Warn("session_message_dropped", "type", msg.Type, "error", err)
			continue
		}
		if f != nil {
			s.push(f)
		}
	}
}

// terminalFrame classifies how the connection ended: a proper close
// handshake is a clean shutdown, anything else (reset, timeout, abnormal
// close code) is an error the user must see.
func terminalFrame(streamID string, err error) frames.Frame {
	pts := time.Now().UnixNano()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return frames.NewSystemFrame(streamID, pts, frames.SysClosed, nil)
	}
	meta := map[string]string{frames.MetaReason: err.Error()}
	return frames.NewSystemFrame(streamID, pts, frames.SysError, meta)
}

func (s *Session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.PingInterval) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			if conn != nil {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) push(f frames.Frame) {
	select {
	case s.recvCh <- f:
	default:
		s.log.Warn("session_recv_overflow", "kind", string(f.Kind()))
	}
}

// encodeFrame maps an outbound frame onto the wire envelope.
func encodeFrame(f frames.Frame) (message, bool) {
	switch fr := f.(type) {
	case frames.AudioFrame:
		return message{
			Type:  "content_audio",
			Audio: base64.StdEncoding.EncodeToString(fr.RawPayload()),
			Seq:   seqFromMeta(fr.Meta()),
		}, true
	case frames.TextFrame:
		return message{Type: "content_text", Text: fr.Text()}, true
	case frames.ControlFrame:
		switch fr.Code() {
		case frames.ControlStartInterruption:
			return message{Type: "interrupt"}, true
		case frames.ControlSetSpeed:
			return message{Type: "set_speed", Speed: fr.Meta()[frames.MetaSpeed]}, true
		}
	}
	return message{}, false
}

// decodeMessage maps one inbound envelope onto a frame, nil for messages
// the engine has no use for.
func decodeMessage(streamID string, msg message, rate int) (frames.Frame, error) {
	pts := time.Now().UnixNano()
	switch msg.Type {
	case "reply_audio":
		data, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, fmt.Errorf("audio payload: %w", err)
		}
		meta := map[string]string{
			frames.MetaReplyID: msg.ReplyID,
			frames.MetaSeq:     strconv.Itoa(msg.Seq),
		}
		if msg.Codec != "" {
			meta[frames.MetaCodec] = msg.Codec
		}
		return frames.NewAudioFrame(streamID, pts, data, rate, 1, meta), nil
	case "transcript":
		meta := map[string]string{
			frames.MetaSpeaker: msg.Speaker,
			frames.MetaFinal:   strconv.FormatBool(msg.Final),
		}
		return frames.NewTextFrame(streamID, pts, msg.Text, meta), nil
	case "reply_complete":
		meta := map[string]string{frames.MetaReplyID: msg.ReplyID}
		return frames.NewSystemFrame(streamID, pts, frames.SysReplyComplete, meta), nil
	case "interrupted":
		return frames.NewSystemFrame(streamID, pts, frames.SysInterrupted, nil), nil
	case "error":
		meta := map[string]string{frames.MetaReason: msg.Reason}
		return frames.NewSystemFrame(streamID, pts, frames.SysError, meta), nil
	case "closed":
		return frames.NewSystemFrame(streamID, pts, frames.SysClosed, nil), nil
	}
	return nil, nil
}

func seqFromMeta(meta map[string]string) int {
	n, _ := strconv.Atoi(meta[frames.MetaSeq])
	return n
}
