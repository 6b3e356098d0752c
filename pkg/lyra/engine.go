package lyra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/lyra/pkg/audio"
	"github.com/harunnryd/lyra/pkg/codec"
	"github.com/harunnryd/lyra/pkg/control"
	"github.com/harunnryd/lyra/pkg/errorsx"
	"github.com/harunnryd/lyra/pkg/frames"
	"github.com/harunnryd/lyra/pkg/logging"
	"github.com/harunnryd/lyra/pkg/metrics"
	"github.com/harunnryd/lyra/pkg/observers"
	"github.com/harunnryd/lyra/pkg/pipeline"
	"github.com/harunnryd/lyra/pkg/playback"
	"github.com/harunnryd/lyra/pkg/priority"
	"github.com/harunnryd/lyra/pkg/redact"
	"github.com/harunnryd/lyra/pkg/session"
	"github.com/harunnryd/lyra/pkg/turn"
)

// ConnectionState is the lifecycle of one engine instance. An engine goes
// through Connect/Disconnect exactly once; reconnection is a new engine.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TranscriptSink receives transcript events that survived suppression.
type TranscriptSink func(speaker, text string, final bool)

type Options struct {
	Config     Config
	Session    session.Session
	Capture    audio.CaptureDevice
	Output     playback.Sink
	Transcript TranscriptSink
	Listeners  []turn.StateListener
	// Observer, when set, receives every metrics event alongside the
	// built-in observers.
	Observer metrics.Observer
}

// Engine wires capture, session, turn-taking, control suppression and
// playback into one full-duplex voice conversation.
type Engine struct {
	cfg      Config
	sess     session.Session
	capture  audio.CaptureDevice
	sched    *playback.Scheduler
	coord    *turn.Coordinator
	ctrl     *control.Dispatcher
	outbound *priority.Queue
	chain    *pipeline.Chain
	gate     *audio.SpeechGate
	log      *slog.Logger

	asyncObs *metrics.AsyncObserver
	volObs   metrics.Observer
	artifact *os.File

	transcript TranscriptSink
	streamID   string
	volume     atomic.Uint64

	mu         sync.Mutex
	connState  ConnectionState
	errMsg     string
	speed      float64
	replyAudio bool

	cancel   context.CancelFunc
	teardown sync.Once
}

func New(opts Options) (*Engine, error) {
	if opts.Session == nil {
		return nil, errors.New("session is required")
	}
	if opts.Capture == nil {
		return nil, errors.New("capture device is required")
	}
	if opts.Output == nil {
		return nil, errors.New("output sink is required")
	}
	cfg := opts.Config
	cfg.Capture = cfg.Capture.WithDefaults()
	SetDefaultLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)
	log := slog.Default()

	obsList := []metrics.Observer{
		observers.NewLatencyObserver(log),
		observers.NewLoggerObserver(log),
	}
	var artifact *os.File
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		name := filepath.Join(dir, fmt.Sprintf("metrics-%d.jsonl", time.Now().Unix()))
		if f, err := os.Create(name); err == nil {
			artifact = f
			obsList = append(obsList, metrics.NewJSONLObserver(f))
		} else {
			log.Warn("artifact_open_failed", "path", name, "error", err)
		}
	}
	if opts.Observer != nil {
		obsList = append(obsList, opts.Observer)
	}
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	e := &Engine{
		cfg:        cfg,
		sess:       opts.Session,
		capture:    opts.Capture,
		gate:       audio.NewSpeechGate(),
		log:        log,
		asyncObs:   asyncObs,
		volObs:     metrics.NewSamplingObserver(asyncObs, 0.02),
		artifact:   artifact,
		transcript: opts.Transcript,
		streamID:   uuid.NewString(),
		speed:      1.0,
	}

	slack := time.Duration(cfg.Playback.UnderrunSlackMS) * time.Millisecond
	e.sched = playback.NewScheduler(opts.Output, playback.Config{UnderrunSlack: slack}, log)
	e.sched.SetOnDrained(func() {
		e.coord.OnQueueDrained()
	})

	flusher := flushFunc(func() {
		e.sched.Flush()
		e.observe("playback_flushed", 0, nil)
	})
	e.coord = turn.NewCoordinator(cfg.TurnPolicy(), flusher, log)
	e.coord.SetOnDeviceLost(func(err error) {
		e.setErrMessage(err)
	})
	for _, l := range opts.Listeners {
		if l != nil {
			e.coord.AddListener(l)
		}
	}

	e.outbound = priority.New(cfg.Queue.HighCapacity, cfg.Queue.LowCapacity)
	e.ctrl = control.NewDispatcherWithOptions(queueEmitter{e}, control.Options{
		ClearOnUserSpeech: cfg.Turn.ClearSuppressionOnUserSpeech,
	}, log)

	rate := cfg.Playback.SampleRate
	if rate <= 0 {
		rate = 24000
	}
	e.chain = pipeline.NewChain(log, codec.NewProcessor(rate, cfg.Playback.Channels))
	e.chain.SetObserver(asyncObs)

	return e, nil
}

type flushFunc func()

func (f flushFunc) Flush() { f() }

// queueEmitter routes dispatcher instructions through the high lane so they
// are never stuck behind queued mic audio.
type queueEmitter struct{ e *Engine }

func (q queueEmitter) Emit(f frames.Frame) error {
	if !q.e.outbound.TryPushHigh(f) {
		return errors.New("outbound queue full")
	}
	return nil
}

// Connect acquires the capture device, opens the session and starts the
// capture, sender and inbound loops. A failure during construction unwinds
// everything already acquired.
func (e *Engine) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.connState != StateDisconnected {
		e.mu.Unlock()
		return errors.New("already connected")
	}
	e.connState = StateConnecting
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.capture.Start(ctx); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonDeviceUnavailable)
		e.fail(err)
		e.close()
		return err
	}
	if err := e.sess.Start(ctx); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonSessionRecv)
		e.fail(err)
		e.close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.captureLoop(gctx) })
	g.Go(func() error { return e.senderLoop(gctx) })
	g.Go(func() error { return e.inboundLoop(gctx) })
	go func() {
		if err := g.Wait(); err != nil {
			if errorsx.IsTerminal(err) {
				e.fail(err)
			} else {
				e.setErrMessage(err)
			}
		}
		e.close()
	}()

	e.mu.Lock()
	if e.connState == StateConnecting {
		e.connState = StateConnected
	}
	e.mu.Unlock()
	e.log.Info("connected", "session", e.sess.Name(), "stream_id", e.streamID)
	return nil
}

// Disconnect tears the conversation down: capture released, playback
// silenced, session closed. Idempotent from any state.
func (e *Engine) Disconnect() error {
	e.close()
	return nil
}

// Interrupt is user barge-in: signal the remote side ahead of any queued
// audio and flush local playback atomically with the turn transition.
func (e *Engine) Interrupt() {
	e.observe("interrupt", 0, nil)
	f := frames.NewControlFrame(e.streamID, time.Now().UnixNano(), frames.ControlStartInterruption, nil)
	if !e.outbound.TryPushHigh(f) {
		e.log.Warn("interrupt_signal_dropped")
	}
	// The interrupted reply is over; the next chunk starts a fresh one.
	e.mu.Lock()
	e.replyAudio = false
	e.mu.Unlock()
	e.coord.Interrupt("user barge-in")
}

// SetSpeed adjusts speaking speed: future local segments play at the mapped
// rate and the remote agent is instructed out of band. The instruction's
// acknowledgment never reaches the transcript or the speaker.
func (e *Engine) SetSpeed(level int) error {
	mult := speedForLevel(level)
	e.mu.Lock()
	e.speed = mult
	e.mu.Unlock()
	return e.ctrl.Send(fmt.Sprintf("Adjust your speaking speed to level %d of 4.", level))
}

// Instruct sends an out-of-band control instruction whose reply is
// suppressed from both transcript and playback.
func (e *Engine) Instruct(text string) error {
	return e.ctrl.Send(text)
}

// SendText transmits user content text and hands the turn to the agent.
func (e *Engine) SendText(text string) error {
	f := frames.NewTextFrame(e.streamID, time.Now().UnixNano(), text, map[string]string{
		frames.MetaSource: "user",
	})
	if !e.outbound.TryPushLow(f) {
		return errorsx.Wrap(errors.New("outbound queue full"), errorsx.ReasonSessionSend)
	}
	e.coord.OnContentSent()
	e.observe("content_sent", 0, nil)
	return nil
}

func (e *Engine) ConnectionState() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connState
}

// Turn reports who holds the conversational floor.
func (e *Engine) Turn() turn.State { return e.coord.State() }

// Volume is the latest normalized capture loudness in [0,1], updated for
// every frame even while the mic gate is closed.
func (e *Engine) Volume() float64 {
	return math.Float64frombits(e.volume.Load())
}

func (e *Engine) ErrMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errMsg
}

func (e *Engine) captureLoop(ctx context.Context) error {
	speaking := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-e.capture.Frames():
			if !ok {
				if err := e.capture.Err(); err != nil {
					// Device vanished mid-turn. The session stays up; the
					// user just lost their microphone.
					e.setErrMessage(err)
					e.coord.OnDeviceLost(err)
				}
				return nil
			}
			level := audio.Level(f.RawPayload())
			e.volume.Store(math.Float64bits(level))
			e.volObs.RecordEvent(metrics.MetricsEvent{
				Name:  "volume",
				Time:  time.Now(),
				Value: level,
				Tags:  map[string]string{"stream_id": e.streamID},
			})

			inSpeech := e.gate.Update(level)
			if inSpeech && !speaking && e.cfg.Turn.LocalBargeIn && e.coord.State() == turn.StateAiSpeaking {
				e.Interrupt()
			}
			if !inSpeech && speaking && e.coord.State() == turn.StateUserSpeaking {
				// Utterance ended; the agent's reply is now pending.
				e.coord.OnContentSent()
				e.observe("content_sent", 0, nil)
			}
			speaking = inSpeech

			if e.coord.MicEnabled() {
				if !e.outbound.TryPushLow(f) {
					frames.ReleaseAudioFrame(f)
					e.log.Warn("capture_frame_dropped", "pts", f.PTS())
				}
			} else {
				// Gate closed: measured for the meter, never transmitted.
				frames.ReleaseAudioFrame(f)
			}
		}
	}
}

func (e *Engine) senderLoop(ctx context.Context) error {
	for {
		f, ok := e.outbound.Pop()
		if !ok {
			return nil
		}
		if err := e.sess.Send(f); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonSessionSend)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (e *Engine) inboundLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-e.sess.Recv():
			if !ok {
				return nil
			}
			for _, out := range e.chain.Run(f) {
				e.dispatch(out)
			}
		}
	}
}

// dispatch handles one inbound frame. Runs on the inbound goroutine only,
// so suppression for a frame is fully resolved before the next one.
func (e *Engine) dispatch(f frames.Frame) {
	switch fr := f.(type) {
	case frames.AudioFrame:
		if e.ctrl.SuppressAudio() {
			frames.ReleaseAudioFrame(fr)
			e.observe("reply_suppressed", 0, nil)
			return
		}
		e.mu.Lock()
		first := !e.replyAudio
		e.replyAudio = true
		speed := e.speed
		e.mu.Unlock()
		if first {
			e.observe("reply_first_audio", 0, nil)
		}
		e.coord.OnReplyAudio()
		seq, _ := strconv.Atoi(fr.Meta()[frames.MetaSeq])
		e.sched.Enqueue(playback.Segment{
			Seq:        seq,
			PCM:        fr.Data(),
			SampleRate: fr.Rate(),
			Channels:   fr.Channels(),
			Speed:      speed,
		})
		frames.ReleaseAudioFrame(fr)

	case frames.TextFrame:
		meta := fr.Meta()
		speaker := meta[frames.MetaSpeaker]
		if e.ctrl.SuppressTranscript(speaker, fr.Text()) {
			e.observe("transcript_suppressed", 0, nil)
			return
		}
		final := meta[frames.MetaFinal] == "true"
		e.log.Info("transcript",
			"speaker", speaker,
			"final", final,
			"text", redact.Text(fr.Text()),
		)
		if e.transcript != nil {
			e.transcript(speaker, fr.Text(), final)
		}

	case frames.SystemFrame:
		e.handleSystem(fr)
	}
}

func (e *Engine) handleSystem(f frames.SystemFrame) {
	switch f.Name() {
	case frames.SysReplyComplete:
		// Close the suppression window before the turn logic can hand the
		// floor back and admit the next transcript event.
		e.ctrl.OnReplyComplete()
		e.mu.Lock()
		e.replyAudio = false
		e.mu.Unlock()
		e.coord.OnReplyComplete()
		e.observe("reply_done", 0, nil)
	case frames.SysInterrupted:
		e.mu.Lock()
		e.replyAudio = false
		e.mu.Unlock()
		e.coord.Interrupt("remote interruption")
	case frames.SysClosed:
		e.close()
	case frames.SysError:
		reason := f.Meta()[frames.MetaReason]
		if reason == "" {
			reason = "session error"
		}
		e.fail(errorsx.New(errorsx.ReasonSessionRecv, reason))
		e.close()
	}
}

// fail records the first terminal error; later ones only get logged.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	if e.errMsg == "" {
		e.errMsg = err.Error()
	}
	e.connState = StateFailed
	e.mu.Unlock()
	e.log.Error("engine_failed", "error", err)
}

func (e *Engine) setErrMessage(err error) {
	e.mu.Lock()
	if e.errMsg == "" {
		e.errMsg = err.Error()
	}
	e.mu.Unlock()
	e.log.Error("capture_lost", "error", err)
}

// close releases capture, playback and the session exactly once, from
// whichever path gets there first.
func (e *Engine) close() {
	e.teardown.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		if err := e.capture.Stop(); err != nil {
			e.log.Warn("capture_stop_failed", "error", err)
		}
		e.sched.Flush()
		if err := e.sess.Stop(); err != nil {
			e.log.Warn("session_stop_failed", "error", err)
		}
		e.outbound.Close()
		e.asyncObs.Close()
		if e.artifact != nil {
			_ = e.artifact.Close()
		}
		e.mu.Lock()
		if e.connState != StateFailed {
			e.connState = StateDisconnected
		}
		e.mu.Unlock()
		e.log.Info("disconnected", "stream_id", e.streamID)
	})
}

func (e *Engine) observe(name string, value float64, fields map[string]any) {
	e.asyncObs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   map[string]string{"stream_id": e.streamID},
		Fields: fields,
	})
}

// speedForLevel maps the UI speed level onto a playback-rate multiplier.
func speedForLevel(level int) float64 {
	switch {
	case level <= 1:
		return 0.75
	case level == 2:
		return 1.0
	case level == 3:
		return 1.25
	default:
		return 1.5
	}
}

func SetDefaultLogger(level, format string) {
	logging.Setup(level, format)
}
