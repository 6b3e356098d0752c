package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

// State is the coarse lifecycle of a hosted conversation process.
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner hosts one long-running conversation process.
type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks observe the edges of the lifecycle.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer finishes in-flight work before shutdown. For a voice engine this
// is Disconnect: capture released, playback silenced, session closed.
type Drainer interface {
	Drain() error
}

const EngineVersion = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"LYRA\" \"\" 0 }}\nVersion: " + EngineVersion + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
