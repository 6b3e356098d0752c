package lyra

import (
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/lyra/pkg/audio"
	"github.com/harunnryd/lyra/pkg/turn"
	"github.com/spf13/viper"
)

type Config struct {
	Capture       audio.CaptureConfig `mapstructure:"capture"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Session       SessionConfig       `mapstructure:"session"`
	Queue         QueueConfig         `mapstructure:"queue"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type PlaybackConfig struct {
	SampleRate      int `mapstructure:"sample_rate"`
	Channels        int `mapstructure:"channels"`
	UnderrunSlackMS int `mapstructure:"underrun_slack_ms"`
}

type TurnConfig struct {
	EndOfTurnPolicy              string `mapstructure:"end_of_turn_policy"`
	ClearSuppressionOnUserSpeech bool   `mapstructure:"clear_suppression_on_user_speech"`
	LocalBargeIn                 bool   `mapstructure:"local_barge_in"`
}

type SessionConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type QueueConfig struct {
	HighCapacity int `mapstructure:"high_capacity"`
	LowCapacity  int `mapstructure:"low_capacity"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("capture.sample_rate", 16000)
	v.SetDefault("capture.channels", 1)
	v.SetDefault("playback.sample_rate", 24000)
	v.SetDefault("playback.channels", 1)
	v.SetDefault("playback.underrun_slack_ms", 30)
	v.SetDefault("turn.end_of_turn_policy", "both")
	v.SetDefault("turn.clear_suppression_on_user_speech", true)
	v.SetDefault("turn.local_barge_in", false)
	v.SetDefault("queue.high_capacity", 64)
	v.SetDefault("queue.low_capacity", 512)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.Capture = cfg.Capture.WithDefaults()
	cfg.Session.Settings = expandSettings(cfg.Session.Settings)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.Provider) == "" {
		return fmt.Errorf("session.provider is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Turn.EndOfTurnPolicy)) {
	case "", "both", "either":
	default:
		return fmt.Errorf("turn.end_of_turn_policy must be both or either")
	}
	return nil
}

// TurnPolicy maps the configured end-of-turn policy string onto the
// coordinator's policy type.
func (c Config) TurnPolicy() turn.EndOfTurnPolicy {
	if strings.EqualFold(strings.TrimSpace(c.Turn.EndOfTurnPolicy), "either") {
		return turn.PolicyEitherSignal
	}
	return turn.PolicyQueueAndComplete
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}
