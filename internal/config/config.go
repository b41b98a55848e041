package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	// PublicBaseURL is the externally reachable base URL used when building
	// asset links. Defaults to http://127.0.0.1:<port>.
	PublicBaseURL string
	// APIToken, when set, gates the submission endpoint behind bearer auth.
	// Read endpoints and file serving stay open.
	APIToken string
}

type GeminiConfig struct {
	BaseURL      string
	APIKey       string
	SegmentModel string
	ImageModel   string
	TextModel    string
}

type StorageConfig struct {
	DataDir string
}

type PipelineConfig struct {
	Workers    int
	QueueDepth int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Gemini: GeminiConfig{
			BaseURL:      "https://generativelanguage.googleapis.com",
			SegmentModel: "gemini-2.5-flash",
			ImageModel:   "gemini-2.5-flash-image",
			TextModel:    "gemini-3-flash-preview",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			Workers:    4,
			QueueDepth: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "chalkscan")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chalkscan"
	}
	return filepath.Join(home, ".chalkscan")
}

// Load reads configuration from defaults overridden by CHALKSCAN_* environment
// variables. The Gemini API key is required: the segmentation capability is the
// mandatory first pipeline stage and the server refuses to start without it.
func Load() (Config, error) {
	cfg, err := LoadClient()
	if err != nil {
		return Config{}, err
	}

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. " +
			"Set it via environment variable CHALKSCAN_GEMINI_API_KEY")
	}

	return cfg, nil
}

// LoadClient is Load without the API key requirement, for CLI commands that
// only talk to a running server.
func LoadClient() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHALKSCAN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHALKSCAN_PUBLIC_BASE_URL"); v != "" {
		cfg.Server.PublicBaseURL = v
	}
	if v := os.Getenv("CHALKSCAN_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}
	if v := os.Getenv("CHALKSCAN_GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("CHALKSCAN_GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := os.Getenv("CHALKSCAN_SEGMENT_MODEL"); v != "" {
		cfg.Gemini.SegmentModel = v
	}
	if v := os.Getenv("CHALKSCAN_IMAGE_MODEL"); v != "" {
		cfg.Gemini.ImageModel = v
	}
	if v := os.Getenv("CHALKSCAN_TEXT_MODEL"); v != "" {
		cfg.Gemini.TextModel = v
	}
	if v := os.Getenv("CHALKSCAN_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CHALKSCAN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("CHALKSCAN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
