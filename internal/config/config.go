package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	LogMaxSizeMB   int    `yaml:"log_max_size_mb"`
	LogMaxBackups  int    `yaml:"log_max_backups"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	Tracing        bool   `yaml:"tracing"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Backend     BackendConfig   `yaml:"backend"`
	Capture     CaptureConfig   `yaml:"capture"`
	Preview     PreviewConfig   `yaml:"preview"`
	User        UserConfig      `yaml:"user"`
	Bus         BusConfig       `yaml:"bus"`
}

// BackendConfig points at the remote analysis service.
type BackendConfig struct {
	BaseURL            string `yaml:"base_url"`
	SubmitTimeoutMS    int    `yaml:"submit_timeout_ms"`
	RecommendTimeoutMS int    `yaml:"recommend_timeout_ms"`
}

type CaptureConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	FileName        string `yaml:"file_name"`
	MimeType        string `yaml:"mime_type"`
	ChunkBytes      int    `yaml:"chunk_bytes"`
	FrameIntervalMS int    `yaml:"frame_interval_ms"`
}

type PreviewConfig struct {
	Mode      string `yaml:"mode"` // file, memory
	Directory string `yaml:"directory"`
}

type UserConfig struct {
	DefaultID string `yaml:"default_id"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-coach",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogMaxSizeMB:   20,
			LogMaxBackups:  3,
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Backend: BackendConfig{
			BaseURL:            "http://127.0.0.1:3000",
			SubmitTimeoutMS:    240000,
			RecommendTimeoutMS: 30000,
		},
		Capture: CaptureConfig{
			Mode:            "mock",
			FileName:        "recording.webm",
			MimeType:        "audio/webm",
			ChunkBytes:      4096,
			FrameIntervalMS: 100,
		},
		Preview: PreviewConfig{
			Mode:      "file",
			Directory: "./data/previews",
		},
		User: UserConfig{
			DefaultID: "kinjal01",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "coach",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "COACH_RUNTIME_NAME")
	overrideString(&cfg.Environment, "COACH_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "COACH_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "COACH_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "COACH_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "COACH_TELEMETRY_LOG_FILE")
	overrideInt(&cfg.Telemetry.LogMaxSizeMB, "COACH_TELEMETRY_LOG_MAX_SIZE_MB")
	overrideInt(&cfg.Telemetry.LogMaxBackups, "COACH_TELEMETRY_LOG_MAX_BACKUPS")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "COACH_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "COACH_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "COACH_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.Tracing, "COACH_TELEMETRY_TRACING")
	overrideString(&cfg.Backend.BaseURL, "COACH_BACKEND_BASE_URL")
	overrideInt(&cfg.Backend.SubmitTimeoutMS, "COACH_BACKEND_SUBMIT_TIMEOUT_MS")
	overrideInt(&cfg.Backend.RecommendTimeoutMS, "COACH_BACKEND_RECOMMEND_TIMEOUT_MS")
	overrideString(&cfg.Capture.Mode, "COACH_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "COACH_CAPTURE_COMMAND")
	overrideString(&cfg.Capture.FileName, "COACH_CAPTURE_FILE_NAME")
	overrideString(&cfg.Capture.MimeType, "COACH_CAPTURE_MIME_TYPE")
	overrideInt(&cfg.Capture.ChunkBytes, "COACH_CAPTURE_CHUNK_BYTES")
	overrideInt(&cfg.Capture.FrameIntervalMS, "COACH_CAPTURE_FRAME_INTERVAL_MS")
	overrideString(&cfg.Preview.Mode, "COACH_PREVIEW_MODE")
	overrideString(&cfg.Preview.Directory, "COACH_PREVIEW_DIRECTORY")
	overrideString(&cfg.User.DefaultID, "COACH_USER_DEFAULT_ID")
	overrideBool(&cfg.Bus.Enabled, "COACH_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "COACH_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "COACH_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "COACH_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "COACH_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "COACH_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "COACH_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "COACH_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "COACH_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "COACH_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "COACH_BUS_SUBJECT_PREFIX")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Backend.BaseURL == "" {
		return errors.New("backend.base_url must not be empty")
	}
	if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("backend.base_url must be an absolute http(s) URL")
	}
	if cfg.Backend.SubmitTimeoutMS <= 0 {
		return errors.New("backend.submit_timeout_ms must be positive")
	}
	if cfg.Backend.RecommendTimeoutMS <= 0 {
		return errors.New("backend.recommend_timeout_ms must be positive")
	}
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.Capture.FileName == "" || cfg.Capture.MimeType == "" {
		return errors.New("capture.file_name and capture.mime_type must not be empty")
	}
	if cfg.Capture.ChunkBytes <= 0 {
		return errors.New("capture.chunk_bytes must be positive")
	}
	if cfg.Capture.Mode == "mock" && cfg.Capture.FrameIntervalMS <= 0 {
		return errors.New("capture.frame_interval_ms must be positive when mode=mock")
	}
	switch cfg.Preview.Mode {
	case "file":
		if cfg.Preview.Directory == "" {
			return errors.New("preview.directory must not be empty when mode=file")
		}
	case "memory":
	default:
		return errors.New("preview.mode must be one of file|memory")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	return nil
}
