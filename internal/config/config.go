package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	StateStore  StateStoreConfig `yaml:"state_store"`
	Backend     BackendConfig    `yaml:"backend"`
	Generation  GenerationConfig `yaml:"generation"`
	Service     ServiceConfig    `yaml:"service"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type StateStoreConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxGenerations int    `yaml:"max_generations"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

type BackendConfig struct {
	Mode     string `yaml:"mode"` // mock, http, exec
	Endpoint string `yaml:"endpoint"`
	Command  string `yaml:"command"`
	ModelID  string `yaml:"model_id"`
}

type GenerationConfig struct {
	MaxNewTokens      int      `yaml:"max_new_tokens"`
	MinNewTokens      int      `yaml:"min_new_tokens"`
	Temperature       float64  `yaml:"temperature"`
	TopK              int      `yaml:"top_k"`
	TopP              float64  `yaml:"top_p"`
	RepetitionPenalty float64  `yaml:"repetition_penalty"`
	StopSequences     []string `yaml:"stop_sequences"`
}

type ServiceConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestTimeout int  `yaml:"request_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "genbridge-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "genbridge-node-1",
			Role:              "bridge",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		StateStore: StateStoreConfig{
			Path:           "./data/genbridge-state.db",
			RetentionMode:  "persistent",
			RetentionDays:  30,
			MaxGenerations: 10000,
		},
		Backend: BackendConfig{
			Mode:     "mock",
			Endpoint: "http://localhost:8033",
			ModelID:  "granite-3b-instruct",
		},
		Generation: GenerationConfig{
			MaxNewTokens: 256,
			Temperature:  0.7,
			TopP:         1.0,
		},
		Service: ServiceConfig{
			Enabled:        true,
			RequestTimeout: 60000,
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
	overrideString(&cfg.RuntimeName, "GENBRIDGE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "GENBRIDGE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "GENBRIDGE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "GENBRIDGE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "GENBRIDGE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "GENBRIDGE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "GENBRIDGE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "GENBRIDGE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "GENBRIDGE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "GENBRIDGE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "GENBRIDGE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "GENBRIDGE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "GENBRIDGE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "GENBRIDGE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "GENBRIDGE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "GENBRIDGE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "GENBRIDGE_NODE_ID")
	overrideString(&cfg.Node.Role, "GENBRIDGE_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "GENBRIDGE_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "GENBRIDGE_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.StateStore.Path, "GENBRIDGE_STATE_STORE_PATH")
	overrideString(&cfg.StateStore.RetentionMode, "GENBRIDGE_STATE_STORE_RETENTION_MODE")
	overrideInt(&cfg.StateStore.RetentionDays, "GENBRIDGE_STATE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.StateStore.MaxGenerations, "GENBRIDGE_STATE_STORE_MAX_GENERATIONS")
	overrideBool(&cfg.StateStore.VacuumOnStart, "GENBRIDGE_STATE_STORE_VACUUM_ON_START")
	overrideString(&cfg.Backend.Mode, "GENBRIDGE_BACKEND_MODE")
	overrideString(&cfg.Backend.Endpoint, "GENBRIDGE_BACKEND_ENDPOINT")
	overrideString(&cfg.Backend.Command, "GENBRIDGE_BACKEND_COMMAND")
	overrideString(&cfg.Backend.ModelID, "GENBRIDGE_BACKEND_MODEL_ID")
	overrideInt(&cfg.Generation.MaxNewTokens, "GENBRIDGE_GENERATION_MAX_NEW_TOKENS")
	overrideInt(&cfg.Generation.MinNewTokens, "GENBRIDGE_GENERATION_MIN_NEW_TOKENS")
	overrideFloat(&cfg.Generation.Temperature, "GENBRIDGE_GENERATION_TEMPERATURE")
	overrideInt(&cfg.Generation.TopK, "GENBRIDGE_GENERATION_TOP_K")
	overrideFloat(&cfg.Generation.TopP, "GENBRIDGE_GENERATION_TOP_P")
	overrideFloat(&cfg.Generation.RepetitionPenalty, "GENBRIDGE_GENERATION_REPETITION_PENALTY")
	overrideStringSlice(&cfg.Generation.StopSequences, "GENBRIDGE_GENERATION_STOP_SEQUENCES")
	overrideBool(&cfg.Service.Enabled, "GENBRIDGE_SERVICE_ENABLED")
	overrideInt(&cfg.Service.RequestTimeout, "GENBRIDGE_SERVICE_REQUEST_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	switch cfg.StateStore.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("state_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.StateStore.RetentionMode == "persistent" && cfg.StateStore.Path == "" {
		return errors.New("state_store.path must not be empty in persistent mode")
	}
	if cfg.StateStore.RetentionDays < 0 {
		return errors.New("state_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Backend.Mode {
	case "mock", "http", "exec":
	default:
		return errors.New("backend.mode must be one of mock|http|exec")
	}
	if cfg.Backend.Mode == "http" && cfg.Backend.Endpoint == "" {
		return errors.New("backend.endpoint must be set when mode=http")
	}
	if cfg.Backend.Mode == "exec" && cfg.Backend.Command == "" {
		return errors.New("backend.command must be set when mode=exec")
	}
	if cfg.Backend.ModelID == "" {
		return errors.New("backend.model_id must not be empty")
	}
	if cfg.Generation.MaxNewTokens < 0 {
		return errors.New("generation.max_new_tokens must be >= 0")
	}
	if cfg.Generation.MinNewTokens < 0 || (cfg.Generation.MaxNewTokens > 0 && cfg.Generation.MinNewTokens > cfg.Generation.MaxNewTokens) {
		return errors.New("generation.min_new_tokens must be between 0 and max_new_tokens")
	}
	if cfg.Service.Enabled && cfg.Service.RequestTimeout <= 0 {
		return errors.New("service.request_timeout_ms must be positive when the service is enabled")
	}
	return nil
}
