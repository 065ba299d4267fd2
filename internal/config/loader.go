package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from an optional YAML file and environment
// variables. Tests can override Lookup and ReadFile to inject deterministic
// sources.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// fileConfig is the shape shared by the YAML file and the JSON payload.
type fileConfig struct {
	ListenAddr          string `yaml:"listen_addr" json:"listen_addr"`
	HTTPAddr            string `yaml:"http_addr" json:"http_addr"`
	LogLevel            string `yaml:"log_level" json:"log_level"`
	Language            string `yaml:"language" json:"language"`
	Backend             string `yaml:"backend" json:"backend"`
	UseStubEngine       *bool  `yaml:"use_stub_engine" json:"use_stub_engine"`
	DataDir             string `yaml:"data_dir" json:"data_dir"`
	CacheDir            string `yaml:"cache_dir" json:"cache_dir"`
	Offline             *bool  `yaml:"offline" json:"offline"`
	RuntimeURL          string `yaml:"runtime_url" json:"runtime_url"`
	Threads             *int   `yaml:"threads" json:"threads"`
	Provider            string `yaml:"provider" json:"provider"`
	SampleRate          *int   `yaml:"sample_rate" json:"sample_rate"`
	ChunkSize           []int  `yaml:"chunk_size" json:"chunk_size"`
	EncoderLookBack     *int   `yaml:"encoder_chunk_look_back" json:"encoder_chunk_look_back"`
	DecoderLookBack     *int   `yaml:"decoder_chunk_look_back" json:"decoder_chunk_look_back"`
	ContextSentences    *int   `yaml:"context_sentences" json:"context_sentences"`
	SentenceTerminators string `yaml:"sentence_terminators" json:"sentence_terminators"`
	SilenceChunks       *int   `yaml:"silence_chunks" json:"silence_chunks"`
}

// Load retrieves the adapter configuration and validates it. Sources are
// applied in order: defaults, FUNASR_CONFIG_FILE, NUPI_MODULE_CONFIG, then
// individual environment variables.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Config{
		ListenAddr:       DefaultListenAddr,
		EncoderLookBack:  DefaultEncoderLookBack,
		DecoderLookBack:  DefaultDecoderLookBack,
		ContextSentences: DefaultContextSentences,
		SilenceChunks:    DefaultSilenceChunks,
	}

	if path, ok := l.Lookup("FUNASR_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		data, err := l.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		var payload fileConfig
		if err := yaml.Unmarshal(data, &payload); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if err := payload.apply(&cfg); err != nil {
			return Config{}, err
		}
	}

	if raw, ok := l.Lookup("NUPI_MODULE_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		var payload fileConfig
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return Config{}, fmt.Errorf("config: decode NUPI_MODULE_CONFIG: %w", err)
		}
		if err := payload.apply(&cfg); err != nil {
			return Config{}, err
		}
	}

	overrideString(l.Lookup, "NUPI_ADAPTER_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "NUPI_ADAPTER_HTTP_ADDR", &cfg.HTTPAddr)
	overrideString(l.Lookup, "NUPI_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "NUPI_LANGUAGE_HINT", &cfg.Language)
	overrideString(l.Lookup, "NUPI_ADAPTER_DATA_DIR", &cfg.DataDir)
	overrideString(l.Lookup, "FUNASR_BACKEND", &cfg.Backend)
	overrideString(l.Lookup, "FUNASR_CACHE_DIR", &cfg.CacheDir)
	overrideString(l.Lookup, "FUNASR_RUNTIME_URL", &cfg.RuntimeURL)
	overrideString(l.Lookup, "FUNASR_PROVIDER", &cfg.Provider)
	if err := overrideBool(l.Lookup, "NUPI_ADAPTER_USE_STUB_ENGINE", &cfg.UseStubEngine); err != nil {
		return Config{}, err
	}
	if err := overrideBool(l.Lookup, "FUNASR_OFFLINE", &cfg.Offline); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "FUNASR_THREADS", &cfg.Threads); err != nil {
		return Config{}, err
	}
	if err := overrideInt(l.Lookup, "FUNASR_CONTEXT_SENTENCES", &cfg.ContextSentences); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (p fileConfig) apply(cfg *Config) error {
	setString(&cfg.ListenAddr, p.ListenAddr)
	setString(&cfg.HTTPAddr, p.HTTPAddr)
	setString(&cfg.LogLevel, p.LogLevel)
	setString(&cfg.Language, p.Language)
	setString(&cfg.Backend, p.Backend)
	setString(&cfg.DataDir, p.DataDir)
	setString(&cfg.CacheDir, p.CacheDir)
	setString(&cfg.RuntimeURL, p.RuntimeURL)
	setString(&cfg.Provider, p.Provider)
	setString(&cfg.SentenceTerminators, p.SentenceTerminators)
	if p.UseStubEngine != nil {
		cfg.UseStubEngine = *p.UseStubEngine
	}
	if p.Offline != nil {
		cfg.Offline = *p.Offline
	}
	setInt(&cfg.Threads, p.Threads)
	setInt(&cfg.SampleRate, p.SampleRate)
	setInt(&cfg.EncoderLookBack, p.EncoderLookBack)
	setInt(&cfg.DecoderLookBack, p.DecoderLookBack)
	setInt(&cfg.ContextSentences, p.ContextSentences)
	setInt(&cfg.SilenceChunks, p.SilenceChunks)
	if p.ChunkSize != nil {
		if len(p.ChunkSize) != 3 {
			return fmt.Errorf("config: chunk_size must have 3 values, got %d", len(p.ChunkSize))
		}
		copy(cfg.ChunkSize[:], p.ChunkSize)
	}
	return nil
}

func setString(target *string, value string) {
	if strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func setInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", key, err)
	}
	*target = parsed
	return nil
}
