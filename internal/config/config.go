package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage struct {
		// Backend selects the repository implementation: "sqlite" or "neo4j".
		Backend string `yaml:"backend"`
		SQLite  struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Neo4j struct {
			URI      string `yaml:"uri"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
		} `yaml:"neo4j"`
	} `yaml:"storage"`

	Analysis struct {
		Workers int `yaml:"workers"`
		// Denylist adds call names to skip on top of the built-in Python
		// builtins.
		Denylist []string `yaml:"denylist"`
	} `yaml:"analysis"`

	Impact struct {
		TestPatterns []string `yaml:"test_patterns"`
		Thresholds   struct {
			Low      float64 `yaml:"low"`
			Medium   float64 `yaml:"medium"`
			High     float64 `yaml:"high"`
			Critical float64 `yaml:"critical"`
		} `yaml:"thresholds"`
	} `yaml:"impact"`

	Traversal struct {
		DefaultDepth    int `yaml:"default_depth"`
		DefaultMaxNodes int `yaml:"default_max_nodes"`
	} `yaml:"traversal"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Logger struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`
}

// Default returns a configuration that works without any config file.
func Default() *Config {
	var cfg Config
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLite.Path = "codegraph.db"
	cfg.Storage.Neo4j.URI = "bolt://localhost:7687"
	cfg.Storage.Neo4j.Username = "neo4j"
	cfg.Storage.Neo4j.Database = "neo4j"
	cfg.Impact.TestPatterns = []string{"test_*.py", "*_test.py"}
	cfg.Impact.Thresholds.Low = 0.05
	cfg.Impact.Thresholds.Medium = 0.10
	cfg.Impact.Thresholds.High = 0.20
	cfg.Impact.Thresholds.Critical = 0.50
	cfg.Traversal.DefaultDepth = 3
	cfg.Traversal.DefaultMaxNodes = 50
	cfg.Server.Addr = ":8080"
	cfg.Logger.Level = "info"
	cfg.Logger.Format = "console"
	return &cfg
}

// Load reads the YAML config at path, applying .env and environment
// variable overrides on top. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, err
		}
	}

	// 3. Override with environment variables if present
	if backend := os.Getenv("CODEGRAPH_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("CODEGRAPH_SQLITE_PATH"); path != "" {
		cfg.Storage.SQLite.Path = path
	}
	if uri := os.Getenv("CODEGRAPH_NEO4J_URI"); uri != "" {
		cfg.Storage.Neo4j.URI = uri
	}
	if user := os.Getenv("CODEGRAPH_NEO4J_USER"); user != "" {
		cfg.Storage.Neo4j.Username = user
	}
	if pass := os.Getenv("CODEGRAPH_NEO4J_PASSWORD"); pass != "" {
		cfg.Storage.Neo4j.Password = pass
	}
	if workers := os.Getenv("CODEGRAPH_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Analysis.Workers = n
		}
	}
	if level := os.Getenv("CODEGRAPH_LOG_LEVEL"); level != "" {
		cfg.Logger.Level = level
	}

	return cfg, nil
}
