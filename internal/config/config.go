package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DriverJSON     = "json"
	DriverPostgres = "postgres"
	BlobsDisk      = "disk"
	BlobsMinIO     = "minio"
	MatchFirst     = "first"
	MatchBest      = "best"
)

// DefaultTolerance is the Euclidean match threshold for L2-normalised ArcFace
// embeddings. For unit vectors d = sqrt(2 - 2cos), so a cosine similarity of
// 0.4 corresponds to a distance of about 1.1.
const DefaultTolerance = 1.1

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Blobs    BlobsConfig    `yaml:"blobs"`
	MinIO    MinIOConfig    `yaml:"minio"`
	NATS     NATSConfig     `yaml:"nats"`
	Vision   VisionConfig   `yaml:"vision"`
	Matching MatchingConfig `yaml:"matching"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	MaxUploadMB int64    `yaml:"max_upload_mb"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig selects where the gallery and record tables live.
type StorageConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"data_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// BlobsConfig selects where uploaded documents and face images are kept.
type BlobsConfig struct {
	Driver     string `yaml:"driver"`
	UploadsDir string `yaml:"uploads_dir"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NATSConfig enables audit event fan-out when URL is set.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

type MatchingConfig struct {
	Tolerance float64 `yaml:"tolerance"`
	Mode      string  `yaml:"mode"`
	Dimension int     `yaml:"dimension"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverJSON, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blobs.Driver {
	case BlobsDisk, BlobsMinIO:
	default:
		return fmt.Errorf("unknown blobs driver %q", c.Blobs.Driver)
	}
	switch c.Matching.Mode {
	case MatchFirst, MatchBest:
	default:
		return fmt.Errorf("unknown matching mode %q", c.Matching.Mode)
	}
	if c.Matching.Tolerance < 0 {
		return fmt.Errorf("matching tolerance must be non-negative, got %v", c.Matching.Tolerance)
	}
	if c.Matching.Dimension < 0 {
		return fmt.Errorf("matching dimension must be non-negative, got %d", c.Matching.Dimension)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverJSON
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Blobs.Driver == "" {
		cfg.Blobs.Driver = BlobsDisk
	}
	if cfg.Blobs.UploadsDir == "" {
		cfg.Blobs.UploadsDir = "data/uploads"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	// A zero tolerance is indistinguishable from "unset" in YAML; exact-match
	// galleries can still use a tiny positive value.
	if cfg.Matching.Tolerance == 0 {
		cfg.Matching.Tolerance = DefaultTolerance
	}
	if cfg.Matching.Mode == "" {
		cfg.Matching.Mode = MatchFirst
	}
	if cfg.Matching.Dimension == 0 {
		cfg.Matching.Dimension = 512
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MF_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("MF_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MF_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("MF_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("MF_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("MF_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("MF_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("MF_BLOBS_DRIVER"); v != "" {
		cfg.Blobs.Driver = v
	}
	if v := os.Getenv("MF_UPLOADS_DIR"); v != "" {
		cfg.Blobs.UploadsDir = v
	}
	if v := os.Getenv("MF_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("MF_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("MF_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("MF_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("MF_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("MF_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("MF_MATCH_TOLERANCE"); v != "" {
		if tol, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Tolerance = tol
		}
	}
	if v := os.Getenv("MF_MATCH_MODE"); v != "" {
		cfg.Matching.Mode = v
	}
}
