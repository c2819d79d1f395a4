package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string  `env:"LISTEN_ADDR, default=0.0.0.0:6650"`
	DBPath     string  `env:"DB_PATH, default=shuttle.db"`
	Hostname   string  `env:"HOSTNAME, required"`
	AdminToken string  `env:"ADMIN_TOKEN, required"`
	Dev        bool    `env:"DEV, default=false"`
	Secrets    Secrets `env:",prefix=SECRETS_"`
}

type Secrets struct {
	Provider string        `env:"PROVIDER, default=sqlite"`
	OpenBao  OpenBaoConfig `env:",prefix=OPENBAO_"`
}

type OpenBaoConfig struct {
	Addr     string `env:"ADDR"`
	RoleID   string `env:"ROLE_ID"`
	SecretID string `env:"SECRET_ID"`
	Mount    string `env:"MOUNT, default=shuttle"`
}

type Pipelines struct {
	DefaultImage    string `env:"DEFAULT_IMAGE, default=docker.io/library/ubuntu:24.04"`
	WorkflowTimeout string `env:"WORKFLOW_TIMEOUT, default=5m"`
	LogDir          string `env:"LOG_DIR, default=/var/log/shuttle"`
	QueueSize       int    `env:"QUEUE_SIZE, default=100"`
	Workers         int    `env:"WORKERS, default=2"`
}

type Config struct {
	Server    Server    `env:",prefix=SHUTTLE_SERVER_"`
	Pipelines Pipelines `env:",prefix=SHUTTLE_PIPELINES_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
