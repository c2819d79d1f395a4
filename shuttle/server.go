package shuttle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"

	"shuttleci.dev/core/log"
	"shuttleci.dev/core/notifier"
	"shuttleci.dev/core/shuttle/config"
	"shuttleci.dev/core/shuttle/db"
	"shuttleci.dev/core/shuttle/engine"
	"shuttleci.dev/core/shuttle/engines/docker"
	"shuttleci.dev/core/shuttle/gate"
	"shuttleci.dev/core/shuttle/models"
	"shuttleci.dev/core/shuttle/queue"
	"shuttleci.dev/core/shuttle/secrets"
)

type Shuttle struct {
	db    *db.DB
	l     *slog.Logger
	n     *notifier.Notifier
	eng   *engine.Engine
	jq    *queue.Queue
	gate  *gate.Gate
	cfg   *config.Config
	vault secrets.Manager

	// run contexts derive from this instead of the request context,
	// a run must outlive the webhook that started it
	baseCtx context.Context
}

func Command() *cli.Command {
	return &cli.Command{
		Name:   "server",
		Usage:  "run a shuttle server",
		Action: Run,
		Description: `
Environment variables:
	SHUTTLE_SERVER_HOSTNAME                 (required)
	SHUTTLE_SERVER_ADMIN_TOKEN              (required)
	SHUTTLE_SERVER_LISTEN_ADDR              (default: 0.0.0.0:6650)
	SHUTTLE_SERVER_DB_PATH                  (default: shuttle.db)
	SHUTTLE_SERVER_DEV                      (default: false)
	SHUTTLE_SERVER_SECRETS_PROVIDER         (default: sqlite)
	SHUTTLE_SERVER_SECRETS_OPENBAO_ADDR
	SHUTTLE_SERVER_SECRETS_OPENBAO_ROLE_ID
	SHUTTLE_SERVER_SECRETS_OPENBAO_SECRET_ID
	SHUTTLE_SERVER_SECRETS_OPENBAO_MOUNT    (default: shuttle)
	SHUTTLE_PIPELINES_DEFAULT_IMAGE         (default: docker.io/library/ubuntu:24.04)
	SHUTTLE_PIPELINES_WORKFLOW_TIMEOUT      (default: 5m)
	SHUTTLE_PIPELINES_LOG_DIR               (default: /var/log/shuttle)
	SHUTTLE_PIPELINES_QUEUE_SIZE            (default: 100)
	SHUTTLE_PIPELINES_WORKERS               (default: 2)
`,
	}
}

func Run(ctx context.Context, _ *cli.Command) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	n := notifier.New()

	vault, err := makeVault(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to setup secrets provider: %w", err)
	}
	if stopper, ok := vault.(secrets.Stopper); ok {
		defer stopper.Stop()
	}

	dockerEngine, err := docker.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to setup docker engine: %w", err)
	}

	engines := map[string]models.Engine{
		docker.Label: dockerEngine,
	}

	eng := engine.New(ctx, d, &n, cfg, vault, engines)

	jq := queue.NewQueue(cfg.Pipelines.QueueSize, cfg.Pipelines.Workers)

	shuttle := Shuttle{
		db:      d,
		l:       logger,
		n:       &n,
		eng:     eng,
		jq:      jq,
		gate:    gate.New(),
		cfg:     cfg,
		vault:   vault,
		baseCtx: ctx,
	}

	// starts the job queue runners in the background
	jq.Start()
	defer jq.Stop()

	logger.Info("starting shuttle server", "address", cfg.Server.ListenAddr)
	logger.Error("server error", "error", http.ListenAndServe(cfg.Server.ListenAddr, shuttle.Router()))

	return nil
}

func makeVault(ctx context.Context, cfg *config.Config) (secrets.Manager, error) {
	switch cfg.Server.Secrets.Provider {
	case "sqlite":
		return secrets.NewSQLiteManager(cfg.Server.DBPath)
	case "openbao":
		ob := cfg.Server.Secrets.OpenBao
		return secrets.NewOpenBaoManager(
			ob.Addr,
			ob.RoleID,
			ob.SecretID,
			log.FromContext(ctx).With("component", "openbao"),
			secrets.WithMountPath(ob.Mount),
		)
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Server.Secrets.Provider)
	}
}

func (s *Shuttle) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.RequestLogger)

	mux.Post("/events", s.HandleEvent)
	mux.Get("/events", s.Events)
	mux.Get("/runs/{run}", s.GetRun)
	mux.Get("/logs/{run}/{workflow}", s.Logs)

	mux.Group(func(r chi.Router) {
		r.Use(s.AdminAuth)
		r.Put("/repos/{owner}/{name}", s.AddRepo)
		r.Delete("/repos/{owner}/{name}", s.RemoveRepo)
		r.Post("/secrets", s.AddSecret)
		r.Get("/secrets", s.ListSecrets)
		r.Delete("/secrets", s.RemoveSecret)
	})

	return mux
}
