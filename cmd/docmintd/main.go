// docmintd runs the document-generation pipeline as a long-lived daemon. It
// assembles the fx graph, recovers any interrupted jobs, and serves until
// SIGINT/SIGTERM.
package main

import (
	_ "embed"

	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/export"
	"github.com/docmint/docmint/pkg/docgen/metrics"
	"github.com/docmint/docmint/pkg/docgen/notification"
	"github.com/docmint/docmint/pkg/docgen/orchestrator"
	"github.com/docmint/docmint/pkg/docgen/progress"
	"github.com/docmint/docmint/pkg/docgen/queue"
	"github.com/docmint/docmint/pkg/docgen/render"
	"github.com/docmint/docmint/pkg/docgen/repository"
	"github.com/docmint/docmint/pkg/docgen/repository/inmemory"
	sqlrepo "github.com/docmint/docmint/pkg/docgen/repository/sql"
	"github.com/docmint/docmint/pkg/docgen/service"
	"github.com/docmint/docmint/pkg/docgen/storage"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

// provideStores selects the metadata store implementation: the in-memory
// repository when no database driver is configured, otherwise the gorm-backed
// one.
func provideStores(cfg *config.Config) (repository.BatchStore, repository.OutcomeStore, repository.JobStore, error) {
	dbCfg := cfg.Docmint.Database
	if dbCfg.Driver == "" {
		logger.Infof("docmintd: using in-memory metadata stores")
		repo := inmemory.NewRepository()
		return repo, repo, repo, nil
	}
	db, err := sqlrepo.Open(dbCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Infof("docmintd: using %s metadata store", dbCfg.Driver)
	repo := sqlrepo.NewRepository(db)
	return repo, repo, repo, nil
}

func main() {
	app := fx.New(
		fx.Supply(config.EmbeddedConfig(embeddedConfig)),
		config.Module,
		fx.Provide(provideStores),
		fx.Provide(fx.Annotate(
			metrics.NewPrometheusRecorder,
			fx.As(new(metrics.Recorder)),
		)),
		metrics.TracingModule,
		storage.Module,
		progress.Module,
		render.Module,
		notification.Module,
		export.Module,
		orchestrator.Module,
		queue.Module,
		service.Module,
		fx.Invoke(func(*service.Service) {
			logger.Infof("docmintd: pipeline ready")
		}),
	)
	app.Run()
}
