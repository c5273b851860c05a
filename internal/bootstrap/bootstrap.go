package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gradebridge/internal/artifact"
	"gradebridge/internal/classify"
	"gradebridge/internal/config"
	"gradebridge/internal/exporter"
	"gradebridge/internal/fanout"
	"gradebridge/internal/importer"
	"gradebridge/internal/notify"
	"gradebridge/internal/statusfile"
	"gradebridge/internal/store"
	"gradebridge/internal/submission"
)

// App 按配置装配好的全部协作者
type App struct {
	DataDir     string
	Store       *store.Store
	Artifacts   artifact.Store
	Submissions *submission.Service
	Codec       *statusfile.TableCodec
	Exporter    *exporter.Exporter
	Importer    *importer.Coordinator
	Outbox      *notify.Outbox // 未配置发件箱时为 nil

	closers []io.Closer
}

// Build 依次创建存储、制品后端、通知与导入/导出流水线
//
// dataDir 为已存在的数据目录，配置中的相对路径以它为基准。
func Build(ctx context.Context, cfg *config.AppConfig, dataDir string) (app *App, err error) {
	app = &App{DataDir: dataDir}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	app.Store, err = store.New(config.Resolve(dataDir, cfg.Data.DBFile))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.closers = append(app.closers, app.Store)

	artCfg := cfg.Artifact
	artCfg.LocalDir = config.Resolve(dataDir, artCfg.LocalDir)
	app.Artifacts, err = artifact.Open(ctx, artCfg)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	if c, ok := app.Artifacts.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	var notifier fanout.Notifier = notify.LogNotifier{}
	if cfg.Notify.OutboxFile != "" {
		app.Outbox, err = notify.OpenOutbox(config.Resolve(dataDir, cfg.Notify.OutboxFile))
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, app.Outbox)
		notifier = app.Outbox
	}

	app.Submissions, err = submission.NewService(app.Store, app.Artifacts, 0)
	if err != nil {
		return nil, err
	}
	app.Codec = statusfile.NewCodec(app.Store)

	app.Exporter = exporter.NewExporter(exporter.Deps{
		Participants: app.Store,
		Submissions:  app.Submissions,
		Codec:        app.Codec,
		Logs:         app.Store,
	})

	tempDir := cfg.Import.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(dataDir, "tmp")
	}
	tempDir = config.Resolve(dataDir, tempDir)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create import temp dir: %w", err)
	}
	app.Importer = importer.NewCoordinator(importer.Deps{
		Participants: app.Store,
		Submissions:  app.Submissions,
		Status:       app.Store,
		Codec:        app.Codec,
		Resolver:     fanout.NewResolver(app.Submissions, app.Store, notifier),
		Uploads:      app.Artifacts,
		Logs:         app.Store,
	}, importer.Config{
		TempDir:    tempDir,
		MaxBytes:   cfg.Import.MaxBytes,
		MaxEntries: cfg.Import.MaxEntries,
		Policy:     classify.ParsePolicy(cfg.Import.Policy),
	})

	log.Printf("[bootstrap] data=%s artifact=%s outbox=%v policy=%s",
		dataDir, artCfg.Backend, app.Outbox != nil, cfg.Import.Policy)
	return app, nil
}

// Close 按创建的逆序关闭资源
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
