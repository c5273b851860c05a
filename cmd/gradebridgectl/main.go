// Command gradebridgectl 在命令行下导出、导入与校验反馈压缩包
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gradebridge/internal/bootstrap"
	"gradebridge/internal/config"
)

type globalFlags struct {
	configDir string
	dataDir   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "gradebridgectl",
		Short:         "Export, import and verify graded-feedback archives",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.configDir, "config-dir", "", "directory holding config.toml and .env (default: next to the executable)")
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "data directory (overrides config)")

	root.AddCommand(newExportCmd(g), newImportCmd(g), newVerifyCmd())
	return root
}

// openApp 加载配置并装配流水线
func (g *globalFlags) openApp(ctx context.Context) (*bootstrap.App, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if g.configDir != "" {
		cfg, _, err = config.LoadFrom(g.configDir)
	} else {
		cfg, _, err = config.LoadConfigWithInfo()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.dataDir != "" {
		cfg.Data.DataDir = g.dataDir
	}
	dir, err := config.EnsureDataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}
	return bootstrap.Build(ctx, cfg, dir)
}
