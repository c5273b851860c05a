package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gradebridge/internal/bootstrap"
	"gradebridge/internal/config"
	"gradebridge/internal/server"
)

// overrides 命令行覆盖项；零值表示沿用配置文件
type overrides struct {
	port    int
	devMode bool
	dataDir string
}

func parseFlags(args []string) (overrides, error) {
	var o overrides
	fs := flag.NewFlagSet("gradebridge", flag.ContinueOnError)
	fs.IntVar(&o.port, "port", 0, "服务端口，config.toml 中写了 port 时忽略")
	fs.BoolVar(&o.devMode, "dev", false, "开发模式")
	fs.StringVar(&o.dataDir, "dataDir", "", "数据目录，覆盖 [data] data_dir")
	return o, fs.Parse(args)
}

// apply 配置文件显式写了端口时以配置文件为准
func (o overrides) apply(cfg *config.AppConfig, info config.LoadConfigInfo) {
	if o.port > 0 && !info.PortSpecified {
		cfg.Server.Port = o.port
	}
	if o.devMode {
		cfg.Server.DevMode = true
	}
	if o.dataDir != "" {
		cfg.Data.DataDir = o.dataDir
	}
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, info, err := config.LoadConfigWithInfo()
	if err != nil {
		log.Printf("加载配置失败，使用默认配置: %v", err)
		cfg, info = config.DefaultConfig(), config.LoadConfigInfo{}
	}
	flags.apply(cfg, info)

	dir, err := config.EnsureDataDir(cfg)
	if err != nil {
		log.Fatalf("创建数据目录失败: %v", err)
	}

	app, err := bootstrap.Build(context.Background(), cfg, dir)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	log.Printf("gradebridge 启动: 端口 %d，数据目录 %s，存储后端 %s", cfg.Server.Port, dir, cfg.Artifact.Backend)
	if info.EnvFile != "" {
		log.Printf("已读取环境文件 %s", info.EnvFile)
	}

	srv := server.NewServer(cfg, app)
	go func() {
		if err := srv.Run(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Printf("收到 %v，正在关闭", sig)
	if err := app.Close(); err != nil {
		log.Printf("关闭资源失败: %v", err)
	}
}
