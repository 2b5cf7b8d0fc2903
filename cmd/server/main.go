package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tokenmetrics/internal/api"
	"tokenmetrics/internal/config"
	"tokenmetrics/internal/etherscan"
	"tokenmetrics/internal/output"
	"tokenmetrics/internal/report"
	"tokenmetrics/internal/store"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 8080, "API 服务端口")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	// .env存在时优先加载
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// 自动检测并加载配置（环境变量存在DSN时走数据库）
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}

	client, err := etherscan.NewClient(cfg.Etherscan, logger)
	if err != nil {
		logger.Fatalf("创建API客户端失败: %v", err)
	}

	reportStore, err := store.NewStore(cfg.Store.Path, logger)
	if err != nil {
		logger.Fatalf("打开报告存储失败: %v", err)
	}
	defer reportStore.Close()

	sink, err := output.NewSink(cfg.Output, logger)
	if err != nil {
		logger.Fatalf("创建输出器失败: %v", err)
	}
	defer sink.Close()

	assembler := report.NewAssembler(client, cfg, logger)
	server := api.NewServer(assembler, reportStore, sink, cfg, logger, *port)

	// 配置了Postgres时挂载数据库配置管理接口
	if dsn := os.Getenv("TOKENMETRICS_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Warnf("连接配置数据库失败: %v", err)
		} else {
			defer dbConfig.Close()
			server.WithConfigManager(api.NewConfigManager(dbConfig, logger))
		}
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
		}
	}()

	logger.Infof("API服务器已启动，监听端口: %d", *port)

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Errorf("关闭服务器失败: %v", err)
	}

	logger.Info("服务器已关闭")
}
