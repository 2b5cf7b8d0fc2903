package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tokenmetrics/internal/config"
	"tokenmetrics/internal/etherscan"
	"tokenmetrics/internal/output"
	"tokenmetrics/internal/report"
	"tokenmetrics/internal/store"
	"tokenmetrics/internal/validation"
	"tokenmetrics/pkg/models"
)

var (
	// 报告参数
	contract   string
	preFrom    string
	preTo      string
	duringFrom string
	duringTo   string
	metric     string

	// 抓取参数
	maxPages int

	// 高级参数
	configFile string
	verbose    bool
	save       bool
)

func main() {
	// .env存在时优先加载，便于本地调试时注入API密钥
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "report",
		Short: "ERC-20代币活动分析工具",
		Long:  `对比营销活动前后的链上转账数据，生成活跃钱包、转账量与新持有者的分析报告`,
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&contract, "contract", "", "ERC-20合约地址")
	rootCmd.Flags().StringVar(&preFrom, "pre-from", "", "前期窗口开始时间 (RFC3339)")
	rootCmd.Flags().StringVar(&preTo, "pre-to", "", "前期窗口结束时间 (RFC3339)")
	rootCmd.Flags().StringVar(&duringFrom, "during-from", "", "活动期窗口开始时间 (RFC3339)")
	rootCmd.Flags().StringVar(&duringTo, "during-to", "", "活动期窗口结束时间 (RFC3339)")
	rootCmd.Flags().StringVar(&metric, "metric", "", "只输出单个指标 (activeWallets/transactionVolume/newTokenHolders)")
	rootCmd.Flags().IntVar(&maxPages, "max-pages", 0, "每次抓取的分页上限，0表示使用配置值")
	rootCmd.Flags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.Flags().BoolVar(&save, "save", false, "保存报告到本地存储")

	// 原始交易查询子命令
	txCmd := &cobra.Command{
		Use:   "transactions",
		Short: "抓取指定时间窗口的原始转账数据",
		RunE:  runTransactions,
	}
	txCmd.Flags().StringVar(&contract, "contract", "", "ERC-20合约地址")
	txCmd.Flags().StringVar(&preFrom, "from", "", "窗口开始时间 (RFC3339)")
	txCmd.Flags().StringVar(&preTo, "to", "", "窗口结束时间 (RFC3339)")
	txCmd.Flags().IntVar(&maxPages, "max-pages", 0, "分页上限，0表示使用配置值")
	txCmd.Flags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	txCmd.Flags().BoolVar(&verbose, "verbose", false, "详细输出")

	rootCmd.AddCommand(txCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// newLogger 创建命令行日志器
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	// 日志走stderr，stdout只输出报告JSON
	logger.SetOutput(os.Stderr)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// setup 加载配置并构建装配器
func setup(logger *logrus.Logger) (*config.Config, *report.Assembler, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	client, err := etherscan.NewClient(cfg.Etherscan, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("创建API客户端失败: %w", err)
	}

	return cfg, report.NewAssembler(client, cfg, logger), nil
}

// parsePeriod 解析一对RFC3339时间参数
func parsePeriod(name, fromStr, toStr string) (models.Period, error) {
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return models.Period{}, fmt.Errorf("%s开始时间格式错误: %w", name, err)
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return models.Period{}, fmt.Errorf("%s结束时间格式错误: %w", name, err)
	}
	return models.Period{From: from, To: to}, nil
}

func run(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, assembler, err := setup(logger)
	if err != nil {
		return err
	}

	pre, err := parsePeriod("前期窗口", preFrom, preTo)
	if err != nil {
		return err
	}
	during, err := parsePeriod("活动期窗口", duringFrom, duringTo)
	if err != nil {
		return err
	}

	validator := validation.NewValidator(logger)
	if err := validator.ValidateContractAddress(contract); err != nil {
		return err
	}
	if err := validator.ValidatePeriods(pre, during); err != nil {
		return err
	}
	if metric != "" {
		if err := validator.ValidateMetric(metric); err != nil {
			return err
		}
	}
	if err := validator.ValidateMaxPages(maxPages); err != nil {
		return err
	}

	req := &report.Request{
		ContractAddress: contract,
		PreCampaign:     pre,
		DuringCampaign:  during,
		MaxPages:        maxPages,
	}

	generated, err := assembler.Generate(context.Background(), req)
	if err != nil {
		return fmt.Errorf("生成报告失败: %w", err)
	}

	if save {
		reportStore, err := store.NewStore(cfg.Store.Path, logger)
		if err != nil {
			logger.Warnf("打开报告存储失败: %v", err)
		} else {
			defer reportStore.Close()
			if err := reportStore.Save(generated); err != nil {
				logger.Warnf("保存报告失败: %v", err)
			}
		}
	}

	// 配置了外部输出时顺带推送
	sink, err := output.NewSink(cfg.Output, logger)
	if err != nil {
		logger.Warnf("创建输出器失败: %v", err)
	} else {
		defer sink.Close()
		if err := sink.WriteReport(generated); err != nil {
			logger.Warnf("输出报告失败: %v", err)
		}
	}

	result := generated
	if metric != "" {
		result = report.FilterMetric(generated, metric)
	}

	return printJSON(result)
}

func runTransactions(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	_, assembler, err := setup(logger)
	if err != nil {
		return err
	}

	period, err := parsePeriod("查询窗口", preFrom, preTo)
	if err != nil {
		return err
	}

	validator := validation.NewValidator(logger)
	if err := validator.ValidateContractAddress(contract); err != nil {
		return err
	}
	if err := validator.ValidatePeriod("查询", period); err != nil {
		return err
	}

	raw, err := assembler.FetchRawTransactions(context.Background(), contract, period, maxPages)
	if err != nil {
		return fmt.Errorf("抓取交易数据失败: %w", err)
	}

	logger.Infof("共抓取 %d 条转账记录，%d 页", len(raw.Transactions), raw.Pages)
	if raw.Truncated {
		logger.Warn("数据被提供方分页窗口上限截断，结果不完整")
	}

	return printJSON(raw)
}

// printJSON 输出格式化的JSON到stdout
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
