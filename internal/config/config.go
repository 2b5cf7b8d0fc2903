package config

import (
	"fmt"
	"os"

	"tokenmetrics/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 主配置
type Config struct {
	Etherscan *EtherscanConfig   `mapstructure:"etherscan"`
	Report    *ReportConfig      `mapstructure:"report"`
	Store     *StoreConfig       `mapstructure:"store"`
	Output    *OutputConfig      `mapstructure:"output"`
	Logging   *logging.LogConfig `mapstructure:"logging"`
}

// EtherscanConfig 区块浏览器API配置
type EtherscanConfig struct {
	APIKey         string `mapstructure:"api_key"`
	APIURL         string `mapstructure:"api_url"`
	PageSize       int    `mapstructure:"page_size"`       // 每页最多1000条
	PageDelay      string `mapstructure:"page_delay"`      // 连续分页之间的礼貌延迟
	RequestTimeout string `mapstructure:"request_timeout"` // 单次HTTP请求超时
}

// ReportConfig 报告生成配置
type ReportConfig struct {
	MaxPages         int    `mapstructure:"max_pages"`          // 每次抓取的分页上限，0表示不限
	SortOrder        string `mapstructure:"sort_order"`         // asc或desc
	LookbackBlocks   uint64 `mapstructure:"lookback_blocks"`    // 历史持有者回溯的区块窗口（近似值）
	BaselineMaxPages int    `mapstructure:"baseline_max_pages"` // 回溯抓取的分页上限
	Timeout          string `mapstructure:"timeout"`            // 单次报告生成的总超时
}

// StoreConfig 报告存储配置
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// OutputConfig 报告输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // none, file, kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string) (*Config, error) {
	// 首先尝试从环境变量获取数据库配置
	dbDSN := os.Getenv("TOKENMETRICS_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接配置数据库失败: %w", err)
		}
		defer dbConfig.Close()

		config, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}

		logger.Info("已从数据库加载配置")
		applyEnvOverrides(config)
		return config, nil
	}

	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	return config, nil
}

// LoadConfigFromFile 从文件加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// 配置文件不存在时使用默认配置，API密钥依赖环境变量
		return GetDefaultConfig(), nil
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return config, nil
}

// applyEnvOverrides 应用环境变量覆盖
// 与原始服务保持一致：ETHERSCAN_API_KEY / ETHERSCAN_API_URL优先于任何配置源
func applyEnvOverrides(config *Config) {
	if config.Etherscan == nil {
		config.Etherscan = GetDefaultConfig().Etherscan
	}
	if key := os.Getenv("ETHERSCAN_API_KEY"); key != "" {
		config.Etherscan.APIKey = key
	}
	if url := os.Getenv("ETHERSCAN_API_URL"); url != "" {
		config.Etherscan.APIURL = url
	}
}

// Validate 验证配置的关键字段
func (c *Config) Validate() error {
	if c.Etherscan == nil {
		return fmt.Errorf("缺少etherscan配置")
	}
	if c.Etherscan.APIURL == "" {
		return fmt.Errorf("etherscan.api_url不能为空")
	}
	if c.Etherscan.PageSize <= 0 || c.Etherscan.PageSize > 1000 {
		return fmt.Errorf("etherscan.page_size必须在1-1000之间，当前值: %d", c.Etherscan.PageSize)
	}
	if c.Report == nil {
		return fmt.Errorf("缺少report配置")
	}
	if c.Report.MaxPages < 0 {
		return fmt.Errorf("report.max_pages不能为负数")
	}
	return nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Etherscan: &EtherscanConfig{
			APIKey:         "", // 从环境变量或配置文件获取
			APIURL:         "https://api.etherscan.io/api",
			PageSize:       1000,
			PageDelay:      "200ms",
			RequestTimeout: "30s",
		},
		Report: &ReportConfig{
			MaxPages:         10,
			SortOrder:        "desc",
			LookbackBlocks:   5000000,
			BaselineMaxPages: 3,
			Timeout:          "5m",
		},
		Store: &StoreConfig{
			Path: "./data/reports.db",
		},
		Output: &OutputConfig{
			Format:    "none",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "token_campaign_reports",
			},
		},
		Logging: &logging.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			Rotation:   false,
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}
