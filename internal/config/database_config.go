package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
// 多实例部署时集中在Postgres里维护API密钥与抓取参数
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置
// 数据库中缺失的键保持默认值
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	if err := dc.loadKeyValues("etherscan_config", func(key, value string) {
		switch key {
		case "api_key":
			config.Etherscan.APIKey = value
		case "api_url":
			config.Etherscan.APIURL = value
		case "page_size":
			if v, err := strconv.Atoi(value); err == nil {
				config.Etherscan.PageSize = v
			}
		case "page_delay":
			config.Etherscan.PageDelay = value
		case "request_timeout":
			config.Etherscan.RequestTimeout = value
		}
	}); err != nil {
		return nil, fmt.Errorf("加载etherscan配置失败: %w", err)
	}

	if err := dc.loadKeyValues("report_config", func(key, value string) {
		switch key {
		case "max_pages":
			if v, err := strconv.Atoi(value); err == nil {
				config.Report.MaxPages = v
			}
		case "sort_order":
			config.Report.SortOrder = value
		case "lookback_blocks":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				config.Report.LookbackBlocks = v
			}
		case "baseline_max_pages":
			if v, err := strconv.Atoi(value); err == nil {
				config.Report.BaselineMaxPages = v
			}
		case "timeout":
			config.Report.Timeout = value
		}
	}); err != nil {
		return nil, fmt.Errorf("加载report配置失败: %w", err)
	}

	if err := dc.loadKeyValues("output_config", func(key, value string) {
		switch key {
		case "format":
			config.Output.Format = value
		case "directory":
			config.Output.Directory = value
		case "kafka_brokers":
			var brokers []string
			if err := json.Unmarshal([]byte(value), &brokers); err == nil {
				config.Output.Kafka.Brokers = brokers
			}
		case "kafka_topic":
			config.Output.Kafka.Topic = value
		case "store_path":
			config.Store.Path = value
		}
	}); err != nil {
		return nil, fmt.Errorf("加载output配置失败: %w", err)
	}

	return config, nil
}

// loadKeyValues 读取单个配置表中的键值对
func (dc *DatabaseConfig) loadKeyValues(tableName string, apply func(key, value string)) error {
	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s WHERE is_active = true`, tableName)
	rows, err := dc.DB.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		apply(key, strings.TrimSpace(value))
	}

	return rows.Err()
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(configType, key, value string) error {
	tableName, err := configTable(configType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (config_key, config_value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, updated_at = CURRENT_TIMESTAMP
	`, tableName)

	_, err = dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(configType, key string) (string, error) {
	tableName, err := configTable(configType)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`SELECT config_value FROM %s WHERE config_key = $1 AND is_active = true`, tableName)
	var value string
	err = dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// ListConfigs 列出某类型下全部生效的配置项
func (dc *DatabaseConfig) ListConfigs(configType string) (map[string]string, error) {
	tableName, err := configTable(configType)
	if err != nil {
		return nil, err
	}

	configs := make(map[string]string)
	if err := dc.loadKeyValues(tableName, func(key, value string) {
		configs[key] = value
	}); err != nil {
		return nil, err
	}
	return configs, nil
}

// configTable 配置类型到表名的映射
func configTable(configType string) (string, error) {
	switch configType {
	case "etherscan":
		return "etherscan_config", nil
	case "report":
		return "report_config", nil
	case "output":
		return "output_config", nil
	default:
		return "", fmt.Errorf("不支持的配置类型: %s", configType)
	}
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
