package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config)
	assert.NotNil(t, config.Etherscan)
	assert.NotNil(t, config.Report)
	assert.NotNil(t, config.Store)
	assert.NotNil(t, config.Output)
	assert.NotNil(t, config.Logging)

	// 测试区块浏览器配置
	assert.Equal(t, "https://api.etherscan.io/api", config.Etherscan.APIURL)
	assert.Equal(t, "", config.Etherscan.APIKey) // 应该从环境变量获取，现在为空
	assert.Equal(t, 1000, config.Etherscan.PageSize)
	assert.Equal(t, "200ms", config.Etherscan.PageDelay)

	// 测试报告配置
	assert.Equal(t, 10, config.Report.MaxPages)
	assert.Equal(t, "desc", config.Report.SortOrder)
	assert.Equal(t, uint64(5000000), config.Report.LookbackBlocks)
	assert.Equal(t, 3, config.Report.BaselineMaxPages)
	assert.Equal(t, "5m", config.Report.Timeout)

	// 测试输出配置
	assert.Equal(t, "none", config.Output.Format)
	assert.Equal(t, []string{"localhost:9092"}, config.Output.Kafka.Brokers)
	assert.Equal(t, "token_campaign_reports", config.Output.Kafka.Topic)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `
etherscan:
  api_key: "testkey"
  api_url: "https://api-sepolia.etherscan.io/api"
  page_size: 500
report:
  max_pages: 5
  sort_order: "asc"
  lookback_blocks: 1000000
`
	assert.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	config, err := LoadConfigFromFile(configPath)

	assert.NoError(t, err)
	assert.Equal(t, "testkey", config.Etherscan.APIKey)
	assert.Equal(t, "https://api-sepolia.etherscan.io/api", config.Etherscan.APIURL)
	assert.Equal(t, 500, config.Etherscan.PageSize)
	assert.Equal(t, 5, config.Report.MaxPages)
	assert.Equal(t, "asc", config.Report.SortOrder)
	assert.Equal(t, uint64(1000000), config.Report.LookbackBlocks)
	// 文件未覆盖的字段保持默认值
	assert.Equal(t, 3, config.Report.BaselineMaxPages)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	// 配置文件不存在时回退到默认配置
	config, err := LoadConfigFromFile("/nonexistent/config.yaml")

	assert.NoError(t, err)
	assert.NotNil(t, config)
	assert.Equal(t, "https://api.etherscan.io/api", config.Etherscan.APIURL)
}

func TestApplyEnvOverrides(t *testing.T) {
	originalKey := os.Getenv("ETHERSCAN_API_KEY")
	defer os.Setenv("ETHERSCAN_API_KEY", originalKey)

	os.Setenv("ETHERSCAN_API_KEY", "envkey")

	config := GetDefaultConfig()
	config.Etherscan.APIKey = "filekey"
	applyEnvOverrides(config)

	assert.Equal(t, "envkey", config.Etherscan.APIKey)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	assert.NoError(t, config.Validate())

	config.Etherscan.PageSize = 2000
	assert.Error(t, config.Validate())

	config = GetDefaultConfig()
	config.Etherscan.APIURL = ""
	assert.Error(t, config.Validate())

	config = GetDefaultConfig()
	config.Report.MaxPages = -1
	assert.Error(t, config.Validate())
}
