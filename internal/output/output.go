package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tokenmetrics/internal/config"
	"tokenmetrics/pkg/models"
)

// 输出格式
const (
	FormatNone  = "none"
	FormatFile  = "file"
	FormatKafka = "kafka"
)

// Sink 报告输出接口
type Sink interface {
	WriteReport(report *models.CampaignReport) error
	Close() error
}

// NewSink 按配置创建输出器
func NewSink(cfg *config.OutputConfig, logger *logrus.Logger) (Sink, error) {
	if cfg == nil {
		return &NoopSink{}, nil
	}

	switch cfg.Format {
	case "", FormatNone:
		return &NoopSink{}, nil
	case FormatFile:
		return NewFileSink(cfg.Directory, logger)
	case FormatKafka:
		brokers := []string{"localhost:9092"}
		topic := "token_campaign_reports"
		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			if cfg.Kafka.Topic != "" {
				topic = cfg.Kafka.Topic
			}
		}
		if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
			brokers = strings.Split(kafkaBrokers, ",")
		}
		return NewKafkaSink(brokers, topic, logger)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// NoopSink 空输出器，报告只走API或存储时使用
type NoopSink struct{}

func (n *NoopSink) WriteReport(report *models.CampaignReport) error { return nil }
func (n *NoopSink) Close() error                                    { return nil }

// FileSink 文件输出器，每份报告写成独立的JSON文件
type FileSink struct {
	outputDir string
	logger    *logrus.Logger
}

// NewFileSink 创建文件输出器
func NewFileSink(outputDir string, logger *logrus.Logger) (*FileSink, error) {
	if outputDir == "" {
		outputDir = "./output"
	}

	// 确保输出目录存在
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	return &FileSink{
		outputDir: outputDir,
		logger:    logger,
	}, nil
}

// WriteReport 写入报告文件
func (f *FileSink) WriteReport(report *models.CampaignReport) error {
	if report == nil {
		return nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}

	contract := strings.ToLower(report.Campaign.Token.ContractAddress)
	filename := fmt.Sprintf("report_%s_%s.json", contract, time.Now().Format("20060102_150405"))
	path := filepath.Join(f.outputDir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	f.logger.Infof("报告已写入文件: %s", path)
	return nil
}

// Close 关闭文件输出器
func (f *FileSink) Close() error {
	return nil
}
