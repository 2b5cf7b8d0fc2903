package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"tokenmetrics/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/reports.db"

	// 存储桶名称
	ReportsBucket = "reports"
)

// Store 报告持久化存储
//
// 键为(合约地址, 前期窗口, 活动期窗口)，同键重新生成的报告直接覆盖旧值，
// 报告可再生，不保留历史版本
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
}

// NewStore 创建报告存储
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开报告数据库失败: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
	}

	if err := store.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("报告存储已初始化，数据库路径: %s", dbPath)
	return store, nil
}

// initDB 初始化数据库结构
func (s *Store) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ReportsBucket)); err != nil {
			return fmt.Errorf("创建报告存储桶失败: %w", err)
		}
		return nil
	})
}

// reportKey 报告键，合约地址统一小写以保证键比较不受大小写影响
func reportKey(contract string, periods models.CampaignPeriods) []byte {
	return []byte(strings.Join([]string{
		strings.ToLower(contract),
		periods.PreCampaign.From.UTC().Format(time.RFC3339),
		periods.PreCampaign.To.UTC().Format(time.RFC3339),
		periods.DuringCampaign.From.UTC().Format(time.RFC3339),
		periods.DuringCampaign.To.UTC().Format(time.RFC3339),
	}, "|"))
}

// contractPrefix 按合约地址扫描的键前缀
func contractPrefix(contract string) []byte {
	return []byte(strings.ToLower(contract) + "|")
}

// Save 保存报告，同键覆盖
func (s *Store) Save(report *models.CampaignReport) error {
	key := reportKey(report.Campaign.Token.ContractAddress, report.Campaign.Period)

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ReportsBucket))
		if bucket == nil {
			return fmt.Errorf("报告存储桶不存在")
		}
		return bucket.Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("保存报告失败: %w", err)
	}

	s.logger.Debugf("报告已保存: %s", key)
	return nil
}

// Get 按合约地址和时间窗口精确查询报告，未找到时返回nil
func (s *Store) Get(contract string, periods models.CampaignPeriods) (*models.CampaignReport, error) {
	var report *models.CampaignReport

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ReportsBucket))
		if bucket == nil {
			return nil
		}

		data := bucket.Get(reportKey(contract, periods))
		if data == nil {
			return nil
		}

		report = &models.CampaignReport{}
		return json.Unmarshal(data, report)
	})
	if err != nil {
		return nil, fmt.Errorf("读取报告失败: %w", err)
	}

	return report, nil
}

// List 列出某合约的全部报告
func (s *Store) List(contract string) ([]*models.CampaignReport, error) {
	var reports []*models.CampaignReport

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ReportsBucket))
		if bucket == nil {
			return nil
		}

		prefix := contractPrefix(contract)
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			report := &models.CampaignReport{}
			if err := json.Unmarshal(v, report); err != nil {
				s.logger.Warnf("跳过无法解析的报告记录 %s: %v", k, err)
				continue
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("列出报告失败: %w", err)
	}

	return reports, nil
}

// GetLatest 获取某合约最近更新的报告，不存在时返回nil
func (s *Store) GetLatest(contract string) (*models.CampaignReport, error) {
	reports, err := s.List(contract)
	if err != nil {
		return nil, err
	}

	var latest *models.CampaignReport
	for _, report := range reports {
		if latest == nil || report.LastUpdated.After(latest.LastUpdated) {
			latest = report
		}
	}
	return latest, nil
}

// Count 报告总数
func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ReportsBucket))
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// GetDBPath 获取数据库路径
func (s *Store) GetDBPath() string {
	return s.dbPath
}

// Close 关闭报告存储
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭报告存储")
		return s.db.Close()
	}
	return nil
}
