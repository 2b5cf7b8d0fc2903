package validation

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"tokenmetrics/internal/errors"
	"tokenmetrics/pkg/models"
)

// Validator 请求验证器
type Validator struct {
	logger *logrus.Logger
}

// NewValidator 创建请求验证器
func NewValidator(logger *logrus.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidateContractAddress 验证合约地址格式
func (v *Validator) ValidateContractAddress(addr string) error {
	if addr == "" {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_CONTRACT_ADDRESS", "合约地址不能为空")
	}

	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_CONTRACT_ADDRESS", "合约地址必须是0x开头的42位十六进制字符串").WithContext("address", addr)
	}

	if !common.IsHexAddress(addr) {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_CONTRACT_ADDRESS", "合约地址格式无效").WithContext("address", addr)
	}

	return nil
}

// ValidatePeriod 验证时间窗口，要求结束时间严格晚于开始时间
func (v *Validator) ValidatePeriod(name string, period models.Period) error {
	if period.From.IsZero() || period.To.IsZero() {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"EMPTY_PERIOD", fmt.Sprintf("%s窗口的起止时间不能为空", name))
	}

	if !period.To.After(period.From) {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_PERIOD", fmt.Sprintf("%s窗口的结束时间必须晚于开始时间", name)).
			WithContext("from", period.From).
			WithContext("to", period.To)
	}

	return nil
}

// ValidatePeriods 验证前后两个时间窗口
func (v *Validator) ValidatePeriods(pre, during models.Period) error {
	if err := v.ValidatePeriod("前期", pre); err != nil {
		return err
	}
	if err := v.ValidatePeriod("活动期", during); err != nil {
		return err
	}

	// 两个窗口允许相邻但不允许颠倒
	if during.From.Before(pre.From) {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"PERIODS_OUT_OF_ORDER", "活动期窗口不能早于前期窗口")
	}

	if pre.To.After(during.From) {
		v.logger.Warnf("前期窗口与活动期窗口存在重叠: %v > %v", pre.To, during.From)
	}

	return nil
}

// ValidateMetric 验证指标名称
func (v *Validator) ValidateMetric(metric string) error {
	if !models.IsKnownMetric(metric) {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"UNKNOWN_METRIC", fmt.Sprintf("未知的指标名称: %s", metric)).WithContext("metric", metric)
	}
	return nil
}

// ValidateMaxPages 验证请求级分页上限，0表示使用配置的默认上限
func (v *Validator) ValidateMaxPages(maxPages int) error {
	if maxPages < 0 {
		return errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"INVALID_MAX_PAGES", "分页上限不能为负数")
	}
	return nil
}
