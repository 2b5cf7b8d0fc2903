package errors

import (
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeConnection
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 数据提供方相关错误
	ErrorTypeProvider
	ErrorTypeInvalidAPIKey
	ErrorTypeInvalidContract
	ErrorTypePaginationLimit
	ErrorTypeNoTransactions

	// 数据相关错误
	ErrorTypeData
	ErrorTypeSerialization
	ErrorTypeValidation

	// 系统相关错误
	ErrorTypeSystem
	ErrorTypeStore
	ErrorTypeConfig
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// MetricsError 自定义错误类型
type MetricsError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Detail    string                 `json:"detail,omitempty"` // 提供方返回的原始错误串，用于诊断
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
}

// Error 实现error接口
func (e *MetricsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *MetricsError) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断是否可重试
func (e *MetricsError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *MetricsError) WithContext(key string, value interface{}) *MetricsError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetail 附加提供方原始错误串
func (e *MetricsError) WithDetail(detail string) *MetricsError {
	e.Detail = detail
	return e
}

// NewMetricsError 创建新的错误
func NewMetricsError(errorType ErrorType, severity ErrorSeverity, code, message string) *MetricsError {
	return &MetricsError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *MetricsError {
	return &MetricsError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// 预定义错误
var (
	ErrNetworkTimeout = NewMetricsError(
		ErrorTypeTimeout,
		SeverityMedium,
		"NETWORK_TIMEOUT",
		"网络请求超时",
	)

	ErrConnectionFailed = NewMetricsError(
		ErrorTypeConnection,
		SeverityHigh,
		"CONNECTION_FAILED",
		"连接区块浏览器API失败",
	)

	ErrRateLimitExceeded = NewMetricsError(
		ErrorTypeRateLimit,
		SeverityMedium,
		"RATE_LIMIT_EXCEEDED",
		"请求频率超限",
	)

	ErrInvalidAPIKey = NewMetricsError(
		ErrorTypeInvalidAPIKey,
		SeverityCritical,
		"INVALID_API_KEY",
		"API密钥无效",
	)

	ErrInvalidContract = NewMetricsError(
		ErrorTypeInvalidContract,
		SeverityHigh,
		"INVALID_CONTRACT",
		"合约地址无效或不存在",
	)

	ErrPaginationLimit = NewMetricsError(
		ErrorTypePaginationLimit,
		SeverityLow,
		"PAGINATION_LIMIT",
		"超出提供方的分页结果窗口上限",
	)

	ErrNoTransactions = NewMetricsError(
		ErrorTypeNoTransactions,
		SeverityLow,
		"NO_TRANSACTIONS",
		"未找到任何交易",
	)

	ErrDataValidation = NewMetricsError(
		ErrorTypeValidation,
		SeverityMedium,
		"DATA_VALIDATION_FAILED",
		"数据验证失败",
	)

	ErrStoreFailed = NewMetricsError(
		ErrorTypeStore,
		SeverityHigh,
		"STORE_FAILED",
		"报告存储失败",
	)

	ErrConfigInvalid = NewMetricsError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:         "Network",
	ErrorTypeConnection:      "Connection",
	ErrorTypeTimeout:         "Timeout",
	ErrorTypeRateLimit:       "RateLimit",
	ErrorTypeProvider:        "Provider",
	ErrorTypeInvalidAPIKey:   "InvalidAPIKey",
	ErrorTypeInvalidContract: "InvalidContract",
	ErrorTypePaginationLimit: "PaginationLimit",
	ErrorTypeNoTransactions:  "NoTransactions",
	ErrorTypeData:            "Data",
	ErrorTypeSerialization:   "Serialization",
	ErrorTypeValidation:      "Validation",
	ErrorTypeSystem:          "System",
	ErrorTypeStore:           "Store",
	ErrorTypeConfig:          "Config",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors      int                   `json:"total_errors"`
	ErrorsByType     map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity map[ErrorSeverity]int `json:"errors_by_severity"`
	RecentErrors     []*MetricsError       `json:"recent_errors"`
	LastError        *MetricsError         `json:"last_error"`
	LastErrorTime    time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:     make(map[ErrorType]int),
		ErrorsBySeverity: make(map[ErrorSeverity]int),
		RecentErrors:     make([]*MetricsError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *MetricsError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}
