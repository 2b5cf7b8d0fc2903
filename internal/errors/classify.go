package errors

import "strings"

// 已知的提供方错误短语
// Etherscan的错误语义只能靠消息文本区分，措辞变化时这里的测试会先失败
const (
	phraseAPIKey          = "api key"
	phraseInvalidAPIKey   = "invalid api key"
	phraseRateLimit       = "rate limit"
	phraseWindowTooLarge  = "window is too large"
	phraseResultWindow    = "result window"
	phraseNoTransactions  = "no transactions found"
	phraseInvalidAddress  = "invalid address"
	phraseInvalidContract = "invalid contract"
	phraseNotOK           = "NOTOK"
)

// ClassifyProviderError 将提供方的原始status/message/result映射为语义错误
// contractAddress用于识别"结果串中回显了合约地址"这类无效合约错误
func ClassifyProviderError(message, result, contractAddress string) *MetricsError {
	lowerMsg := strings.ToLower(message)
	lowerResult := strings.ToLower(result)

	switch {
	case strings.Contains(lowerMsg, phraseNoTransactions) || strings.Contains(lowerResult, phraseNoTransactions):
		return clone(ErrNoTransactions, result)

	case strings.Contains(lowerResult, phraseRateLimit) || strings.Contains(lowerMsg, phraseRateLimit):
		return clone(ErrRateLimitExceeded, result)

	case strings.Contains(lowerResult, phraseWindowTooLarge) ||
		(strings.Contains(lowerResult, phraseResultWindow) && strings.Contains(lowerResult, "too large")):
		return clone(ErrPaginationLimit, result)

	case strings.Contains(lowerResult, phraseInvalidAPIKey),
		message == phraseNotOK && strings.Contains(lowerResult, phraseAPIKey):
		return clone(ErrInvalidAPIKey, result)

	case strings.Contains(lowerResult, phraseInvalidAddress),
		strings.Contains(lowerResult, phraseInvalidContract),
		contractAddress != "" && strings.Contains(lowerResult, strings.ToLower(contractAddress)):
		return clone(ErrInvalidContract, result)

	default:
		e := NewMetricsError(ErrorTypeProvider, SeverityHigh, "PROVIDER_ERROR", "区块浏览器API返回错误: "+message)
		return e.WithDetail(result)
	}
}

// clone 复制预定义错误并附加原始详情，避免污染共享的预定义实例
func clone(base *MetricsError, detail string) *MetricsError {
	e := NewMetricsError(base.Type, base.Severity, base.Code, base.Message)
	return e.WithDetail(detail)
}
