package etherscan

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sirupsen/logrus"

	"tokenmetrics/internal/config"
	metricserrors "tokenmetrics/internal/errors"
	"tokenmetrics/internal/retry"
	"tokenmetrics/pkg/models"
)

// 排序方向
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// FetchResult 一次区块范围抓取的结果
// Token是从第一个非空页顺带取到的代币信息，以返回值而非实例状态传递，
// 避免并发报告之间的跨合约串用
type FetchResult struct {
	Events    []*models.TransferEvent
	Pages     int
	Truncated bool // 提供方分页窗口上限导致的数据截断
	Token     *models.TokenInfo
}

// Fetcher 分页抓取器
type Fetcher struct {
	client    *Client
	retrier   *retry.Retrier
	pageSize  int
	pageDelay time.Duration
	logger    *logrus.Logger
}

// NewFetcher 创建抓取器
func NewFetcher(client *Client, cfg *config.EtherscanConfig, logger *logrus.Logger) *Fetcher {
	pageSize := 1000
	if cfg.PageSize > 0 && cfg.PageSize <= 1000 {
		pageSize = cfg.PageSize
	}

	pageDelay := 200 * time.Millisecond
	if cfg.PageDelay != "" {
		if parsed, err := time.ParseDuration(cfg.PageDelay); err == nil {
			pageDelay = parsed
		}
	}

	return &Fetcher{
		client:    client,
		retrier:   retry.NewRetrier(retry.RateLimitRetryConfig, logger),
		pageSize:  pageSize,
		pageDelay: pageDelay,
		logger:    logger,
	}
}

// NormalizeSort 非法排序值回退为desc
func NormalizeSort(sort string) string {
	if sort != SortAsc && sort != SortDesc {
		return SortDesc
	}
	return sort
}

// FetchRange 抓取区块范围内的全部代币转账事件
//
// 逐页推进，终止条件：
//   - 空页或短页：正常结束
//   - 提供方报"无交易"：返回空结果
//   - 提供方分页窗口上限：保留已取页数据并标记截断
//   - 限流：重试器等待后重抓同一页，页号不前进
//   - 其余错误：中止并上抛
//
// maxPages为0表示不限页数。各页事件按抓取顺序拼接，全局重排由调用方负责。
func (f *Fetcher) FetchRange(ctx context.Context, contract string, fromBlock, toBlock uint64, maxPages int, sort string) (*FetchResult, error) {
	sort = NormalizeSort(sort)
	result := &FetchResult{}

	for page := 1; maxPages == 0 || page <= maxPages; page++ {
		var events []*models.TransferEvent

		err := f.retrier.Execute(ctx, "抓取转账分页", func() error {
			pageEvents, err := f.client.TokenTransfersPage(ctx, contract, fromBlock, toBlock, page, f.pageSize, sort)
			if err != nil {
				return err
			}
			events = pageEvents
			return nil
		})

		if err != nil {
			var metricsErr *metricserrors.MetricsError
			if stderrors.As(err, &metricsErr) {
				switch metricsErr.Type {
				case metricserrors.ErrorTypeNoTransactions:
					// 空结果是合法的
					f.logger.Debugf("合约 %s 在区块 %d-%d 内没有任何交易", contract, fromBlock, toBlock)
					return result, nil
				case metricserrors.ErrorTypePaginationLimit:
					// 静默截断不可接受，必须在采集来源信息中暴露
					f.logger.Warnf("合约 %s 第 %d 页触发提供方分页窗口上限，保留已抓取的 %d 条", contract, page, len(result.Events))
					result.Truncated = true
					return result, nil
				}
			}
			return nil, err
		}

		if len(events) == 0 {
			break
		}

		result.Events = append(result.Events, events...)
		result.Pages = page

		// 从第一个非空页顺带捕获代币信息
		if result.Token == nil {
			first := events[0]
			if first.TokenSymbol != "" {
				result.Token = models.NewTokenInfo(first.TokenSymbol, first.TokenName, first.TokenDecimals)
			}
		}

		// 短页说明没有更多数据
		if len(events) < f.pageSize {
			break
		}

		// 满页意味着可能还有数据，礼貌延迟后继续
		if maxPages == 0 || page < maxPages {
			select {
			case <-time.After(f.pageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return result, nil
}
