package report

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tokenmetrics/internal/config"
	"tokenmetrics/internal/errors"
	"tokenmetrics/internal/etherscan"
	"tokenmetrics/internal/logging"
	"tokenmetrics/internal/metrics"
	"tokenmetrics/internal/token"
	"tokenmetrics/pkg/models"
)

// Request 报告生成请求
// MaxPages是本次请求的分页上限，0时使用配置的默认上限
type Request struct {
	ContractAddress string        `json:"contractAddress"`
	PreCampaign     models.Period `json:"preCampaign"`
	DuringCampaign  models.Period `json:"duringCampaign"`
	MaxPages        int           `json:"maxPages,omitempty"`
}

// RawTransactions 原始转账数据，用于诊断接口
type RawTransactions struct {
	ContractAddress string                  `json:"contractAddress"`
	Period          models.Period           `json:"period"`
	Blocks          models.BlockRange       `json:"blocks"`
	Transactions    []*models.TransferEvent `json:"transactions"`
	Pages           int                     `json:"pages"`
	Truncated       bool                    `json:"truncated"`
}

// Assembler 报告装配器
//
// 每次Generate都是一轮完整的流水线：区块解析、三路并行抓取、
// 代币信息解析、指标聚合、报告装配。实例可复用，内部不保留请求状态。
type Assembler struct {
	blocks  *etherscan.BlockResolver
	fetcher *etherscan.Fetcher
	tokens  *token.Resolver
	cfg     *config.ReportConfig
	timeout time.Duration
	logger  *logrus.Logger
	audit   *logging.StructuredLogger
}

// NewAssembler 创建报告装配器
func NewAssembler(client *etherscan.Client, cfg *config.Config, logger *logrus.Logger) *Assembler {
	timeout := 5 * time.Minute
	if cfg.Report.Timeout != "" {
		if parsed, err := time.ParseDuration(cfg.Report.Timeout); err == nil {
			timeout = parsed
		}
	}

	// 结构化审计日志独立于人类可读的运行日志，供日志采集系统消费
	audit, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		logger.Warnf("创建结构化日志器失败，使用默认配置: %v", err)
		audit, _ = logging.NewStructuredLogger(nil)
	}

	return &Assembler{
		blocks:  etherscan.NewBlockResolver(client, logger),
		fetcher: etherscan.NewFetcher(client, cfg.Etherscan, logger),
		tokens:  token.NewResolver(client, logger),
		cfg:     cfg.Report,
		timeout: timeout,
		logger:  logger,
		audit:   audit,
	}
}

// Generate 生成完整的活动对比分析报告
func (a *Assembler) Generate(ctx context.Context, req *Request) (*models.CampaignReport, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	a.logger.Infof("开始生成合约 %s 的活动报告", req.ContractAddress)

	// 上一轮报告留下的缓存属于别的合约时会造成跨合约串用，每轮前清空
	a.tokens.Reset()

	// 请求级分页上限对前期和活动期两路抓取同等生效
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = a.cfg.MaxPages
	}

	blocks, err := a.resolveBlocks(ctx, req)
	if err != nil {
		return nil, err
	}

	preResult, duringResult, baseline, err := a.fetchAll(ctx, req.ContractAddress, blocks, maxPages)
	if err != nil {
		return nil, err
	}

	tokenInfo := a.resolveToken(ctx, req.ContractAddress, preResult, duringResult)

	aggregator := metrics.NewAggregator(tokenInfo.Divisor, a.logger)
	span := models.Period{From: req.PreCampaign.From, To: req.DuringCampaign.To}
	result := aggregator.Compute(preResult.Events, duringResult.Events, baseline, span)

	report := &models.CampaignReport{
		Campaign: models.CampaignInfo{
			Token: models.TokenIdentity{
				Name:            tokenInfo.Name,
				Symbol:          tokenInfo.Symbol,
				ContractAddress: req.ContractAddress,
			},
			Period: models.CampaignPeriods{
				PreCampaign:    req.PreCampaign,
				DuringCampaign: req.DuringCampaign,
			},
			Blocks: blocks,
		},
		Summary:   result.Summary,
		DailyData: result.Daily,
		DataCollection: models.DataCollection{
			MaxPages: maxPages,
			TransactionsAnalyzed: models.TransactionsAnalyzed{
				PreCampaign:    len(preResult.Events),
				DuringCampaign: len(duringResult.Events),
				Total:          len(preResult.Events) + len(duringResult.Events),
			},
			PreTruncated:    preResult.Truncated,
			DuringTruncated: duringResult.Truncated,
		},
		LastUpdated: time.Now().UTC(),
	}

	a.logger.Infof("合约 %s 报告生成完成，共分析 %d 条交易，耗时 %v",
		req.ContractAddress, report.DataCollection.TransactionsAnalyzed.Total, time.Since(start))

	logging.NewReportLogger(a.audit, req.ContractAddress).Info("报告生成完成",
		"token_symbol", tokenInfo.Symbol,
		"transactions_total", report.DataCollection.TransactionsAnalyzed.Total,
		"pre_truncated", preResult.Truncated,
		"during_truncated", duringResult.Truncated,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}

// GenerateMetric 生成单指标报告，metric取值见models中的指标名称常量
func (a *Assembler) GenerateMetric(ctx context.Context, req *Request, metric string) (*models.CampaignReport, error) {
	if !models.IsKnownMetric(metric) {
		return nil, errors.NewMetricsError(errors.ErrorTypeValidation, errors.SeverityMedium,
			"UNKNOWN_METRIC", fmt.Sprintf("未知的指标名称: %s", metric))
	}

	report, err := a.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return FilterMetric(report, metric), nil
}

// FetchRawTransactions 抓取指定时间窗口的原始转账数据
// maxPages为0时使用配置的分页上限
func (a *Assembler) FetchRawTransactions(ctx context.Context, contract string, period models.Period, maxPages int) (*RawTransactions, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if maxPages <= 0 {
		maxPages = a.cfg.MaxPages
	}

	fromBlock := a.blocks.Resolve(ctx, period.From)
	toBlock := a.blocks.Resolve(ctx, period.To)

	result, err := a.fetcher.FetchRange(ctx, contract, fromBlock, toBlock, maxPages, a.cfg.SortOrder)
	if err != nil {
		return nil, err
	}

	logging.NewFetchLogger(a.audit, contract, fromBlock, toBlock).Info("原始交易抓取完成",
		"transactions", len(result.Events),
		"pages", result.Pages,
		"truncated", result.Truncated,
	)

	return &RawTransactions{
		ContractAddress: contract,
		Period:          period,
		Blocks:          models.BlockRange{FromBlock: fromBlock, ToBlock: toBlock},
		Transactions:    result.Events,
		Pages:           result.Pages,
		Truncated:       result.Truncated,
	}, nil
}

// resolveBlocks 解析两个窗口的四个区块边界
// 解析失败的边界为0，报告照常生成，区块范围中的0即表示未解析
func (a *Assembler) resolveBlocks(ctx context.Context, req *Request) (models.CampaignBlocks, error) {
	blocks := models.CampaignBlocks{
		PreCampaign: models.BlockRange{
			FromBlock: a.blocks.Resolve(ctx, req.PreCampaign.From),
			ToBlock:   a.blocks.Resolve(ctx, req.PreCampaign.To),
		},
		DuringCampaign: models.BlockRange{
			FromBlock: a.blocks.Resolve(ctx, req.DuringCampaign.From),
			ToBlock:   a.blocks.Resolve(ctx, req.DuringCampaign.To),
		},
	}

	if err := ctx.Err(); err != nil {
		return blocks, errors.WrapError(err, errors.ErrorTypeTimeout, errors.SeverityHigh,
			"BLOCK_RESOLVE_TIMEOUT", "区块解析超时")
	}
	return blocks, nil
}

// fetchAll 并行抓取前期、活动期与基线回溯三路数据
//
// 前期与活动期抓取失败会中止整个报告；基线回溯失败只降级为空基线，
// 此时所有持有者都会被视为新持有者，计数偏高但报告仍然可用。
func (a *Assembler) fetchAll(ctx context.Context, contract string, blocks models.CampaignBlocks, maxPages int) (*etherscan.FetchResult, *etherscan.FetchResult, metrics.HolderSet, error) {
	var (
		preResult    *etherscan.FetchResult
		duringResult *etherscan.FetchResult
		baseline     = metrics.NewHolderSet()
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		result, err := a.fetcher.FetchRange(groupCtx, contract,
			blocks.PreCampaign.FromBlock, blocks.PreCampaign.ToBlock, maxPages, a.cfg.SortOrder)
		if err != nil {
			return fmt.Errorf("前期数据抓取失败: %w", err)
		}
		preResult = result
		return nil
	})

	group.Go(func() error {
		result, err := a.fetcher.FetchRange(groupCtx, contract,
			blocks.DuringCampaign.FromBlock, blocks.DuringCampaign.ToBlock, maxPages, a.cfg.SortOrder)
		if err != nil {
			return fmt.Errorf("活动期数据抓取失败: %w", err)
		}
		duringResult = result
		return nil
	})

	group.Go(func() error {
		set, err := a.fetchBaseline(groupCtx, contract, blocks.PreCampaign.FromBlock)
		if err != nil {
			// 基线只是近似值，失败不值得中止报告
			a.logger.Warnf("合约 %s 基线回溯失败，降级为空基线: %v", contract, err)
			return nil
		}
		baseline = set
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return preResult, duringResult, baseline, nil
}

// fetchBaseline 回溯前期窗口之前的有界区块范围，收集已有持有者
// 回溯覆盖不到更早的历史，得到的是近似基线而非全量
func (a *Assembler) fetchBaseline(ctx context.Context, contract string, preFromBlock uint64) (metrics.HolderSet, error) {
	if preFromBlock == 0 {
		a.logger.Warn("前期起始区块未解析，跳过基线回溯")
		return metrics.NewHolderSet(), nil
	}

	var fromBlock uint64
	if preFromBlock > a.cfg.LookbackBlocks {
		fromBlock = preFromBlock - a.cfg.LookbackBlocks
	}
	toBlock := preFromBlock - 1

	result, err := a.fetcher.FetchRange(ctx, contract, fromBlock, toBlock, a.cfg.BaselineMaxPages, etherscan.SortDesc)
	if err != nil {
		return nil, err
	}

	baseline := make(metrics.HolderSet, len(result.Events))
	for _, event := range result.Events {
		baseline[event.To] = struct{}{}
	}

	a.logger.Debugf("基线回溯完成，区块 %d-%d 内收集到 %d 个既有持有者", fromBlock, toBlock, len(baseline))
	return baseline, nil
}

// resolveToken 确定代币信息
// 优先使用抓取时顺带取到的信息并写入缓存，两个窗口都为空时再单独解析
func (a *Assembler) resolveToken(ctx context.Context, contract string, preResult, duringResult *etherscan.FetchResult) *models.TokenInfo {
	if preResult.Token != nil {
		a.tokens.Seed(contract, preResult.Token)
		return preResult.Token
	}
	if duringResult.Token != nil {
		a.tokens.Seed(contract, duringResult.Token)
		return duringResult.Token
	}
	return a.tokens.Resolve(ctx, contract)
}

// FilterMetric 从完整报告中抽取单个指标的视图
// 日度序列只保留该指标对应的序列，其余置空
func FilterMetric(report *models.CampaignReport, metric string) *models.CampaignReport {
	filtered := *report
	filtered.Summary = nil
	for _, summary := range report.Summary {
		if summary.Name == metric {
			filtered.Summary = []models.MetricSummary{summary}
			break
		}
	}

	daily := models.DailySeries{
		ActiveWallets:     []models.DailyCount{},
		Volume:            []models.DailyVolume{},
		NewHolders:        []models.DailyCount{},
		CumulativeHolders: []models.DailyCount{},
	}
	switch metric {
	case models.MetricActiveWallets:
		daily.ActiveWallets = report.DailyData.ActiveWallets
	case models.MetricTransactionVolume:
		daily.Volume = report.DailyData.Volume
	case models.MetricNewHolders:
		daily.NewHolders = report.DailyData.NewHolders
		daily.CumulativeHolders = report.DailyData.CumulativeHolders
	}
	filtered.DailyData = daily

	return &filtered
}
