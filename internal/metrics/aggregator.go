package metrics

import (
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"tokenmetrics/pkg/models"
)

// 日期桶的键格式，ISO日期不含时间部分
const dateLayout = "2006-01-02"

// 指标描述
const (
	descActiveWallets = "与合约发生过交易的去重钱包地址数"
	descVolume        = "经合约转移的代币总量"
	descNewHolders    = "首次持有该代币的新钱包地址数"
)

// HolderSet 持有者地址集合
type HolderSet map[string]struct{}

// NewHolderSet 从地址列表构造集合
func NewHolderSet(addresses ...string) HolderSet {
	set := make(HolderSet, len(addresses))
	for _, addr := range addresses {
		set[addr] = struct{}{}
	}
	return set
}

// Union 并集，返回新集合
func (s HolderSet) Union(other HolderSet) HolderSet {
	merged := make(HolderSet, len(s)+len(other))
	for addr := range s {
		merged[addr] = struct{}{}
	}
	for addr := range other {
		merged[addr] = struct{}{}
	}
	return merged
}

// PeriodStats 单个时间窗口的统计量
// Volume用big.Rat精确累加，只在报告边界转成float64
type PeriodStats struct {
	ActiveWallets int
	Volume        *big.Rat
	NewHolders    int
	NewHolderSet  HolderSet
}

// Result 聚合计算结果
type Result struct {
	Pre     *PeriodStats
	During  *PeriodStats
	Summary []models.MetricSummary
	Daily   models.DailySeries
}

// Aggregator 指标聚合器
type Aggregator struct {
	divisor *big.Int
	logger  *logrus.Logger
}

// NewAggregator 创建聚合器，divisor为10^decimals
func NewAggregator(divisor *big.Int, logger *logrus.Logger) *Aggregator {
	if divisor == nil || divisor.Sign() == 0 {
		divisor = new(big.Int).Exp(big.NewInt(10), big.NewInt(models.DefaultTokenDecimals), nil)
	}
	return &Aggregator{
		divisor: divisor,
		logger:  logger,
	}
}

// Compute 对比两个时间窗口并生成汇总与日度序列
//
// baseline是"已持有代币"的基线集合，来自有界回溯近似，不是真实历史全量；
// 活动期的基线是前期基线与前期新持有者的并集。
// span是两个窗口合并后的完整日期范围，累计持有者序列覆盖其中每一天。
func (a *Aggregator) Compute(pre, during []*models.TransferEvent, baseline HolderSet, span models.Period) *Result {
	// 提供方跨页顺序不保证一致，时序处理前必须重排
	sortByTimestamp(pre)
	sortByTimestamp(during)

	preStats := a.computePeriod(pre, baseline)
	campaignBaseline := baseline.Union(preStats.NewHolderSet)
	duringStats := a.computePeriod(during, campaignBaseline)

	preVolume, _ := preStats.Volume.Float64()
	duringVolume, _ := duringStats.Volume.Float64()

	summary := []models.MetricSummary{
		{
			Name:           models.MetricActiveWallets,
			PreCampaign:    float64(preStats.ActiveWallets),
			DuringCampaign: float64(duringStats.ActiveWallets),
			ChangePercent:  ChangePercent(float64(preStats.ActiveWallets), float64(duringStats.ActiveWallets)),
			Description:    descActiveWallets,
		},
		{
			Name:           models.MetricTransactionVolume,
			PreCampaign:    preVolume,
			DuringCampaign: duringVolume,
			ChangePercent:  ChangePercent(preVolume, duringVolume),
			Description:    descVolume,
		},
		{
			Name:           models.MetricNewHolders,
			PreCampaign:    float64(preStats.NewHolders),
			DuringCampaign: float64(duringStats.NewHolders),
			ChangePercent:  ChangePercent(float64(preStats.NewHolders), float64(duringStats.NewHolders)),
			Description:    descNewHolders,
		},
	}

	return &Result{
		Pre:     preStats,
		During:  duringStats,
		Summary: summary,
		Daily:   a.buildDailySeries(pre, during, baseline, span),
	}
}

// computePeriod 计算单个窗口的统计量
func (a *Aggregator) computePeriod(events []*models.TransferEvent, baseline HolderSet) *PeriodStats {
	stats := &PeriodStats{
		Volume:       new(big.Rat),
		NewHolderSet: make(HolderSet),
	}

	wallets := make(map[string]struct{})
	for _, event := range events {
		wallets[event.From] = struct{}{}
		wallets[event.To] = struct{}{}

		stats.Volume.Add(stats.Volume, tokenAmount(event.Value, a.divisor))

		if _, held := baseline[event.To]; !held {
			if _, seen := stats.NewHolderSet[event.To]; !seen {
				stats.NewHolderSet[event.To] = struct{}{}
			}
		}
	}

	stats.ActiveWallets = len(wallets)
	stats.NewHolders = len(stats.NewHolderSet)
	return stats
}

// tokenAmount 换算为带小数的代币数量，避免整数截断
func tokenAmount(value, divisor *big.Int) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).Set(value), new(big.Int).Set(divisor))
}

// ChangePercent 变化百分比，保留1位小数，四舍五入远离零
// 基数为0时恒为0，不执行除法
func ChangePercent(pre, during float64) float64 {
	if pre == 0 {
		return 0
	}
	return math.Round((during-pre)/pre*100*10) / 10
}

// buildDailySeries 构建日度序列
//
// 按日计数的序列只包含有事件的日期；累计持有者序列是对完整日期轴的
// 显式遍历，携带运行值向前填充，而不是稀疏映射
func (a *Aggregator) buildDailySeries(pre, during []*models.TransferEvent, baseline HolderSet, span models.Period) models.DailySeries {
	merged := make([]*models.TransferEvent, 0, len(pre)+len(during))
	merged = append(merged, pre...)
	merged = append(merged, during...)
	sortByTimestamp(merged)

	series := models.DailySeries{
		ActiveWallets:     []models.DailyCount{},
		Volume:            []models.DailyVolume{},
		NewHolders:        []models.DailyCount{},
		CumulativeHolders: []models.DailyCount{},
	}

	dailyWallets := make(map[string]map[string]struct{})
	dailyVolume := make(map[string]*big.Rat)
	dailyNewHolders := make(map[string]int)

	seen := make(HolderSet, len(baseline))
	for addr := range baseline {
		seen[addr] = struct{}{}
	}

	var dates []string
	for _, event := range merged {
		date := event.Timestamp.UTC().Format(dateLayout)

		if _, exists := dailyWallets[date]; !exists {
			dailyWallets[date] = make(map[string]struct{})
			dailyVolume[date] = new(big.Rat)
			dates = append(dates, date)
		}

		dailyWallets[date][event.From] = struct{}{}
		dailyWallets[date][event.To] = struct{}{}
		dailyVolume[date].Add(dailyVolume[date], tokenAmount(event.Value, a.divisor))

		if _, held := seen[event.To]; !held {
			seen[event.To] = struct{}{}
			dailyNewHolders[date]++
		}
	}

	for _, date := range dates {
		volume, _ := dailyVolume[date].Float64()
		series.ActiveWallets = append(series.ActiveWallets, models.DailyCount{Date: date, Count: len(dailyWallets[date])})
		series.Volume = append(series.Volume, models.DailyVolume{Date: date, Volume: volume})
		series.NewHolders = append(series.NewHolders, models.DailyCount{Date: date, Count: dailyNewHolders[date]})
	}

	series.CumulativeHolders = cumulativeSeries(dailyNewHolders, span)
	return series
}

// cumulativeSeries 沿完整日期轴累计新持有者数，无事件日沿用前值
func cumulativeSeries(dailyNewHolders map[string]int, span models.Period) []models.DailyCount {
	if span.From.IsZero() || span.To.IsZero() || span.To.Before(span.From) {
		return []models.DailyCount{}
	}

	series := []models.DailyCount{}
	running := 0

	day := span.From.UTC().Truncate(24 * time.Hour)
	last := span.To.UTC().Truncate(24 * time.Hour)
	for !day.After(last) {
		date := day.Format(dateLayout)
		running += dailyNewHolders[date]
		series = append(series, models.DailyCount{Date: date, Count: running})
		day = day.Add(24 * time.Hour)
	}

	return series
}

// sortByTimestamp 按时间戳升序稳定排序
func sortByTimestamp(events []*models.TransferEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return models.SortByTimestampAsc(events[i], events[j])
	})
}
