package models

import "time"

// Period 时间窗口，闭区间 [From, To]
// 不变量 To > From 由请求层校验，核心不再重复检查
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// BlockRange 区块范围，由Period经区块解析器一一映射得到
// 解析失败时FromBlock/ToBlock可能为0（降级模式）
type BlockRange struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
}

// MetricSummary 单个指标的前后对比汇总
// PreCampaign为0时ChangePercent恒为0，不做除法
type MetricSummary struct {
	Name           string  `json:"name"`
	PreCampaign    float64 `json:"preCampaign"`
	DuringCampaign float64 `json:"duringCampaign"`
	ChangePercent  float64 `json:"changePercent"`
	Description    string  `json:"description"`
}

// DailyCount 按自然日统计的计数点
type DailyCount struct {
	Date  string `json:"date"` // ISO日期，不含时间部分
	Count int    `json:"count"`
}

// DailyVolume 按自然日统计的转账量
type DailyVolume struct {
	Date   string  `json:"date"`
	Volume float64 `json:"volume"`
}

// DailySeries 日度时间序列
// CumulativeHolders覆盖合并区间内的每一天，无事件的日期向前填充
type DailySeries struct {
	ActiveWallets     []DailyCount  `json:"activeWallets"`
	Volume            []DailyVolume `json:"volume"`
	NewHolders        []DailyCount  `json:"newHolders"`
	CumulativeHolders []DailyCount  `json:"cumulativeHolders"`
}

// TransactionsAnalyzed 两个时间窗口各自分析的交易数
// 分页上限截断时记录的是实际获取数，而非理论完整数
type TransactionsAnalyzed struct {
	PreCampaign    int `json:"preCampaign"`
	DuringCampaign int `json:"duringCampaign"`
	Total          int `json:"total"`
}

// DataCollection 数据采集来源信息
type DataCollection struct {
	MaxPages             int                  `json:"maxPages"`
	TransactionsAnalyzed TransactionsAnalyzed `json:"transactionsAnalyzed"`
	PreTruncated         bool                 `json:"preTruncated"`    // 前期数据是否被分页上限截断
	DuringTruncated      bool                 `json:"duringTruncated"` // 活动期数据是否被分页上限截断
}

// TokenIdentity 报告中的代币标识
type TokenIdentity struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	ContractAddress string `json:"contractAddress"`
}

// CampaignPeriods 活动前后两个时间窗口
type CampaignPeriods struct {
	PreCampaign    Period `json:"preCampaign"`
	DuringCampaign Period `json:"duringCampaign"`
}

// CampaignBlocks 两个窗口对应的区块范围
type CampaignBlocks struct {
	PreCampaign    BlockRange `json:"preCampaign"`
	DuringCampaign BlockRange `json:"duringCampaign"`
}

// CampaignInfo 活动基本信息
type CampaignInfo struct {
	Token  TokenIdentity   `json:"token"`
	Period CampaignPeriods `json:"period"`
	Blocks CampaignBlocks  `json:"blocks"`
}

// CampaignReport 活动对比分析报告
// 每次请求重新构建，由外部存储按(合约地址, 前期窗口, 活动期窗口)键做upsert
type CampaignReport struct {
	Campaign       CampaignInfo    `json:"campaign"`
	Summary        []MetricSummary `json:"summary"`
	DailyData      DailySeries     `json:"dailyData"`
	DataCollection DataCollection  `json:"dataCollection"`
	LastUpdated    time.Time       `json:"lastUpdated"`
}

// 报告指标名称
const (
	MetricActiveWallets     = "activeWallets"
	MetricTransactionVolume = "transactionVolume"
	MetricNewHolders        = "newTokenHolders"
)

// IsKnownMetric 判断指标名称是否受支持
func IsKnownMetric(metric string) bool {
	switch metric {
	case MetricActiveWallets, MetricTransactionVolume, MetricNewHolders:
		return true
	}
	return false
}
