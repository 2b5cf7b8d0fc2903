package token

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"tokenmetrics/internal/etherscan"
	"tokenmetrics/pkg/models"
)

// 整个链上范围内取最近一条转账即可得到代币元数据
const (
	genesisBlock  = uint64(0)
	latestBlock   = uint64(999999999)
	singleTxLimit = 1
)

// Resolver 代币信息解析器
//
// 缓存是显式的(地址, TokenInfo)键值对，每次访问用键比对判定有效性，
// 请求另一个合约时旧值立即作废，绝不向错误的合约返回陈旧数据
type Resolver struct {
	client *etherscan.Client
	logger *logrus.Logger

	mu            sync.Mutex
	cachedAddress string
	cached        *models.TokenInfo
}

// NewResolver 创建解析器
func NewResolver(client *etherscan.Client, logger *logrus.Logger) *Resolver {
	return &Resolver{
		client: client,
		logger: logger,
	}
}

// Resolve 解析合约的代币信息
// 失败是非致命的：无法解析时返回合成的默认信息
func (r *Resolver) Resolve(ctx context.Context, contract string) *models.TokenInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.cachedAddress == contract {
		return r.cached
	}

	// 键不匹配时先作废，避免请求失败后残留别的合约的数据
	r.cached = nil
	r.cachedAddress = ""

	info := r.fetch(ctx, contract)
	r.cached = info
	r.cachedAddress = contract
	return info
}

// Seed 用抓取过程中顺带取到的代币信息填充缓存
// 只接受与给定地址绑定的值
func (r *Resolver) Seed(contract string, info *models.TokenInfo) {
	if info == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedAddress = contract
	r.cached = info
}

// Reset 清空缓存，报告生成开始前调用，杜绝跨报告泄漏
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedAddress = ""
	r.cached = nil
}

// fetch 请求最近一条转账并从中提取代币元数据
func (r *Resolver) fetch(ctx context.Context, contract string) *models.TokenInfo {
	events, err := r.client.TokenTransfersPage(ctx, contract, genesisBlock, latestBlock, 1, singleTxLimit, etherscan.SortDesc)
	if err != nil {
		r.logger.Warnf("获取合约 %s 的代币信息失败，使用默认值: %v", contract, err)
		return models.DefaultTokenInfo(contract)
	}

	if len(events) == 0 {
		r.logger.Warnf("合约 %s 没有任何转账记录，使用默认代币信息", contract)
		return models.DefaultTokenInfo(contract)
	}

	first := events[0]
	if first.TokenSymbol == "" {
		return models.DefaultTokenInfo(contract)
	}

	return models.NewTokenInfo(first.TokenSymbol, first.TokenName, first.TokenDecimals)
}
