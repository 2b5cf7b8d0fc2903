package etherscan

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// BlockResolver 时间戳到区块号的解析器
type BlockResolver struct {
	client *Client
	logger *logrus.Logger
}

// NewBlockResolver 创建区块解析器
func NewBlockResolver(client *Client, logger *logrus.Logger) *BlockResolver {
	return &BlockResolver{
		client: client,
		logger: logger,
	}
}

// Resolve 解析时间戳对应的区块号
// 失败时返回0而不是错误：报告优先完成而非中断，但0会破坏下游的
// 区块范围语义，调用方必须把0当作"未解析"而非创世区块附近的合法值
func (r *BlockResolver) Resolve(ctx context.Context, ts time.Time) uint64 {
	blockNumber, err := r.client.BlockByTimestamp(ctx, ts)
	if err != nil {
		r.logger.Warnf("解析时间戳 %d 对应的区块号失败，降级为0: %v", ts.Unix(), err)
		return 0
	}
	return blockNumber
}
