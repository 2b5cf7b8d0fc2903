package models

import (
	"math/big"
	"time"
)

// TransferEvent ERC-20转账事件数据模型
// 由区块浏览器API逐页返回，跨页顺序不保证一致，聚合前需按时间戳重排
type TransferEvent struct {
	Hash          string    `json:"hash"`
	BlockNumber   uint64    `json:"block_number"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Value         *big.Int  `json:"value"`
	Timestamp     time.Time `json:"timestamp"`
	TokenSymbol   string    `json:"token_symbol"`
	TokenName     string    `json:"token_name,omitempty"`
	TokenDecimals uint8     `json:"token_decimals"`
}

// SortByTimestampAsc 按时间戳升序排序的比较函数
func SortByTimestampAsc(a, b *TransferEvent) bool {
	return a.Timestamp.Before(b.Timestamp)
}
