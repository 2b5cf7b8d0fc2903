package models

import "math/big"

// 默认的ERC-20小数位数
const DefaultTokenDecimals = 18

// TokenInfo 代币基本信息
// 每次报告生成时按合约地址解析一次，不允许跨合约复用
type TokenInfo struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Decimals uint8    `json:"decimals"`
	Divisor  *big.Int `json:"-"` // 10^Decimals
}

// NewTokenInfo 创建代币信息并计算除数
func NewTokenInfo(symbol, name string, decimals uint8) *TokenInfo {
	return &TokenInfo{
		Symbol:   symbol,
		Name:     name,
		Decimals: decimals,
		Divisor:  new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil),
	}
}

// DefaultTokenInfo 构造默认代币信息（无法从链上解析时使用）
// 名称由合约地址截断生成
func DefaultTokenInfo(contractAddress string) *TokenInfo {
	name := "Unknown Token"
	if len(contractAddress) >= 10 {
		name = "Token " + contractAddress[:10]
	}
	return NewTokenInfo("TOKEN", name, DefaultTokenDecimals)
}
