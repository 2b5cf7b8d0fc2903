package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmetrics/internal/config"
	"tokenmetrics/internal/etherscan"
	"tokenmetrics/pkg/models"
)

const (
	contractA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	contractB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// newTestResolver 按合约地址返回不同代币符号的mock提供方
func newTestResolver(t *testing.T) (*Resolver, *int) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		contract := r.URL.Query().Get("contractaddress")
		symbol := "AAA"
		if contract == contractB {
			symbol = "BBB"
		}
		fmt.Fprintf(w, `{"status":"1","message":"OK","result":[
			{"blockNumber":"100","timeStamp":"1700000000","hash":"0x01","from":"0x02","to":"0x03","value":"1","tokenName":"%s Token","tokenSymbol":"%s","tokenDecimal":"18"}
		]}`, symbol, symbol)
	}))
	t.Cleanup(server.Close)

	logger := logrus.New()
	client, err := etherscan.NewClient(&config.EtherscanConfig{APIKey: "k", APIURL: server.URL}, logger)
	require.NoError(t, err)

	return NewResolver(client, logger), &requests
}

func TestResolve(t *testing.T) {
	resolver, _ := newTestResolver(t)

	info := resolver.Resolve(context.Background(), contractA)

	assert.Equal(t, "AAA", info.Symbol)
	assert.Equal(t, "AAA Token", info.Name)
	assert.Equal(t, uint8(18), info.Decimals)
	assert.Equal(t, "1000000000000000000", info.Divisor.String())
}

func TestResolve_CacheHitSameContract(t *testing.T) {
	resolver, requests := newTestResolver(t)

	first := resolver.Resolve(context.Background(), contractA)
	second := resolver.Resolve(context.Background(), contractA)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, *requests) // 第二次命中缓存，不再请求
}

func TestResolve_DifferentContractInvalidatesCache(t *testing.T) {
	// 先解析A再解析B，B绝不能拿到A的缓存符号
	resolver, requests := newTestResolver(t)

	infoA := resolver.Resolve(context.Background(), contractA)
	infoB := resolver.Resolve(context.Background(), contractB)

	assert.Equal(t, "AAA", infoA.Symbol)
	assert.Equal(t, "BBB", infoB.Symbol)
	assert.Equal(t, 2, *requests)
}

func TestResolve_DefaultOnNoTransfers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	}))
	t.Cleanup(server.Close)

	logger := logrus.New()
	client, err := etherscan.NewClient(&config.EtherscanConfig{APIKey: "k", APIURL: server.URL}, logger)
	require.NoError(t, err)
	resolver := NewResolver(client, logger)

	info := resolver.Resolve(context.Background(), contractA)

	assert.Equal(t, "TOKEN", info.Symbol)
	assert.Equal(t, "Token 0xaaaaaaaa", info.Name)
	assert.Equal(t, uint8(18), info.Decimals)
}

func TestSeedAndReset(t *testing.T) {
	resolver, requests := newTestResolver(t)

	resolver.Seed(contractA, models.NewTokenInfo("SEED", "Seeded Token", 6))
	info := resolver.Resolve(context.Background(), contractA)

	assert.Equal(t, "SEED", info.Symbol)
	assert.Equal(t, 0, *requests) // 种子值直接命中

	resolver.Reset()
	info = resolver.Resolve(context.Background(), contractA)
	assert.Equal(t, "AAA", info.Symbol)
	assert.Equal(t, 1, *requests)
}
