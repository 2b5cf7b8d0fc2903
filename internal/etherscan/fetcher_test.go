package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenmetrics/internal/config"
	"tokenmetrics/internal/retry"
)

// makePage 生成一页合成转账记录
func makePage(count int, startIndex int) []rawTransfer {
	page := make([]rawTransfer, count)
	for i := 0; i < count; i++ {
		n := startIndex + i
		page[i] = rawTransfer{
			BlockNumber:  strconv.Itoa(1000 + n),
			TimeStamp:    strconv.FormatInt(1700000000+int64(n), 10),
			Hash:         fmt.Sprintf("0xtx%06d", n),
			From:         fmt.Sprintf("0xfrom%04d", n%7),
			To:           fmt.Sprintf("0xto%04d", n%11),
			Value:        "1000000000000000000",
			TokenName:    "Test Token",
			TokenSymbol:  "TST",
			TokenDecimal: "18",
		}
	}
	return page
}

func writePage(w http.ResponseWriter, page []rawTransfer) {
	result, _ := json.Marshal(page)
	fmt.Fprintf(w, `{"status":"1","message":"OK","result":%s}`, result)
}

// newTestFetcher 构造无延迟、快速重试的抓取器
func newTestFetcher(t *testing.T, handler http.HandlerFunc, pageSize int) *Fetcher {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	client, err := NewClient(&config.EtherscanConfig{APIKey: "k", APIURL: server.URL}, logger)
	require.NoError(t, err)

	return &Fetcher{
		client: client,
		retrier: retry.NewRetrier(&retry.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			BackoffFactor:   1.5,
		}, logger),
		pageSize:  pageSize,
		pageDelay: 0,
		logger:    logger,
	}
}

func TestFetchRange_ShortPageTermination(t *testing.T) {
	// 第1页满页1000条、第2页400条：应抓到1400条并在第2页后停止
	var requestedPages []string
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		requestedPages = append(requestedPages, page)
		switch page {
		case "1":
			writePage(w, makePage(1000, 0))
		case "2":
			writePage(w, makePage(400, 1000))
		default:
			t.Fatalf("不应请求第 %s 页", page)
		}
	}, 1000)

	result, err := fetcher.FetchRange(context.Background(), testContract, 100, 200, 0, SortAsc)

	require.NoError(t, err)
	assert.Len(t, result.Events, 1400)
	assert.Equal(t, 2, result.Pages)
	assert.False(t, result.Truncated)
	assert.Equal(t, []string{"1", "2"}, requestedPages)
}

func TestFetchRange_MaxPagesCap(t *testing.T) {
	// 提供方总是返回满页，maxPages=2时只允许抓2页
	requests := 0
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		writePage(w, makePage(50, requests*50))
	}, 50)

	result, err := fetcher.FetchRange(context.Background(), testContract, 100, 200, 2, SortDesc)

	require.NoError(t, err)
	assert.Len(t, result.Events, 100)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 2, requests)
}

func TestFetchRange_EmptyFirstPage(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, nil)
	}, 100)

	result, err := fetcher.FetchRange(context.Background(), testContract, 100, 200, 0, SortAsc)

	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Equal(t, 0, result.Pages)
}

func TestFetchRange_NoTransactionsFound(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	}, 100)

	result, err := fetcher.FetchRange(context.Background(), testContract, 100, 200, 0, SortAsc)

	// 空结果是合法的成功路径
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.False(t, result.Truncated)
}

func TestFetchRange_PaginationCeilingTruncates(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			writePage(w, makePage(100, 0))
		default:
			fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Result window is too large, PageNo x Offset size must be less than or equal to 10000"}`)
		}
	}, 100)

	result, err := fetcher.FetchRange(context.Background(), testContract, 100, 200, 0, SortAsc)

	// 截断属于降级成功，已抓取数据保留且必须标记
	require.NoError(t, err)
	assert.Len(t, result.Events, 100)
	assert.True(t, result.Truncated)
}

func TestFetchRange_RateLimitRetrySamePage(t *testing.T) {
	// 第1页先限流后成功：事件不得重复，限流尝试不推进页号
	var requestedPages []string
	attempt := 0
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		requestedPages = append(requestedPages, r.URL.Query().Get("page"))
		attempt++
		if attempt == 1 {
			fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`)
			return
		}
		writePage(w, makePage(30, 0))
	}, 100)

	result, err := fetcher.FetchRange(context.Background(), testContract, 100, 200, 0, SortAsc)

	require.NoError(t, err)
	assert.Len(t, result.Events, 30)
	assert.Equal(t, 1, result.Pages)
	// 两次请求都是第1页
	assert.Equal(t, []string{"1", "1"}, requestedPages)
}

func TestFetchRange_FatalProviderError(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`)
	}, 100)

	_, err := fetcher.FetchRange(context.Background(), testContract, 100, 200, 0, SortAsc)

	assert.Error(t, err)
}

func TestFetchRange_CapturesTokenInfo(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, makePage(5, 0))
	}, 100)

	result, err := fetcher.FetchRange(context.Background(), testContract, 100, 200, 0, SortAsc)

	require.NoError(t, err)
	require.NotNil(t, result.Token)
	assert.Equal(t, "TST", result.Token.Symbol)
	assert.Equal(t, "Test Token", result.Token.Name)
	assert.Equal(t, uint8(18), result.Token.Decimals)
}

func TestNormalizeSort(t *testing.T) {
	assert.Equal(t, SortAsc, NormalizeSort("asc"))
	assert.Equal(t, SortDesc, NormalizeSort("desc"))
	// 非法值回退为默认desc
	assert.Equal(t, SortDesc, NormalizeSort("newest"))
	assert.Equal(t, SortDesc, NormalizeSort(""))
}
