package report

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
	"tokenmetrics/internal/etherscan"
	"tokenmetrics/pkg/models"
)

const testContract = "0x6982508145454ce325ddbe47a25d4ec3d2311933"

var (
	preFrom    = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	preTo      = time.Date(2024, 3, 3, 23, 59, 59, 0, time.UTC)
	duringFrom = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	duringTo   = time.Date(2024, 3, 6, 23, 59, 59, 0, time.UTC)
)

type fakeTransfer struct {
	block uint64
	ts    time.Time
	from  string
	to    string
	value string
}

func transferJSON(t fakeTransfer) map[string]string {
	return map[string]string{
		"blockNumber":  strconv.FormatUint(t.block, 10),
		"timeStamp":    strconv.FormatInt(t.ts.Unix(), 10),
		"hash":         "0xhash" + strconv.FormatUint(t.block, 10),
		"from":         t.from,
		"to":           t.to,
		"value":        t.value,
		"tokenName":    "Pepe",
		"tokenSymbol":  "PEPE",
		"tokenDecimal": "2",
	}
}

// newFakeProvider 模拟区块浏览器API
// 按startblock区分三路抓取：100为前期，300为活动期，0为基线回溯
func newFakeProvider(t *testing.T, baselineStatus func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()

	blockByTimestamp := map[string]string{
		strconv.FormatInt(preFrom.Unix(), 10):    "100",
		strconv.FormatInt(preTo.Unix(), 10):      "200",
		strconv.FormatInt(duringFrom.Unix(), 10): "300",
		strconv.FormatInt(duringTo.Unix(), 10):   "400",
	}

	preTransfers := []map[string]string{
		transferJSON(fakeTransfer{110, preFrom.Add(2 * time.Hour), "0xa", "0xb", "150"}),
		transferJSON(fakeTransfer{150, preFrom.Add(26 * time.Hour), "0xa", "0xc", "50"}),
	}
	duringTransfers := []map[string]string{
		transferJSON(fakeTransfer{310, duringFrom.Add(time.Hour), "0xb", "0xd", "100"}),
		transferJSON(fakeTransfer{320, duringFrom.Add(3 * time.Hour), "0xc", "0xd", "200"}),
		transferJSON(fakeTransfer{390, duringFrom.Add(49 * time.Hour), "0xd", "0xe", "100"}),
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch query.Get("action") {
		case "getblocknobytime":
			block, ok := blockByTimestamp[query.Get("timestamp")]
			require.True(t, ok, "意外的时间戳: %s", query.Get("timestamp"))
			fmt.Fprintf(w, `{"status":"1","message":"OK","result":"%s"}`, block)
		case "tokentx":
			switch query.Get("startblock") {
			case "100":
				writeTransfers(w, preTransfers)
			case "300":
				writeTransfers(w, duringTransfers)
			case "0":
				baselineStatus(w)
			default:
				t.Errorf("意外的startblock: %s", query.Get("startblock"))
			}
		default:
			t.Errorf("意外的action: %s", query.Get("action"))
		}
	}))
}

func writeTransfers(w http.ResponseWriter, transfers []map[string]string) {
	resp := map[string]interface{}{
		"status":  "1",
		"message": "OK",
		"result":  transfers,
	}
	json.NewEncoder(w).Encode(resp)
}

func emptyBaseline(w http.ResponseWriter) {
	fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
}

func newTestAssembler(t *testing.T, serverURL string) *Assembler {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Etherscan.APIKey = "test-key"
	cfg.Etherscan.APIURL = serverURL
	cfg.Etherscan.PageDelay = "0s"
	cfg.Report.Timeout = "10s"

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client, err := etherscan.NewClient(cfg.Etherscan, logger)
	require.NoError(t, err)

	return NewAssembler(client, cfg, logger)
}

func testRequest() *Request {
	return &Request{
		ContractAddress: testContract,
		PreCampaign:     models.Period{From: preFrom, To: preTo},
		DuringCampaign:  models.Period{From: duringFrom, To: duringTo},
	}
}

func TestGenerateFullReport(t *testing.T) {
	server := newFakeProvider(t, emptyBaseline)
	defer server.Close()

	report, err := newTestAssembler(t, server.URL).Generate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "PEPE", report.Campaign.Token.Symbol)
	assert.Equal(t, "Pepe", report.Campaign.Token.Name)
	assert.Equal(t, testContract, report.Campaign.Token.ContractAddress)
	assert.Equal(t, uint64(100), report.Campaign.Blocks.PreCampaign.FromBlock)
	assert.Equal(t, uint64(200), report.Campaign.Blocks.PreCampaign.ToBlock)
	assert.Equal(t, uint64(300), report.Campaign.Blocks.DuringCampaign.FromBlock)
	assert.Equal(t, uint64(400), report.Campaign.Blocks.DuringCampaign.ToBlock)

	require.Len(t, report.Summary, 3)

	// 前期钱包 {a,b,c}，活动期 {b,c,d,e}
	active := report.Summary[0]
	assert.Equal(t, models.MetricActiveWallets, active.Name)
	assert.Equal(t, 3.0, active.PreCampaign)
	assert.Equal(t, 4.0, active.DuringCampaign)
	assert.Equal(t, 33.3, active.ChangePercent)

	// 2位小数：前期 (150+50)/100=2，活动期 (100+200+100)/100=4
	volume := report.Summary[1]
	assert.Equal(t, models.MetricTransactionVolume, volume.Name)
	assert.Equal(t, 2.0, volume.PreCampaign)
	assert.Equal(t, 4.0, volume.DuringCampaign)
	assert.Equal(t, 100.0, volume.ChangePercent)

	// 空基线下前期新持有者 {b,c}，活动期 {d,e}
	holders := report.Summary[2]
	assert.Equal(t, models.MetricNewHolders, holders.Name)
	assert.Equal(t, 2.0, holders.PreCampaign)
	assert.Equal(t, 2.0, holders.DuringCampaign)

	collection := report.DataCollection
	assert.Equal(t, 2, collection.TransactionsAnalyzed.PreCampaign)
	assert.Equal(t, 3, collection.TransactionsAnalyzed.DuringCampaign)
	assert.Equal(t, 5, collection.TransactionsAnalyzed.Total)
	assert.False(t, collection.PreTruncated)
	assert.False(t, collection.DuringTruncated)
	assert.False(t, report.LastUpdated.IsZero())

	// 合并区间2024-03-01至2024-03-06共6天，累计序列覆盖每一天
	assert.Len(t, report.DailyData.CumulativeHolders, 6)
}

func TestGeneratePerRequestMaxPages(t *testing.T) {
	// 每页1条数据的提供方，按page参数逐条返回
	blockByTimestamp := map[string]string{
		strconv.FormatInt(preFrom.Unix(), 10):    "100",
		strconv.FormatInt(preTo.Unix(), 10):      "200",
		strconv.FormatInt(duringFrom.Unix(), 10): "300",
		strconv.FormatInt(duringTo.Unix(), 10):   "400",
	}
	transfersByStart := map[string][]map[string]string{
		"100": {
			transferJSON(fakeTransfer{110, preFrom.Add(2 * time.Hour), "0xa", "0xb", "150"}),
			transferJSON(fakeTransfer{150, preFrom.Add(26 * time.Hour), "0xa", "0xc", "50"}),
		},
		"300": {
			transferJSON(fakeTransfer{310, duringFrom.Add(time.Hour), "0xb", "0xd", "100"}),
			transferJSON(fakeTransfer{320, duringFrom.Add(3 * time.Hour), "0xc", "0xd", "200"}),
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("action") == "getblocknobytime" {
			fmt.Fprintf(w, `{"status":"1","message":"OK","result":"%s"}`, blockByTimestamp[query.Get("timestamp")])
			return
		}

		transfers, ok := transfersByStart[query.Get("startblock")]
		if !ok {
			emptyBaseline(w)
			return
		}
		page, err := strconv.Atoi(query.Get("page"))
		require.NoError(t, err)
		if page < 1 || page > len(transfers) {
			writeTransfers(w, nil)
			return
		}
		writeTransfers(w, transfers[page-1:page])
	}))
	defer server.Close()

	cfg := config.GetDefaultConfig()
	cfg.Etherscan.APIKey = "test-key"
	cfg.Etherscan.APIURL = server.URL
	cfg.Etherscan.PageSize = 1
	cfg.Etherscan.PageDelay = "0s"
	cfg.Report.Timeout = "10s"

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client, err := etherscan.NewClient(cfg.Etherscan, logger)
	require.NoError(t, err)
	assembler := NewAssembler(client, cfg, logger)

	// 请求级上限为1页时，前期和活动期两路都只取到第一页
	req := testRequest()
	req.MaxPages = 1
	limited, err := assembler.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, limited.DataCollection.MaxPages)
	assert.Equal(t, 1, limited.DataCollection.TransactionsAnalyzed.PreCampaign)
	assert.Equal(t, 1, limited.DataCollection.TransactionsAnalyzed.DuringCampaign)

	// 未指定时退回配置的默认上限，数据取全
	full, err := assembler.Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, cfg.Report.MaxPages, full.DataCollection.MaxPages)
	assert.Equal(t, 2, full.DataCollection.TransactionsAnalyzed.PreCampaign)
	assert.Equal(t, 2, full.DataCollection.TransactionsAnalyzed.DuringCampaign)
}

func TestGenerateBaselineExcludesHolders(t *testing.T) {
	// 基线回溯返回0xb已是持有者，前期新持有者只剩0xc
	server := newFakeProvider(t, func(w http.ResponseWriter) {
		writeTransfers(w, []map[string]string{
			transferJSON(fakeTransfer{50, preFrom.Add(-24 * time.Hour), "0xgenesis", "0xb", "10"}),
		})
	})
	defer server.Close()

	report, err := newTestAssembler(t, server.URL).Generate(context.Background(), testRequest())
	require.NoError(t, err)

	holders := report.Summary[2]
	assert.Equal(t, 1.0, holders.PreCampaign)
	assert.Equal(t, 2.0, holders.DuringCampaign)
}

func TestGenerateBaselineFailureDegrades(t *testing.T) {
	// 基线回溯遇到不可重试错误时降级为空基线，报告照常生成
	server := newFakeProvider(t, func(w http.ResponseWriter) {
		fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":"Error! Invalid address format"}`)
	})
	defer server.Close()

	report, err := newTestAssembler(t, server.URL).Generate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 2.0, report.Summary[2].PreCampaign)
}

func TestGenerateMetricSingleVariant(t *testing.T) {
	server := newFakeProvider(t, emptyBaseline)
	defer server.Close()

	assembler := newTestAssembler(t, server.URL)

	report, err := assembler.GenerateMetric(context.Background(), testRequest(), models.MetricTransactionVolume)
	require.NoError(t, err)

	require.Len(t, report.Summary, 1)
	assert.Equal(t, models.MetricTransactionVolume, report.Summary[0].Name)
	assert.NotEmpty(t, report.DailyData.Volume)
	assert.Empty(t, report.DailyData.ActiveWallets)
	assert.Empty(t, report.DailyData.NewHolders)
	assert.Empty(t, report.DailyData.CumulativeHolders)
}

func TestGenerateMetricUnknown(t *testing.T) {
	server := newFakeProvider(t, emptyBaseline)
	defer server.Close()

	_, err := newTestAssembler(t, server.URL).GenerateMetric(context.Background(), testRequest(), "totalSupply")
	assert.Error(t, err)
}

func TestFilterMetricNewHoldersKeepsCumulative(t *testing.T) {
	report := &models.CampaignReport{
		Summary: []models.MetricSummary{
			{Name: models.MetricActiveWallets},
			{Name: models.MetricNewHolders},
		},
		DailyData: models.DailySeries{
			ActiveWallets:     []models.DailyCount{{Date: "2024-03-01", Count: 2}},
			NewHolders:        []models.DailyCount{{Date: "2024-03-01", Count: 1}},
			CumulativeHolders: []models.DailyCount{{Date: "2024-03-01", Count: 1}},
		},
	}

	filtered := FilterMetric(report, models.MetricNewHolders)

	require.Len(t, filtered.Summary, 1)
	assert.Equal(t, models.MetricNewHolders, filtered.Summary[0].Name)
	assert.Empty(t, filtered.DailyData.ActiveWallets)
	assert.Len(t, filtered.DailyData.NewHolders, 1)
	assert.Len(t, filtered.DailyData.CumulativeHolders, 1)
	// 原始报告不受影响
	assert.Len(t, report.Summary, 2)
}

func TestFetchRawTransactions(t *testing.T) {
	server := newFakeProvider(t, emptyBaseline)
	defer server.Close()

	raw, err := newTestAssembler(t, server.URL).FetchRawTransactions(context.Background(),
		testContract, models.Period{From: preFrom, To: preTo}, 0)
	require.NoError(t, err)

	assert.Equal(t, testContract, raw.ContractAddress)
	assert.Equal(t, uint64(100), raw.Blocks.FromBlock)
	assert.Equal(t, uint64(200), raw.Blocks.ToBlock)
	assert.Len(t, raw.Transactions, 2)
	assert.Equal(t, 1, raw.Pages)
	assert.False(t, raw.Truncated)
}

func TestReportJSONRoundTrip(t *testing.T) {
	server := newFakeProvider(t, emptyBaseline)
	defer server.Close()

	report, err := newTestAssembler(t, server.URL).Generate(context.Background(), testRequest())
	require.NoError(t, err)

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded models.CampaignReport
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, report.Summary, decoded.Summary)
	assert.Equal(t, report.DailyData, decoded.DailyData)
	assert.Equal(t, report.Campaign, decoded.Campaign)
}
