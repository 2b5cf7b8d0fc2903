package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"tokenmetrics/internal/config"
	metricserrors "tokenmetrics/internal/errors"
	"tokenmetrics/pkg/models"
)

// 接口返回的状态码，"1"表示成功，其余一律按错误文本分类
const statusOK = "1"

// apiResponse 区块浏览器API的通用响应外壳
// Result在成功时是数组或字符串，失败时是错误描述字符串
type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// rawTransfer tokentx接口返回的单条转账记录，所有字段均为字符串
type rawTransfer struct {
	BlockNumber  string `json:"blockNumber"`
	TimeStamp    string `json:"timeStamp"`
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	TokenName    string `json:"tokenName"`
	TokenSymbol  string `json:"tokenSymbol"`
	TokenDecimal string `json:"tokenDecimal"`
}

// Client 区块浏览器API客户端
// 复用单个启用keep-alive的http.Client，无连接池要求
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient 创建客户端
func NewClient(cfg *config.EtherscanConfig, logger *logrus.Logger) (*Client, error) {
	if cfg == nil || cfg.APIURL == "" {
		return nil, metricserrors.ErrConfigInvalid
	}

	timeout := 30 * time.Second
	if cfg.RequestTimeout != "" {
		parsed, err := time.ParseDuration(cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("无效的request_timeout: %w", err)
		}
		timeout = parsed
	}

	if cfg.APIKey == "" {
		logger.Warn("ETHERSCAN_API_KEY未配置，免费接口会很快触发限流")
	}

	return &Client{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

// get 执行一次API请求并解出响应外壳
func (c *Client) get(ctx context.Context, params url.Values) (*apiResponse, error) {
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, metricserrors.WrapError(err, metricserrors.ErrorTypeSystem, metricserrors.SeverityHigh, "REQUEST_BUILD_FAILED", "构造API请求失败")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, metricserrors.WrapError(err, metricserrors.ErrorTypeConnection, metricserrors.SeverityHigh, "CONNECTION_FAILED", "连接区块浏览器API失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, metricserrors.WrapError(err, metricserrors.ErrorTypeRateLimit, metricserrors.SeverityMedium, "RATE_LIMIT_EXCEEDED", "请求频率超限")
		}
		return nil, metricserrors.WrapError(err, metricserrors.ErrorTypeNetwork, metricserrors.SeverityHigh, "HTTP_ERROR", "API返回非200状态")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, metricserrors.WrapError(err, metricserrors.ErrorTypeNetwork, metricserrors.SeverityHigh, "READ_BODY_FAILED", "读取响应失败")
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, metricserrors.WrapError(err, metricserrors.ErrorTypeSerialization, metricserrors.SeverityHigh, "DECODE_FAILED", "解析API响应失败")
	}

	return &apiResp, nil
}

// resultString 失败响应的Result字段按字符串解码，用于错误分类
func resultString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// BlockByTimestamp 查询某个Unix时间戳之前最近的区块号
func (c *Client) BlockByTimestamp(ctx context.Context, ts time.Time) (uint64, error) {
	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(ts.Unix(), 10))
	params.Set("closest", "before")

	resp, err := c.get(ctx, params)
	if err != nil {
		return 0, err
	}

	if resp.Status != statusOK {
		return 0, metricserrors.ClassifyProviderError(resp.Message, resultString(resp.Result), "")
	}

	var blockStr string
	if err := json.Unmarshal(resp.Result, &blockStr); err != nil {
		return 0, metricserrors.WrapError(err, metricserrors.ErrorTypeSerialization, metricserrors.SeverityHigh, "DECODE_FAILED", "解析区块号失败")
	}

	blockNumber, err := strconv.ParseUint(blockStr, 10, 64)
	if err != nil {
		return 0, metricserrors.WrapError(err, metricserrors.ErrorTypeData, metricserrors.SeverityHigh, "INVALID_BLOCK_NUMBER", "无效的区块号: "+blockStr)
	}

	return blockNumber, nil
}

// TokenTransfersPage 抓取单页代币转账事件
// 非成功状态一律转成分类错误，由调用方决定降级还是终止
func (c *Client) TokenTransfersPage(ctx context.Context, contract string, fromBlock, toBlock uint64, page, offset int, sort string) ([]*models.TransferEvent, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("contractaddress", contract)
	params.Set("startblock", strconv.FormatUint(fromBlock, 10))
	params.Set("endblock", strconv.FormatUint(toBlock, 10))
	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("sort", sort)

	resp, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	if resp.Status != statusOK {
		return nil, metricserrors.ClassifyProviderError(resp.Message, resultString(resp.Result), contract)
	}

	var raws []rawTransfer
	if err := json.Unmarshal(resp.Result, &raws); err != nil {
		return nil, metricserrors.WrapError(err, metricserrors.ErrorTypeSerialization, metricserrors.SeverityHigh, "DECODE_FAILED", "解析转账列表失败")
	}

	events := make([]*models.TransferEvent, 0, len(raws))
	for _, raw := range raws {
		event, err := parseTransfer(&raw)
		if err != nil {
			c.logger.Warnf("跳过无法解析的转账记录 %s: %v", raw.Hash, err)
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// parseTransfer 将字符串字段的原始记录转为内部模型
func parseTransfer(raw *rawTransfer) (*models.TransferEvent, error) {
	blockNumber, err := strconv.ParseUint(raw.BlockNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("无效的区块号 %q", raw.BlockNumber)
	}

	tsSec, err := strconv.ParseInt(raw.TimeStamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("无效的时间戳 %q", raw.TimeStamp)
	}

	value, ok := new(big.Int).SetString(raw.Value, 10)
	if !ok {
		return nil, fmt.Errorf("无效的转账金额 %q", raw.Value)
	}

	decimals := uint64(models.DefaultTokenDecimals)
	if raw.TokenDecimal != "" {
		if parsed, err := strconv.ParseUint(raw.TokenDecimal, 10, 8); err == nil {
			decimals = parsed
		}
	}

	return &models.TransferEvent{
		Hash:          raw.Hash,
		BlockNumber:   blockNumber,
		From:          raw.From,
		To:            raw.To,
		Value:         value,
		Timestamp:     time.Unix(tsSec, 0).UTC(),
		TokenSymbol:   raw.TokenSymbol,
		TokenName:     raw.TokenName,
		TokenDecimals: uint8(decimals),
	}, nil
}
