package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tokenmetrics/internal/config"
	metricserrors "tokenmetrics/internal/errors"
	"tokenmetrics/internal/output"
	"tokenmetrics/internal/report"
	"tokenmetrics/internal/store"
	"tokenmetrics/internal/validation"
	"tokenmetrics/pkg/models"
)

// Server API服务器
type Server struct {
	assembler  *report.Assembler
	store      *store.Store
	sink       output.Sink
	validator  *validation.Validator
	config     *config.Config
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	configMgr  *ConfigManager
	mu         sync.Mutex
	errorStats *metricserrors.ErrorStats
	startTime  time.Time
	port       int
}

// NewServer 创建API服务器
func NewServer(assembler *report.Assembler, reportStore *store.Store, sink output.Sink, cfg *config.Config, logger *logrus.Logger, port int) *Server {
	// 日志环形缓冲，供/logs接口查询
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		assembler:  assembler,
		store:      reportStore,
		sink:       sink,
		validator:  validation.NewValidator(logger),
		config:     cfg,
		logger:     logger,
		logManager: logManager,
		errorStats: metricserrors.NewErrorStats(),
		startTime:  time.Now(),
		port:       port,
	}
}

// WithConfigManager 挂载数据库配置管理接口，须在Start之前调用
func (s *Server) WithConfigManager(cm *ConfigManager) *Server {
	s.configMgr = cm
	return s
}

// Start 启动API服务器
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// 添加CORS中间件
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	return s.server.ListenAndServe()
}

// Stop 优雅停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 报告生成与查询
		api.POST("/reports", s.generateReport)
		api.GET("/reports/:address", s.getReports)

		// 原始交易数据
		api.GET("/transactions/:address", s.getTransactions)

		// 配置
		api.GET("/config", s.getConfig)

		// 统计信息
		api.GET("/stats", s.getStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		// 数据库配置管理，仅在配置了Postgres时可用
		if s.configMgr != nil {
			s.configMgr.RegisterRoutes(api)
		}
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "tokenmetrics-api",
	})
}

// generateRequest 报告生成请求体
type generateRequest struct {
	ContractAddress string        `json:"contractAddress" binding:"required"`
	PreCampaign     models.Period `json:"preCampaign" binding:"required"`
	DuringCampaign  models.Period `json:"duringCampaign" binding:"required"`
	Metric          string        `json:"metric"`   // 为空时返回完整报告
	MaxPages        int           `json:"maxPages"` // 本次请求的分页上限，0时使用配置默认值
}

// generateReport 生成活动对比分析报告
func (s *Server) generateReport(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}

	if err := s.validator.ValidateContractAddress(req.ContractAddress); err != nil {
		s.failRequest(c, http.StatusBadRequest, err)
		return
	}
	if err := s.validator.ValidatePeriods(req.PreCampaign, req.DuringCampaign); err != nil {
		s.failRequest(c, http.StatusBadRequest, err)
		return
	}
	if req.Metric != "" {
		if err := s.validator.ValidateMetric(req.Metric); err != nil {
			s.failRequest(c, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.validator.ValidateMaxPages(req.MaxPages); err != nil {
		s.failRequest(c, http.StatusBadRequest, err)
		return
	}

	assembleReq := &report.Request{
		ContractAddress: req.ContractAddress,
		PreCampaign:     req.PreCampaign,
		DuringCampaign:  req.DuringCampaign,
		MaxPages:        req.MaxPages,
	}

	generated, err := s.assembler.Generate(c.Request.Context(), assembleReq)
	if err != nil {
		s.failRequest(c, statusForError(err), err)
		return
	}

	// 持久化与外部输出失败只告警，报告照常返回
	if s.store != nil {
		if err := s.store.Save(generated); err != nil {
			s.logger.Warnf("保存报告失败: %v", err)
		}
	}
	if s.sink != nil {
		if err := s.sink.WriteReport(generated); err != nil {
			s.logger.Warnf("输出报告失败: %v", err)
		}
	}

	if req.Metric != "" {
		c.JSON(http.StatusOK, report.FilterMetric(generated, req.Metric))
		return
	}
	c.JSON(http.StatusOK, generated)
}

// getReports 查询某合约已生成的报告
//
// 四个窗口参数(preFrom/preTo/duringFrom/duringTo)齐全时按时间窗口精确查询，
// from/to按报告覆盖的时间范围过滤，latest=true只返回最近更新的一份
func (s *Server) getReports(c *gin.Context) {
	address := c.Param("address")
	if err := s.validator.ValidateContractAddress(address); err != nil {
		s.failRequest(c, http.StatusBadRequest, err)
		return
	}

	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报告存储未启用"})
		return
	}

	if c.Query("preFrom") != "" || c.Query("preTo") != "" ||
		c.Query("duringFrom") != "" || c.Query("duringTo") != "" {
		periods, err := parseReportPeriods(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "窗口参数错误", "message": err.Error()})
			return
		}

		found, err := s.store.Get(address, periods)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报告失败", "message": err.Error()})
			return
		}
		if found == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "未找到该时间窗口的报告"})
			return
		}
		c.JSON(http.StatusOK, found)
		return
	}

	if c.Query("latest") == "true" {
		latest, err := s.store.GetLatest(address)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报告失败", "message": err.Error()})
			return
		}
		if latest == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "未找到该合约的报告"})
			return
		}
		c.JSON(http.StatusOK, latest)
		return
	}

	reports, err := s.store.List(address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询报告失败", "message": err.Error()})
		return
	}

	reports, err = filterReportsByRange(reports, c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "时间范围参数错误", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contractAddress": address,
		"reports":         reports,
		"total":           len(reports),
	})
}

// getTransactions 抓取某合约指定时间窗口的原始转账数据
func (s *Server) getTransactions(c *gin.Context) {
	address := c.Param("address")
	if err := s.validator.ValidateContractAddress(address); err != nil {
		s.failRequest(c, http.StatusBadRequest, err)
		return
	}

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from参数必须是RFC3339时间"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to参数必须是RFC3339时间"})
		return
	}

	period := models.Period{From: from, To: to}
	if err := s.validator.ValidatePeriod("查询", period); err != nil {
		s.failRequest(c, http.StatusBadRequest, err)
		return
	}

	maxPages := 0
	if raw := c.Query("maxPages"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			maxPages = parsed
		}
	}
	if err := s.validator.ValidateMaxPages(maxPages); err != nil {
		s.failRequest(c, http.StatusBadRequest, err)
		return
	}

	raw, err := s.assembler.FetchRawTransactions(c.Request.Context(), address, period, maxPages)
	if err != nil {
		s.failRequest(c, statusForError(err), err)
		return
	}

	c.JSON(http.StatusOK, raw)
}

// getConfig 获取当前配置
// API密钥不回显
func (s *Server) getConfig(c *gin.Context) {
	etherscan := *s.config.Etherscan
	if etherscan.APIKey != "" {
		etherscan.APIKey = "***"
	}

	c.JSON(http.StatusOK, gin.H{
		"etherscan": gin.H{
			"api_key":         etherscan.APIKey,
			"api_url":         etherscan.APIURL,
			"page_size":       etherscan.PageSize,
			"page_delay":      etherscan.PageDelay,
			"request_timeout": etherscan.RequestTimeout,
		},
		"report": s.config.Report,
		"output": gin.H{
			"format":    s.config.Output.Format,
			"directory": s.config.Output.Directory,
		},
	})
}

// getStats 获取统计信息
func (s *Server) getStats(c *gin.Context) {
	stats := gin.H{
		"uptime": time.Since(s.startTime).String(),
	}

	if s.store != nil {
		if count, err := s.store.Count(); err == nil {
			stats["stored_reports"] = count
		}
	}

	s.mu.Lock()
	stats["total_errors"] = s.errorStats.TotalErrors
	if s.errorStats.LastError != nil {
		stats["last_error"] = s.errorStats.LastError.Message
		stats["last_error_time"] = s.errorStats.LastErrorTime.Format(time.RFC3339)
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, stats)
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if raw := c.Query("page"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			page = p
		}
	}

	pageSize := 20
	if raw := c.Query("pageSize"); raw != "" {
		if ps, err := strconv.Atoi(raw); err == nil && ps > 0 {
			pageSize = ps
		}
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}

// parseReportPeriods 解析精确查询所需的四个窗口参数
func parseReportPeriods(c *gin.Context) (models.CampaignPeriods, error) {
	var periods models.CampaignPeriods
	fields := []struct {
		name string
		dst  *time.Time
	}{
		{"preFrom", &periods.PreCampaign.From},
		{"preTo", &periods.PreCampaign.To},
		{"duringFrom", &periods.DuringCampaign.From},
		{"duringTo", &periods.DuringCampaign.To},
	}

	for _, field := range fields {
		raw := c.Query(field.name)
		if raw == "" {
			return periods, fmt.Errorf("缺少%s参数，精确查询需要四个窗口参数齐全", field.name)
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return periods, fmt.Errorf("%s参数必须是RFC3339时间: %w", field.name, err)
		}
		*field.dst = parsed
	}
	return periods, nil
}

// filterReportsByRange 保留合并区间落在[from, to]内的报告，空参数一侧不限
func filterReportsByRange(reports []*models.CampaignReport, fromStr, toStr string) ([]*models.CampaignReport, error) {
	if fromStr == "" && toStr == "" {
		return reports, nil
	}

	var from, to time.Time
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return nil, fmt.Errorf("from参数必须是RFC3339时间: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return nil, fmt.Errorf("to参数必须是RFC3339时间: %w", err)
		}
	}

	filtered := make([]*models.CampaignReport, 0, len(reports))
	for _, report := range reports {
		period := report.Campaign.Period
		if !from.IsZero() && period.PreCampaign.From.Before(from) {
			continue
		}
		if !to.IsZero() && period.DuringCampaign.To.After(to) {
			continue
		}
		filtered = append(filtered, report)
	}
	return filtered, nil
}

// failRequest 记录错误并返回统一的错误响应
// 提供方返回的原始错误串随detail字段一并透出，便于诊断
func (s *Server) failRequest(c *gin.Context, status int, err error) {
	var metricsErr *metricserrors.MetricsError
	if stderrors.As(err, &metricsErr) {
		s.mu.Lock()
		s.errorStats.RecordError(metricsErr)
		s.mu.Unlock()

		body := gin.H{
			"error":   metricsErr.Code,
			"message": metricsErr.Message,
		}
		if metricsErr.Detail != "" {
			body["detail"] = metricsErr.Detail
		}
		c.JSON(status, body)
		return
	}

	c.JSON(status, gin.H{"error": "INTERNAL_ERROR", "message": err.Error()})
}

// statusForError 错误类型到HTTP状态码的映射
func statusForError(err error) int {
	var metricsErr *metricserrors.MetricsError
	if !stderrors.As(err, &metricsErr) {
		return http.StatusInternalServerError
	}

	switch metricsErr.Type {
	case metricserrors.ErrorTypeValidation, metricserrors.ErrorTypeInvalidContract:
		return http.StatusBadRequest
	case metricserrors.ErrorTypeInvalidAPIKey:
		return http.StatusUnauthorized
	case metricserrors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case metricserrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
