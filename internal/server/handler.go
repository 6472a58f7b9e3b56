package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Dispatcher 把被拦截的请求交给当前控制者（或直接透传）。
type Dispatcher interface {
	Fetch(ctx context.Context, req *fetch.Request) (strategy.Result, error)
}

// Handler 将 Fiber 请求转换为 fetch.Request，交给 Dispatcher，并把结果写回客户端。
type Handler struct {
	dispatcher Dispatcher
	logger     *logrus.Logger
}

// NewHandler constructs a proxy handler; both arguments are required.
func NewHandler(dispatcher Dispatcher, logger *logrus.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// Handle 实现 ProxyHandler，任何 panic 都被转换为 500 JSON 响应。
func (h *Handler) Handle(c fiber.Ctx) (err error) {
	started := time.Now()
	requestID := RequestID(c)
	req := buildRequest(c)

	defer func() {
		if r := recover(); r != nil {
			h.logFailure(req, requestID, "handler_panic", fmt.Errorf("panic: %v", r))
			err = writeError(c, fiber.StatusInternalServerError, "handler_panic")
		}
	}()

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	res, fetchErr := h.dispatcher.Fetch(ctx, req)
	if fetchErr != nil {
		status, code := errorStatus(fetchErr)
		setStrategyHeaders(c, res)
		h.logResult(req, res, requestID, status, started, fetchErr)
		return writeError(c, status, code)
	}
	if res.Entry == nil {
		setStrategyHeaders(c, res)
		h.logResult(req, res, requestID, fiber.StatusGatewayTimeout, started, strategy.ErrNoResponse)
		return writeError(c, fiber.StatusGatewayTimeout, "offline_unavailable")
	}

	writeEntry(c, res, req.Method == http.MethodHead)
	h.logResult(req, res, requestID, res.Entry.Status, started, nil)
	return nil
}

// buildRequest 提取方法、路径、查询串、头部与导航意图。
func buildRequest(c fiber.Ctx) *fetch.Request {
	uri := c.Request().URI()
	req := &fetch.Request{
		Method:   c.Method(),
		Path:     string(uri.Path()),
		RawQuery: string(uri.QueryString()),
		Header:   fiberHeadersAsHTTP(c),
	}
	if !req.Interceptable() {
		req.Body = append([]byte(nil), c.Body()...)
	}
	req.Navigate = isNavigation(req)
	return req
}

// isNavigation 优先依据 Sec-Fetch-Mode；缺少 Fetch Metadata 时，Accept 含 text/html 的 GET 视为导航。
func isNavigation(req *fetch.Request) bool {
	if mode := strings.TrimSpace(req.Header.Get("Sec-Fetch-Mode")); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if req.Method != http.MethodGet {
		return false
	}
	return strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func writeEntry(c fiber.Ctx, res strategy.Result, head bool) {
	entry := res.Entry
	for key, values := range entry.Header {
		if fetch.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	setStrategyHeaders(c, res)

	status := entry.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)
	if head {
		c.Response().Header.Set(fiber.HeaderContentLength, strconv.Itoa(len(entry.Body)))
		c.Response().SkipBody = true
		return
	}
	c.Response().SetBody(entry.Body)
}

func setStrategyHeaders(c fiber.Ctx, res strategy.Result) {
	if res.Kind != "" {
		c.Set("X-Shellcache-Strategy", string(res.Kind))
	}
	c.Set("X-Shellcache-Cache-Hit", strconv.FormatBool(res.FromCache))
	if res.Generation != "" {
		c.Set("X-Shellcache-Generation", res.Generation)
	}
}

// errorStatus 将策略错误映射为 HTTP 状态码与错误码。
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, strategy.ErrNoResponse):
		return fiber.StatusGatewayTimeout, "offline_unavailable"
	case errors.Is(err, strategy.ErrNetwork):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "request_cancelled"
	default:
		return fiber.StatusInternalServerError, "proxy_failed"
	}
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req *fetch.Request, res strategy.Result, requestID string, status int, started time.Time, err error) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(res.Generation, string(res.Kind), res.Key, res.FromCache)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["path"] = req.Path
	fields["navigate"] = req.Navigate
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		h.logger.WithFields(fields).Warn(err.Error())
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func (h *Handler) logFailure(req *fetch.Request, requestID, code string, err error) {
	if h.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action": "proxy",
		"error":  code,
		"path":   req.Path,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Error(err.Error())
}
