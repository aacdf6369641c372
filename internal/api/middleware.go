package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"yield-garden/internal/observability/metrics"
	"yield-garden/pkg/logger"
)

// AdminKeyHeader 携带管理员密钥。
const AdminKeyHeader = "X-Admin-Key"

// recovery 将 panic 转换为 500 响应。
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Named("api").ErrorContext(c.Request.Context(), "panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				fail(c, http.StatusInternalServerError, fmt.Sprint(err))
			}
		}()
		c.Next()
	}
}

// cors 回显允许的 Origin；列表包含 "*" 时允许任意来源。
func cors(origins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		_, listed := allowed[origin]
		switch {
		case origin == "" && allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && (allowAll || listed):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+AdminKeyHeader)
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// observe 记录请求延迟与状态码，并按状态分级写访问日志。
func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(route, c.Request.Method, status, latency)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		log := logger.Named("api")
		ctx := c.Request.Context()
		switch {
		case status >= 500:
			log.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			log.WarnContext(ctx, "request error", attrs...)
		default:
			log.DebugContext(ctx, "request", attrs...)
		}
	}
}

// requireAdminKey 保护管理接口；未配置密钥时一律拒绝。
func requireAdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			fail(c, http.StatusForbidden, "admin api disabled")
			return
		}
		provided := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			fail(c, http.StatusUnauthorized, "invalid admin key")
			return
		}
		c.Next()
	}
}
