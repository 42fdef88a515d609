package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

// RouteLabel returns the matched route template, or the raw path when nothing matched.
// The result is detached from fiber's request buffers and safe to keep.
func RouteLabel(c *fiber.Ctx) string {
	route := c.Route().Path
	if route == "" {
		route = c.Path()
	}
	return utils.CopyString(route)
}

// RequestLogger logs each request and feeds the request metrics.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	logger = OrNop(logger)
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		status := c.Response().StatusCode()
		method := utils.CopyString(c.Method())
		metrics.RecordRequest(RouteLabel(c), method, status, elapsed)
		logger.Info("request",
			zap.String("method", method),
			zap.String("path", utils.CopyString(c.Path())),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		)
		return err
	}
}
