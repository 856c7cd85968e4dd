package modules

import (
	"context"
	"expvar"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/user-directory/internal/interface/middleware"
	"github.com/oksasatya/user-directory/pkg/helpers"
	"github.com/oksasatya/user-directory/pkg/response"
)

// DebugModule serves liveness and, when enabled, expvar counters. The counters
// share the API's per-IP budget, keyed on their own route.
type DebugModule struct {
	pool       *pgxpool.Pool
	rdb        *redis.Client
	metrics    bool
	rateMax    int
	rateWindow time.Duration
}

func NewDebugModule(pool *pgxpool.Pool, rdb *redis.Client, metrics bool, rateMax int, rateWindow time.Duration) *DebugModule {
	return &DebugModule{pool: pool, rdb: rdb, metrics: metrics, rateMax: rateMax, rateWindow: rateWindow}
}

func (m *DebugModule) varsLimit() middleware.Limit {
	return middleware.Limit{Max: m.rateMax, Window: m.rateWindow, Key: middleware.KeyByIPAndPath()}
}

func (m *DebugModule) Name() string { return "debug" }

func (m *DebugModule) Register(rg *gin.RouterGroup) {
	rg.GET("/healthz", m.health)
	if m.metrics {
		rg.GET("/debug/vars", middleware.RateLimit(m.rdb, m.varsLimit()), gin.WrapH(expvar.Handler()))
	}
}

// health reports 503 when the record store is unreachable. Redis is reported
// but not required.
func (m *DebugModule) health(c *gin.Context) {
	ctx := c.Request.Context()
	checks := map[string]string{"store": "memory"}
	status := http.StatusOK

	if m.pool != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := m.pool.Ping(pctx)
		cancel()
		checks["store"] = "ok"
		if err != nil {
			checks["store"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if m.rdb != nil {
		checks["redis"] = "ok"
		if err := helpers.PingRedis(ctx, m.rdb); err != nil {
			checks["redis"] = err.Error()
		}
	}

	if status != http.StatusOK {
		response.Error[any](c, status, "unhealthy", checks)
		return
	}
	response.Success(c, status, checks, "ok", nil)
}
