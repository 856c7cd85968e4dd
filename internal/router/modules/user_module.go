package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	handlers "github.com/oksasatya/user-directory/internal/interface/http"
	"github.com/oksasatya/user-directory/internal/interface/middleware"
	"github.com/oksasatya/user-directory/pkg/helpers"
)

// UserModule routes the directory under the given group (usually /api).
// Reads are public; writes need a bearer token with the users:write scope.
type UserModule struct {
	Handler *handlers.UserHandler
	JWT     *helpers.JWTManager

	rdb        *redis.Client
	rateMax    int
	rateWindow time.Duration
}

func NewUserModule(h *handlers.UserHandler, jwt *helpers.JWTManager, rdb *redis.Client, rateMax int, rateWindow time.Duration) *UserModule {
	return &UserModule{Handler: h, JWT: jwt, rdb: rdb, rateMax: rateMax, rateWindow: rateWindow}
}

func (m *UserModule) limit(key middleware.KeyFunc, allow middleware.AllowFunc) middleware.Limit {
	return middleware.Limit{Max: m.rateMax, Window: m.rateWindow, Key: key, Allow: allow}
}

func (m *UserModule) Name() string { return "users" }

func (m *UserModule) Register(rg *gin.RouterGroup) {
	users := rg.Group("/users")
	users.Use(middleware.RateLimit(m.rdb, m.limit(middleware.KeyByIP(), middleware.AllowPrivateIP())))

	users.GET("", m.Handler.List)
	// search hits Elasticsearch; it gets a bucket of its own on top of the shared one
	users.GET("/search", middleware.RateLimit(m.rdb, m.limit(middleware.KeyByIPAndPath(), nil)), m.Handler.Search)
	users.GET("/by-email/:email", m.Handler.GetByEmail)
	users.GET("/:id", m.Handler.GetByID)

	write := users.Group("")
	write.Use(
		middleware.Auth(m.JWT, helpers.ScopeUsersWrite),
		middleware.RateLimit(m.rdb, m.limit(middleware.KeyBySubject(), nil)),
	)
	{
		write.POST("", m.Handler.Create)
		write.PUT("/:id", m.Handler.Update)
		write.DELETE("/:id", m.Handler.Delete)
		write.POST("/export", m.Handler.Export)
	}
}
