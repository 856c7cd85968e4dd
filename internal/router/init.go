package router

import (
	appuser "github.com/oksasatya/user-directory/internal/application"
	"github.com/oksasatya/user-directory/internal/container"
	"github.com/oksasatya/user-directory/internal/infrastructure/cache"
	"github.com/oksasatya/user-directory/internal/infrastructure/search"
	"github.com/oksasatya/user-directory/internal/infrastructure/storage"
	handlers "github.com/oksasatya/user-directory/internal/interface/http"
	"github.com/oksasatya/user-directory/internal/router/modules"
)

type UserModuleDeps struct {
	Service *appuser.Service
	Handler *handlers.UserHandler
}

// BuildUserService assembles the lifecycle service from the container.
// Cache, search and export are attached only when their backends are configured.
func BuildUserService() (*appuser.Service, error) {
	cfg := container.GetConfig()
	logger := container.GetLogger()

	delivery, err := appuser.ParseDeliveryMode(cfg.EventDelivery)
	if err != nil {
		return nil, err
	}
	svc := appuser.NewService(container.UserRepository(), container.GetPublisher(), delivery, logger)

	if rdb := container.GetRedis(); rdb != nil && cfg.UserCacheTTL > 0 {
		svc.Cache = cache.NewViewCache[appuser.UserView](rdb, cfg.UserCacheTTL, logger)
		svc.CacheRedelete = cfg.UserCacheRedelete
	}
	if es := container.GetES(); es != nil {
		svc.Index = search.NewUserIndex(es, cfg.ESUsersIndex)
	}
	if gcs := container.GetGCS(); gcs != nil && cfg.GCSBucket != "" {
		svc.Exporter = storage.NewGCSExporter(gcs, cfg.GCSBucket, cfg.GCSExportPrefix)
	}
	return svc, nil
}

func buildUserDeps() (UserModuleDeps, error) {
	svc, err := BuildUserService()
	if err != nil {
		return UserModuleDeps{}, err
	}
	return UserModuleDeps{
		Service: svc,
		Handler: handlers.NewUserHandler(svc, container.GetLogger()),
	}, nil
}

// InitModules builds every feature module and adds it to the registry.
// Call once during startup, before RegisterAll.
func InitModules(r *Registry) error {
	userDeps, err := buildUserDeps()
	if err != nil {
		return err
	}
	cfg := container.GetConfig()
	r.Add(modules.NewUserModule(userDeps.Handler, container.GetJWT(), container.GetRedis(), cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Add(modules.NewDebugModule(container.GetPGPool(), container.GetRedis(), cfg.DebugMetricsEnabled, cfg.RateLimitRequests, cfg.RateLimitWindow))
	return nil
}
