// Command objectqld runs the ObjectQL runtime as a standalone HTTP
// server: it loads configuration, builds the driver set, mounts the
// REST, JSON-RPC, operation-envelope, and metadata API adapters onto a
// shared router, and serves until SIGINT/SIGTERM. Grounded on
// cmd/gateway/main.go's mux.Router construction, middleware
// chain ordering, and graceful shutdown via signal.Notify + Server.Shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/drivers/kvdriver"
	"github.com/objectql-dev/objectql/drivers/remote"
	"github.com/objectql-dev/objectql/drivers/sqldriver"
	objmeta "github.com/objectql-dev/objectql/metadata"
	"github.com/objectql-dev/objectql/objectqlauth"
	"github.com/objectql-dev/objectql/objectqlconfig"
	"github.com/objectql-dev/objectql/objectqllog"
	"github.com/objectql-dev/objectql/objectqlmetrics"
	"github.com/objectql-dev/objectql/objectqlmw"
	"github.com/objectql-dev/objectql/pkg/version"
	"github.com/objectql-dev/objectql/runtime"
	"github.com/objectql-dev/objectql/transport/common"
	"github.com/objectql-dev/objectql/transport/envelope"
	"github.com/objectql-dev/objectql/transport/jsonrpc"
	"github.com/objectql-dev/objectql/transport/metadata"
	"github.com/objectql-dev/objectql/transport/rest"
)

func main() {
	ctx := context.Background()
	logger := objectqllog.NewFromEnv("objectqld")

	cfg, err := objectqlconfig.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	drivers, err := buildDrivers(ctx, cfg)
	if err != nil {
		log.Fatalf("build drivers: %v", err)
	}

	rt := runtime.New(drivers, cfg.DefaultDatasource)

	metrics := objectqlmetrics.New("objectqld")
	rt.Metrics = metrics

	for name, def := range cfg.Objects {
		if def.Name == "" {
			def.Name = name
		}
		if err := rt.Registry.RegisterObject(def, "objectqld", objmeta.OwnershipOwn, 0); err != nil {
			log.Fatalf("register object %s: %v", name, err)
		}
	}

	connectRemotes(ctx, rt, cfg, logger)

	router := buildRouter(rt, resolveContextFunc(), metrics, logger)

	port := envDefault("PORT", "8080")
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.WithContext(ctx).Infof("objectqld listening on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.WithContext(ctx).Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithContext(ctx).Errorf("shutdown error: %v", err)
	}
}

// buildRouter assembles the middleware chain and mounts every transport
// adapter, factored out of main so it can be exercised directly by an
// integration test without a live process.
func buildRouter(rt *runtime.Runtime, ctxFunc common.ContextFunc, metrics *objectqlmetrics.Metrics, logger *objectqllog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(objectqlmw.Logging(logger))
	router.Use(objectqlmw.Recovery(logger))
	router.Use(metrics.HTTPMiddleware("objectqld"))
	router.Use(objectqlmw.SecurityHeaders)
	router.Use(objectqlmw.CORS(objectqlmw.CORSConfig{
		AllowedOrigins: objectqlmw.ParseOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}))
	router.Use(objectqlmw.BodyLimit(0))
	router.Use(objectqlmw.RateLimit(objectqlmw.NewRateLimiter(rateLimitPerSecond(), rateLimitBurst())))

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", healthHandler()).Methods(http.MethodGet)
	router.HandleFunc("/ready", readyHandler(rt)).Methods(http.MethodGet)
	router.HandleFunc("/version", versionHandler()).Methods(http.MethodGet)

	rest.New(rt, ctxFunc).Mount(router, "/api/data")
	metadata.New(rt.Registry).Mount(router, "/api/metadata")
	router.Handle("/api/objectql", envelope.New(rt, ctxFunc)).Methods(http.MethodPost)
	router.Handle("/api/rpc", jsonrpc.New(rt, ctxFunc)).Methods(http.MethodPost)
	return router
}

// buildDrivers constructs one driver.Driver per configured datasource.
func buildDrivers(ctx context.Context, cfg *objectqlconfig.Config) (map[string]driver.Driver, error) {
	drivers := make(map[string]driver.Driver, len(cfg.Datasources))
	for name, ds := range cfg.Datasources {
		var d driver.Driver
		var err error
		switch ds.Kind {
		case objectqlconfig.DatasourcePostgres:
			d, err = sqldriver.Open(ctx, ds.DSN)
		case objectqlconfig.DatasourceRedis:
			d, err = kvdriver.Open(ctx, ds.Addr, ds.Password, ds.DB)
		default:
			d = driver.NewMemoryDriver()
		}
		if err != nil {
			return nil, err
		}
		if err := d.Connect(ctx); err != nil {
			return nil, err
		}
		drivers[name] = d
	}
	return drivers, nil
}

// connectRemotes dials every configured federation target, mounting its
// catalog into rt.Registry and registering it as a datasource named
// "remote:"+baseURL, then starts a periodic metadata refresh if
// OBJECTQL_REMOTE_REFRESH_CRON is set.
func connectRemotes(ctx context.Context, rt *runtime.Runtime, cfg *objectqlconfig.Config, logger *objectqllog.Logger) {
	refreshCron := strings.TrimSpace(os.Getenv("OBJECTQL_REMOTE_REFRESH_CRON"))
	for _, baseURL := range cfg.Remotes {
		d := remote.New(baseURL, rt.Registry)
		if err := d.Connect(ctx); err != nil {
			logger.WithContext(ctx).Errorf("could not connect to remote %s: %v", baseURL, err)
			continue
		}
		rt.RegisterDriver(d.Datasource(), d)
		if refreshCron != "" {
			if _, err := d.StartPeriodicRefresh(ctx, refreshCron, func(err error) {
				logger.WithContext(ctx).Errorf("periodic refresh of %s failed: %v", baseURL, err)
			}); err != nil {
				logger.WithContext(ctx).Errorf("could not schedule refresh for %s: %v", baseURL, err)
			}
		}
	}
}

// resolveContextFunc picks the JWT-backed ContextFunc when OBJECTQL_JWT_SECRET
// is set, falling back to the header-based dev context otherwise.
func resolveContextFunc() common.ContextFunc {
	secret := strings.TrimSpace(os.Getenv("OBJECTQL_JWT_SECRET"))
	if secret == "" {
		return common.DevContextFunc
	}
	issuer := objectqlauth.NewIssuer([]byte(secret), 0)
	return issuer.ContextFunc()
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		common.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// readyHandler checks every registered driver's CheckHealth, mirroring
// readyHandler(db, m) pattern of probing dependencies
// rather than just reporting the process is up.
func readyHandler(rt *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := rt.CheckHealth(ctx); err != nil {
			common.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		common.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func versionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		common.WriteJSON(w, http.StatusOK, map[string]string{"version": version.FullVersion()})
	}
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// rateLimitPerSecond and rateLimitBurst read RATE_LIMIT_RPS/RATE_LIMIT_BURST,
// defaulting to a generous budget so the limiter never trips an unconfigured
// deployment.
func rateLimitPerSecond() float64 {
	v, err := strconv.ParseFloat(envDefault("RATE_LIMIT_RPS", "50"), 64)
	if err != nil || v <= 0 {
		return 50
	}
	return v
}

func rateLimitBurst() int {
	v, err := strconv.Atoi(envDefault("RATE_LIMIT_BURST", "100"))
	if err != nil || v <= 0 {
		return 100
	}
	return v
}
