package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/edgemesh/core/pkg/anomaly"
	"github.com/edgemesh/core/pkg/cache"
	"github.com/edgemesh/core/pkg/circuitbreaker"
	"github.com/edgemesh/core/pkg/config"
	"github.com/edgemesh/core/pkg/consensus"
	"github.com/edgemesh/core/pkg/correlation"
	"github.com/edgemesh/core/pkg/emergency"
	"github.com/edgemesh/core/pkg/facade"
	"github.com/edgemesh/core/pkg/health"
	"github.com/edgemesh/core/pkg/loadbalancer"
	"github.com/edgemesh/core/pkg/logging"
	"github.com/edgemesh/core/pkg/observability"
	"github.com/edgemesh/core/pkg/ratelimit"
	"github.com/edgemesh/core/pkg/replica"
	"github.com/edgemesh/core/pkg/store"
	"github.com/edgemesh/core/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Start the coordinator's HTTP server",
	Long:  `Loads configuration, wires every component, and serves the observability and facade-mediated request surfaces until a shutdown trigger fires.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return configError(fmt.Errorf("load config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return configError(fmt.Errorf("invalid config: %w", err))
	}

	logLevel := logging.Level(cfg.Service.LogLevel)
	if verbose {
		logLevel = logging.LevelDebug
	}
	log := logging.New(logging.Config{
		Level:       logLevel,
		Format:      logging.Format(cfg.Service.LogFormat),
		ServiceName: cfg.Service.Name,
		Environment: cfg.Service.Environment,
	})
	log.Info("coordinator starting", "version", version)

	kvStore, err := openStore(cfg.Store)
	if err != nil {
		return dependencyError(fmt.Errorf("open shared store: %w", err))
	}

	replicas, err := openReplicas(cfg.Database, log)
	if err != nil {
		return dependencyError(fmt.Errorf("open database connections: %w", err))
	}
	if replicas != nil {
		replicas.StartProbing(context.Background(), cfg.Database.ProbeInterval)
	}

	edgeCache, err := cache.New(cache.Config{
		EdgeCapacity:     cfg.Cache.EdgeCapacity,
		RegionalBytes:    cfg.Cache.RegionalBytes,
		OriginPath:       cfg.Cache.OriginPath,
		DefaultTTL:       cfg.Cache.DefaultTTL,
		CompressMinBytes: cfg.Cache.CompressMinBytes,
	}, log)
	if err != nil {
		return dependencyError(fmt.Errorf("open cache: %w", err))
	}
	defer edgeCache.Close()

	balancer := buildBalancer(cfg, log)

	breakers := circuitbreaker.NewRegistry(func(name string) circuitbreaker.Config {
		c := circuitbreaker.DefaultConfig(name)
		if cfg.Breaker.FailureThreshold > 0 {
			c.FailureThreshold = cfg.Breaker.FailureThreshold
		}
		if cfg.Breaker.FailureRate > 0 {
			c.FailureRate = cfg.Breaker.FailureRate
		}
		if cfg.Breaker.Window > 0 {
			c.Window = cfg.Breaker.Window
		}
		if cfg.Breaker.SuccessThreshold > 0 {
			c.SuccessThreshold = cfg.Breaker.SuccessThreshold
		}
		if cfg.Breaker.ResetTimeout > 0 {
			c.ResetTimeout = cfg.Breaker.ResetTimeout
		}
		if cfg.Breaker.MaxJitter > 0 {
			c.MaxJitter = cfg.Breaker.MaxJitter
		}
		if cfg.Breaker.CallTimeout > 0 {
			c.CallTimeout = cfg.Breaker.CallTimeout
		}
		return c
	})

	limiter := ratelimit.New(ratelimit.Config{
		Default: ratelimit.Rule{RequestsPerSecond: cfg.RateLimit.RequestsPerSecond, Burst: cfg.RateLimit.Burst},
		FailClosed: cfg.Store.FailClosed,
	}, kvStore, log)

	correlationMgr := correlation.NewManager(context.Background(), correlation.DefaultStoreConfig())

	alertHistory := anomaly.NewHistory(1000)
	anomalyEngine := anomaly.NewEngine(func(a anomaly.Alert) {
		alertHistory.Record(a)
		log.Warn("anomaly detected", "metric", a.MetricName, "severity", string(a.Severity))
	})

	ctx := context.Background()
	tel, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:  cfg.Service.Name,
		Environment:  cfg.Service.Environment,
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		Sampler: telemetry.SamplerConfig{
			BaseRate:               cfg.Tracing.SamplingRate,
			ErrorRate:              cfg.Tracing.ErrorSampleRate,
			HighLatencyRate:        cfg.Tracing.HighLatencySampleRate,
			HighLatencyThresholdMS: float64(cfg.Tracing.HighLatencyThreshold.Milliseconds()),
		},
	})
	if err != nil {
		return dependencyError(fmt.Errorf("init telemetry: %w", err))
	}

	healthAgg := health.New(health.Config{}, log)
	registerHealthChecks(healthAgg, replicas, kvStore)

	consensusEngine := consensus.New(consensus.Config{}, log)

	fc := facade.New(facade.Deps{
		Correlation: correlationMgr,
		Limiter:     limiter,
		Breakers:    breakers,
		Replicas:    replicas,
		Cache:       edgeCache,
		Balancer:    balancer,
		Consensus:   consensusEngine,
		Anomaly:     anomalyEngine,
		Telemetry:   tel,
		Log:         log,
	})
	fc.StartBackgroundWork(ctx)

	obsRouter := observability.NewRouter(observability.Deps{
		Breakers:    breakers,
		RateLimiter: limiter,
		Replicas:    replicas,
		Cache:       edgeCache,
		Balancer:    balancer,
		Consensus:   consensusEngine,
		Health:      healthAgg,
		Correlation: correlationMgr,
		Alerts:      alertHistory,
		Telemetry:   tel,
		AdminToken:  cfg.Admin.AuthToken,
	})

	server := &http.Server{Addr: cfg.Service.ListenAddr, Handler: obsRouter}

	shutdown := emergency.New(emergency.Config{EnableSignalHandlers: true}, log)
	shutdown.OnStop(func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), facade.ShutdownTimeout)
		defer cancel()
		if err := fc.Shutdown(drainCtx); err != nil {
			log.Warn("facade shutdown did not complete cleanly", "error", err.Error())
		}
		if err := server.Shutdown(drainCtx); err != nil {
			log.Warn("http server shutdown did not complete cleanly", "error", err.Error())
		}
	})
	shutdown.Start(ctx)

	log.Info("coordinator listening", "addr", cfg.Service.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.RedisURL == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewRedisStore(cfg.RedisURL)
}

func openReplicas(cfg config.DatabaseConfig, log *logging.Logger) (*replica.Router, error) {
	if cfg.PrimaryURL == "" {
		return nil, nil
	}
	primary, err := sql.Open("pgx", cfg.PrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("open primary: %w", err)
	}

	replicas := make(map[string]*sql.DB, len(cfg.ReplicaURLs))
	for i, url := range cfg.ReplicaURLs {
		db, err := sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("open replica %d: %w", i, err)
		}
		replicas[fmt.Sprintf("replica-%d", i)] = db
	}

	return replica.New(replica.Config{Primary: primary, Replicas: replicas}, log), nil
}

func buildBalancer(cfg *config.Config, log *logging.Logger) *loadbalancer.Balancer {
	if len(cfg.Regions) == 0 {
		return nil
	}
	regions := make([]*loadbalancer.Region, 0, len(cfg.Regions))
	for _, r := range cfg.Regions {
		region := loadbalancer.NewRegion(r.Code, r.Name, r.Latitude, r.Longitude, r.CapacityRPS, r.CostPerMillion, r.Endpoints)
		region.Active = r.Active
		regions = append(regions, region)
	}
	return loadbalancer.New(loadbalancer.Config{
		Policy:           loadbalancer.Policy(strings.ToLower(cfg.Routing.Policy)),
		HealthCheckPath:  cfg.Routing.HealthCheckPath,
		HealthInterval:   cfg.Routing.HealthInterval,
		HealthTimeout:    cfg.Routing.HealthTimeout,
		DNSTTL:           cfg.Routing.DNSTTL,
		RoutingCacheSize: cfg.Routing.RoutingCacheSize,
		GeoIPPath:        cfg.GeoIP.DBPath,
	}, regions, log)
}

func registerHealthChecks(agg *health.Aggregator, replicas *replica.Router, kvStore store.Store) {
	if replicas != nil {
		agg.Register("replica", func(ctx context.Context) health.ComponentHealth {
			if _, err := replicas.Writer(); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusHealthy}
		})
	}
	agg.Register("store", func(ctx context.Context) health.ComponentHealth {
		if _, err := kvStore.Incr(ctx, "health:ping", time.Minute); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusHealthy}
	})
}
