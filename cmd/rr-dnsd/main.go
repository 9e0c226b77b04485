package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/haukened/rr-dns/internal/dns/common/clock"
	"github.com/haukened/rr-dns/internal/dns/common/log"
	"github.com/haukened/rr-dns/internal/dns/config"
	"github.com/haukened/rr-dns/internal/dns/domain"
	"github.com/haukened/rr-dns/internal/dns/gateways/transport"
	"github.com/haukened/rr-dns/internal/dns/gateways/upstream"
	"github.com/haukened/rr-dns/internal/dns/gateways/wire"
	"github.com/haukened/rr-dns/internal/dns/ports"
	"github.com/haukened/rr-dns/internal/dns/repos/blocklist"
	"github.com/haukened/rr-dns/internal/dns/repos/blocklist/bloom"
	"github.com/haukened/rr-dns/internal/dns/repos/dnscache"
	"github.com/haukened/rr-dns/internal/dns/repos/zone"
	"github.com/haukened/rr-dns/internal/dns/repos/zonecache"
	"github.com/haukened/rr-dns/internal/dns/services/dnssec"
	"github.com/haukened/rr-dns/internal/dns/services/maintenance"
	"github.com/haukened/rr-dns/internal/dns/services/pool"
	"github.com/haukened/rr-dns/internal/dns/services/resolver"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-dnsd"

	// Default timeouts
	defaultUpstreamTimeout  = 5 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultBlocklistFetch   = 15 * time.Second
	defaultBlocklistFPRate  = 0.01
	defaultBlocklistGroupID = 0
	defaultHealthInterval   = 30 * time.Second
)

// Application holds all the components of the DNS server
type Application struct {
	config        *config.AppConfig
	transport     *transport.UDPTransport
	resolver      *resolver.Resolver
	queryLogger   *resolver.QueryLogger
	clientTracker *resolver.ClientLastSeenTracker
	healthChecker *pool.HealthChecker
	maintenance   *maintenance.Service
	wg            sync.WaitGroup
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":    version,
		"env":        cfg.Env,
		"log_level":  cfg.Log.Level,
		"port":       cfg.Resolver.Port,
		"cache_size": cfg.Resolver.Cache.Size,
		"zone_dir":   cfg.Resolver.ZoneDirectory,
		"servers":    cfg.Resolver.Upstream,
	}, "Starting RR-DNS server")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	// Start the DNS server
	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, "RR-DNS server stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := &clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	// Create DNS wire codec
	codec := wire.NewUDPCodec(logger)

	// Build repository layer
	repos, err := buildRepositories(cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repositories: %w", err)
	}

	// Build gateway layer
	gateways, err := buildGateways(cfg, codec, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateways: %w", err)
	}

	// Build service layer
	aliasResolver := resolver.NewAliasChaser(repos.zoneCache, gateways.upstream, repos.upstreamCache, clk, logger, cfg.Resolver.MaxRecursion)

	queryLogger := resolver.NewQueryLogger(resolver.QueryLoggerOptions{
		Repo:   ports.NoopQueryLogRepository{},
		Logger: logger,
	})

	var clientTracker *resolver.ClientLastSeenTracker
	var clientTrackerSink resolver.ClientTracker
	if cfg.Resolver.ClientTracking {
		clientTracker = resolver.NewClientLastSeenTracker(resolver.ClientTrackerOptions{
			Repo:   ports.NoopClientRepository{},
			Clock:  clk,
			Logger: logger,
		})
		clientTrackerSink = clientTracker
	}

	resolverService := resolver.NewResolver(resolver.ResolverOptions{
		Blocklist:     repos.blocklist,
		Clock:         clk,
		Logger:        logger,
		Upstream:      gateways.upstream,
		UpstreamCache: repos.upstreamCache,
		ZoneCache:     repos.zoneCache,
		AliasResolver: aliasResolver,
		QueryLog:      queryLogger,
		ClientTracker: clientTrackerSink,
		Filters: resolver.QueryFilters{
			BlockNonFQDN:        cfg.Resolver.BlockNonFQDN,
			BlockPrivatePTR:     cfg.Resolver.BlockPrivatePTR,
			ConditionalForwards: gateways.conditionalForwards,
		},
		BlockPolicy: buildBlockPolicy(cfg.Blocklist),
	})

	// Build transport layer
	addr := fmt.Sprintf(":%d", cfg.Resolver.Port)
	udpTransport := transport.NewUDPTransport(addr, codec, logger)

	maintenanceService := buildMaintenanceService(cfg, repos.rawCache, gateways.upstream, queryLogger, clk, logger)

	return &Application{
		config:        cfg,
		transport:     udpTransport,
		resolver:      resolverService,
		queryLogger:   queryLogger,
		clientTracker: clientTracker,
		healthChecker: gateways.healthChecker,
		maintenance:   maintenanceService,
	}, nil
}

// buildDnssecValidator constructs a chain-of-trust validator from the
// configured trust anchors. Returns nil when DNSSEC validation is disabled
// or no anchors are configured, in which case the maintenance service's
// refresh cycle runs without revalidation (§4.5, Indeterminate by default).
func buildDnssecValidator(cfg config.DnssecConfig, upstreamClient resolver.UpstreamClient, clk clock.Clock, logger log.Logger) (*dnssec.Validator, error) {
	if !cfg.Enabled || len(cfg.TrustAnchors) == 0 {
		return nil, nil
	}
	anchors := make([]dnssec.TrustAnchor, 0, len(cfg.TrustAnchors))
	for _, a := range cfg.TrustAnchors {
		anchors = append(anchors, dnssec.TrustAnchor{
			Zone:       a.Zone,
			KeyTag:     a.KeyTag,
			Algorithm:  a.Algorithm,
			DigestType: a.DigestType,
			Digest:     a.Digest,
		})
	}
	validator, err := dnssec.New(dnssec.Options{
		TrustAnchors: anchors,
		Upstream:     upstreamClient,
		Clock:        clk,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build dnssec validator: %w", err)
	}
	log.Info(map[string]any{"anchors": len(anchors)}, "DNSSEC chain validation enabled")
	return validator, nil
}

// buildMaintenanceService wires the cache-maintenance loop (§4.6) to the
// raw two-level cache. Returns nil when caching is disabled, since there is
// nothing to refresh, compact, or revalidate.
func buildMaintenanceService(cfg *config.AppConfig, rawCache *dnscache.Cache, upstreamClient resolver.UpstreamClient, queryLogger *resolver.QueryLogger, clk clock.Clock, logger log.Logger) *maintenance.Service {
	if rawCache == nil {
		return nil
	}
	validator, err := buildDnssecValidator(cfg.Resolver.Dnssec, upstreamClient, clk, logger)
	if err != nil {
		log.Warn(map[string]any{"error": err}, "DNSSEC validator unavailable, maintenance will not revalidate signatures")
	}
	// validator is a concrete *dnssec.Validator; assigning a nil pointer
	// directly to the maintenance.Validator interface field would produce a
	// non-nil interface wrapping a nil pointer, so only wrap it when set.
	var maintenanceValidator maintenance.Validator
	if validator != nil {
		maintenanceValidator = validator
	}
	return maintenance.New(maintenance.Options{
		Cache:           rawCache,
		Upstream:        upstreamClient,
		QueryLog:        queryLogger,
		Validator:       maintenanceValidator,
		DnssecEnabled:   cfg.Resolver.Dnssec.Enabled && validator != nil,
		Clock:           clk,
		Logger:          logger,
		RefreshInterval: time.Duration(cfg.Resolver.Maintenance.RefreshIntervalSeconds) * time.Second,
		CompactInterval: time.Duration(cfg.Resolver.Maintenance.CompactIntervalSeconds) * time.Second,
		QueryTimeout:    defaultUpstreamTimeout,
		RefreshLimit:    cfg.Resolver.Maintenance.RefreshLimit,
		EvictHighWater:  cfg.Resolver.Maintenance.EvictHighWater,
	})
}

// buildBlockPolicy translates the configured blocking strategy and sinkhole
// targets into the response policy HandleQuery applies to blocked queries.
func buildBlockPolicy(cfg config.BlocklistConfig) resolver.BlockResponsePolicy {
	policy := resolver.BlockResponsePolicy{}
	switch cfg.Strategy {
	case "refused":
		policy.Strategy = resolver.BlockStrategyRefused
	case "sinkhole":
		policy.Strategy = resolver.BlockStrategySinkhole
	default:
		policy.Strategy = resolver.BlockStrategyNXDomain
	}
	if cfg.Sinkhole != nil {
		policy.TTL = uint32(cfg.Sinkhole.TTL)
		for _, target := range cfg.Sinkhole.Target {
			ip := net.ParseIP(target)
			if ip == nil {
				continue
			}
			if ip.To4() != nil {
				policy.Sinkhole4 = append(policy.Sinkhole4, ip)
			} else {
				policy.Sinkhole6 = append(policy.Sinkhole6, ip)
			}
		}
	}
	return policy
}

// repositories holds all repository implementations
type repositories struct {
	blocklist     resolver.Blocklist
	upstreamCache resolver.Cache
	// rawCache is the concrete two-level cache backing upstreamCache, kept
	// alongside the narrowed adapter so the maintenance service can drive
	// its refresh/compaction/stale-revalidation hooks directly. Nil when
	// caching is disabled.
	rawCache  *dnscache.Cache
	zoneCache resolver.ZoneCache
}

// gateways holds all gateway implementations
type gateways struct {
	upstream            resolver.UpstreamClient
	conditionalForwards []resolver.ConditionalForward
	healthChecker       *pool.HealthChecker
}

// buildRepositories creates and configures all repository implementations
func buildRepositories(cfg *config.AppConfig, clk clock.Clock, logger log.Logger) (*repositories, error) {
	blocklistRepo, err := buildBlocklistEngine(cfg.Blocklist, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to compile blocklist: %w", err)
	}

	// Create upstream response cache
	var upstreamCache resolver.Cache
	var rawCache *dnscache.Cache
	if cfg.Resolver.Cache.Size <= 0 {
		upstreamCache = nil // No caching
		log.Info(map[string]any{"disabled": true}, "DNS response caching disabled")
	} else {
		backing, err := dnscache.New(dnscache.Options{
			MaxEntries: cfg.Resolver.Cache.Size,
			Clock:      clk,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create upstream cache: %w", err)
		}
		rawCache = backing
		upstreamCache = dnscache.NewCacheAdapter(backing, clk)
		log.Info(map[string]any{
			"type": "two-level",
			"size": cfg.Resolver.Cache.Size,
		}, "DNS response cache configured")
	}

	// Create zone cache
	zoneCache := zonecache.New()

	// load the zone files from the configured directory
	zones, err := zone.LoadZoneDirectory(cfg.Resolver.ZoneDirectory, 300*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to load zone directory: %w", err)
	}

	// load each zone into the zone cache
	for zoneRoot, records := range zones {
		zoneCache.PutZone(zoneRoot, records)
	}

	log.Info(map[string]any{
		"zone_dir": cfg.Resolver.ZoneDirectory,
		"zones":    len(zoneCache.Zones()),
	}, "Zone cache initialized")

	return &repositories{
		blocklist:     blocklistRepo,
		upstreamCache: upstreamCache,
		rawCache:      rawCache,
		zoneCache:     zoneCache,
	}, nil
}

// buildBlocklistEngine discovers blocklist sources from the configured
// directory and URL list, then compiles them into a queryable block index.
// A compile failure on startup is fatal: an operator-configured blocklist
// that can't be read is a configuration error, not something to silently
// run open around.
func buildBlocklistEngine(cfg config.BlocklistConfig, clk clock.Clock, logger log.Logger) (resolver.Blocklist, error) {
	engine := blocklist.NewEngine(clk, bloom.NewFactory())

	sources, err := blocklist.DiscoverSources(cfg.Directory, cfg.URLs, defaultBlocklistGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to discover blocklist sources: %w", err)
	}

	engine.Reload(context.Background(), blocklist.CompileOptions{
		Sources:        sources,
		DefaultGroupID: defaultBlocklistGroupID,
		BloomFPRate:    defaultBlocklistFPRate,
		FetchTimeout:   defaultBlocklistFetch,
		Fetcher:        blocklist.NewHTTPFileFetcher(),
		Logger:         logger,
	})

	log.Info(map[string]any{
		"directory": cfg.Directory,
		"urls":      len(cfg.URLs),
		"sources":   len(sources),
		"strategy":  cfg.Strategy,
	}, "Blocklist compiled")

	return engine, nil
}

// buildGateways creates and configures all gateway implementations. The
// primary upstream path goes through a pool.Manager so a single configured
// server list gets health tracking and a pluggable selection strategy for
// free; conditional-forward rules stay on the flat upstream.Resolver since
// each names exactly one dedicated server.
func buildGateways(cfg *config.AppConfig, codec wire.DNSCodec, clk clock.Clock, logger log.Logger) (*gateways, error) {
	dial := (&net.Dialer{}).DialContext

	endpoints := make([]*pool.Endpoint, 0, len(cfg.Resolver.Upstream))
	for _, server := range cfg.Resolver.Upstream {
		endpoints = append(endpoints, pool.NewEndpoint(pool.NewUDPTransport(server, dial), 1))
	}
	primaryPool := pool.NewPool("primary", pool.StrategySequential, endpoints, clk, logger)
	manager := pool.NewManager([]*pool.Pool{primaryPool}, logger)

	log.Info(map[string]any{
		"servers": cfg.Resolver.Upstream,
		"timeout": defaultUpstreamTimeout,
	}, "Upstream DNS pool configured")

	probe, err := codec.EncodeQuery(mustRootProbeQuestion())
	if err != nil {
		return nil, fmt.Errorf("failed to build health probe query: %w", err)
	}
	healthChecker := pool.NewHealthChecker([]*pool.Pool{primaryPool}, probe, defaultHealthInterval, defaultUpstreamTimeout, logger)

	conditionalForwards, err := buildConditionalForwards(cfg.Resolver.ConditionalForwards, codec)
	if err != nil {
		return nil, fmt.Errorf("failed to configure conditional forwards: %w", err)
	}

	return &gateways{
		upstream:            pool.NewClientAdapter(manager, codec, defaultUpstreamTimeout),
		conditionalForwards: conditionalForwards,
		healthChecker:       healthChecker,
	}, nil
}

// mustRootProbeQuestion builds the minimal well-formed query the health
// checker sends to each endpoint: a root NS lookup, cheap for any resolver
// to answer correctly.
func mustRootProbeQuestion() domain.Question {
	q, err := domain.NewQuestion(1, ".", domain.RRTypeNS, domain.RRClassIN)
	if err != nil {
		panic(fmt.Sprintf("build health probe question: %v", err))
	}
	return q
}

// buildConditionalForwards builds one dedicated upstream client per
// configured suffix rule, bypassing the normal upstream pool entirely for
// names under that suffix (§4.4 conditional_forwarding).
func buildConditionalForwards(rules []config.ConditionalForwardConfig, codec wire.DNSCodec) ([]resolver.ConditionalForward, error) {
	forwards := make([]resolver.ConditionalForward, 0, len(rules))
	for _, rule := range rules {
		client, err := upstream.NewResolver(upstream.Options{
			Servers: []string{rule.Upstream},
			Timeout: defaultUpstreamTimeout,
			Codec:   codec,
		})
		if err != nil {
			return nil, fmt.Errorf("conditional forward %s: %w", rule.Suffix, err)
		}
		forwards = append(forwards, resolver.ConditionalForward{
			Suffix: rule.Suffix,
			Client: upstream.NewClientAdapter(client),
		})
	}
	return forwards, nil
}

// Run starts the DNS server and blocks until context is cancelled
func (app *Application) Run(ctx context.Context) error {
	app.queryLogger.Start(ctx, &app.wg)
	if app.clientTracker != nil {
		app.clientTracker.Start(ctx, &app.wg)
	}
	if app.healthChecker != nil {
		app.healthChecker.Start(ctx, &app.wg)
	}
	if app.maintenance != nil {
		app.maintenance.Start(ctx, &app.wg)
	}

	// Start UDP transport
	if err := app.transport.Start(ctx, app.resolver); err != nil {
		return fmt.Errorf("failed to start UDP transport: %w", err)
	}

	log.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": "UDP",
	}, "DNS server started")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	// Stop transport gracefully
	if err := app.transport.Stop(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during transport shutdown")
	}

	app.queryLogger.Stop()
	if app.clientTracker != nil {
		app.clientTracker.Stop()
	}
	if app.healthChecker != nil {
		app.healthChecker.Stop()
	}
	if app.maintenance != nil {
		app.maintenance.Stop()
	}

	// Wait for shutdown completion or timeout
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}
