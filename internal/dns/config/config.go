package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log LoggingConfig `koanf:"log" validate:"required"`

	Resolver ResolverConfig `koanf:"resolver" validate:"required"`

	Blocklist BlocklistConfig `koanf:"blocklist" validate:"required"`
}

type CacheConfig struct {
	// LRU cache size, 0 to disable
	Size int `koanf:"size" validate:"gte=0"`
}

type LoggingConfig struct {
	// Level defines the logging level: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type ResolverConfig struct {
	// ZoneDirectory is the directory where zone files are located.
	// default: /etc/rr-dns/zone.d/
	ZoneDirectory string `koanf:"zones" validate:"required"`

	// Upstream is a list of upstream DNS servers in ip:port format.
	// default: 1.1.1.1:53, 1.0.0.1:53
	Upstream []string `koanf:"upstream" validate:"required,dive,ip_port"`

	// MaxRecursion limits in-zone CNAME (or future alias) chase depth.
	// Prevents infinite loops; 0 or negative will be rejected by validation (must be >=1).
	// default: 8
	MaxRecursion int `koanf:"depth" validate:"required,gte=1"`

	// Port is the network port the DNS server will bind to.
	// default: 53
	Port int `koanf:"port" validate:"required,gte=1,lte=65535"`

	// Upstream cache configuration (size 0 disables cache)
	Cache CacheConfig `koanf:"cache"`

	// BlockNonFQDN returns NXDOMAIN for single-label queries before they
	// ever reach an upstream.
	// default: true
	BlockNonFQDN bool `koanf:"block_non_fqdn"`

	// BlockPrivatePTR returns NXDOMAIN for PTR queries against RFC1918,
	// link-local, and ULA address space before they ever reach an upstream.
	// default: true
	BlockPrivatePTR bool `koanf:"block_private_ptr"`

	// ConditionalForwards routes queries under a configured suffix to a
	// dedicated upstream server, bypassing the normal upstream pool.
	// default: none
	ConditionalForwards []ConditionalForwardConfig `koanf:"conditional_forwards" validate:"omitempty,dive"`

	// ClientTracking enables the last-seen-client side channel.
	// default: true
	ClientTracking bool `koanf:"client_tracking"`

	// Maintenance tunes the background cache-maintenance loop (refresh,
	// compaction, stale revalidation).
	Maintenance MaintenanceConfig `koanf:"maintenance" validate:"required"`

	// Dnssec enables chain-of-trust validation of upstream answers.
	Dnssec DnssecConfig `koanf:"dnssec" validate:"required"`
}

type MaintenanceConfig struct {
	// RefreshIntervalSeconds is how often the cache-maintenance refresh
	// cycle scans for stale-but-usable entries to revalidate. Kept as a
	// plain int (seconds), matching the rest of this config's duration-ish
	// fields (sinkhole TTL), rather than time.Duration, since
	// the env loader has no duration-string decode hook registered.
	// default: 30
	RefreshIntervalSeconds int `koanf:"refresh_interval_seconds" validate:"required,gte=1"`

	// CompactIntervalSeconds is how often the compaction cycle scans L2 for
	// hard-expired or marked-for-deletion entries.
	// default: 300
	CompactIntervalSeconds int `koanf:"compact_interval_seconds" validate:"required,gte=1"`

	// RefreshLimit caps how many refresh candidates one cycle processes.
	// default: 100
	RefreshLimit int `koanf:"refresh_limit" validate:"required,gte=1"`

	// EvictHighWater is the entry count at/above which a refresh cycle runs
	// batch eviction immediately instead of waiting on the probabilistic
	// sampler alone. 0 or unset falls back to the maintenance service's own
	// default (90000).
	// default: 0
	EvictHighWater int `koanf:"evict_high_water" validate:"gte=0"`
}

type DnssecConfig struct {
	// Enabled turns on chain-of-trust validation for upstream answers and
	// for the maintenance refresh loop's revalidation passes.
	// default: false
	Enabled bool `koanf:"enabled"`

	// TrustAnchors seeds chain validation with an out-of-band-verified DS
	// record per zone (ordinarily just the root, ".").
	// default: none
	TrustAnchors []TrustAnchorConfig `koanf:"trust_anchors" validate:"omitempty,dive"`
}

type TrustAnchorConfig struct {
	// Zone is the anchor's owner zone, e.g. "." for the root.
	Zone string `koanf:"zone" validate:"required"`
	// KeyTag, Algorithm, DigestType, Digest mirror RFC4034 DS rdata fields
	// for the anchor, out-of-band verified by the operator.
	KeyTag     uint16 `koanf:"key_tag" validate:"required"`
	Algorithm  uint8  `koanf:"algorithm" validate:"required"`
	DigestType uint8  `koanf:"digest_type" validate:"required"`
	Digest     string `koanf:"digest" validate:"required"`
}

type ConditionalForwardConfig struct {
	// Suffix is the domain suffix this rule matches, e.g. "corp.example.".
	Suffix string `koanf:"suffix" validate:"required"`
	// Upstream is the dedicated server in ip:port format.
	Upstream string `koanf:"upstream" validate:"required,ip_port"`
}

type BlocklistConfig struct {
	// the local path to the directory holding blocklist files
	// default: /etc/rr-dns/blocklist.d/
	Directory string `koanf:"dir" validate:"required"`

	// URLs is a list of blocklist URLs to fetch and update the local blocklist.
	// default: none
	URLs []string `koanf:"urls" validate:"omitempty,dive,url"`

	// LRU Cache Config (size 0 disables cache)
	Cache CacheConfig `koanf:"cache"`

	// Database file path for badgerDB
	DB string `koanf:"db" validate:"required"`

	// Blocking strategy
	Strategy string `koanf:"strategy" validate:"required,oneof=refused nxdomain sinkhole"`

	// required sinkhole target if strategy is sinkhole
	Sinkhole *SinkholeOptions `koanf:"sinkhole" validate:"required_if=Strategy sinkhole"`
}

type SinkholeOptions struct {
	// a list of IP addresses to resolve for the sinkhole, IPv4 or IPv6
	Target []string `koanf:"target" validate:"required,dive,ip"`
	// Time-to-live for sinkhole DNS records
	TTL int `koanf:"ttl" validate:"required,gte=0"`
}

// DEFAULT_APP_CONFIG defines the default application configuration settings for the DNS service.
// It includes default values for cache size, environment, log level, listening port, zone directory,
// and upstream DNS servers.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LoggingConfig{
		Level: "info",
	},
	Resolver: ResolverConfig{
		ZoneDirectory: "/etc/rr-dns/zone.d/",
		Upstream:      []string{"1.1.1.1:53", "1.0.0.1:53"},
		MaxRecursion:  8,
		Port:          53,
		Cache: CacheConfig{
			Size: 1000,
		},
		BlockNonFQDN:    true,
		BlockPrivatePTR: true,
		ClientTracking:  true,
		Maintenance: MaintenanceConfig{
			RefreshIntervalSeconds: 30,
			CompactIntervalSeconds: 300,
			RefreshLimit:           100,
			EvictHighWater:         0,
		},
		Dnssec: DnssecConfig{
			Enabled:      false,
			TrustAnchors: []TrustAnchorConfig{},
		},
	},
	Blocklist: BlocklistConfig{
		Directory: "/etc/rr-dns/blocklist.d/",
		URLs:      []string{},
		Cache: CacheConfig{
			Size: 1000,
		},
		DB:       "/var/lib/rr-dns/blocklist.db",
		Strategy: "refused",
		Sinkhole: nil,
	},
}

// validIPPort validates whether the provided field value is a valid IP address and port combination.
// It expects the value to be in the format "IP:Port". The function returns true if the IP address
// is valid and both the IP and port are non-empty; otherwise, it returns false.
func validIPPort(fl validator.FieldLevel) bool {
	// stringify the field value to get the IP:Port format.
	addr := fl.Field().String()
	// Split the address into IP and port.
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	// Check if the IP address is valid.
	if net.ParseIP(ip) == nil {
		return false
	}
	// Check if the port is a valid number between 1 and 65535.
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// underscoreKeys restores the koanf keys whose own names contain an
// underscore, which the "_" to "." mapping in envLoader would split apart.
var underscoreKeys = strings.NewReplacer(
	"block.non.fqdn", "block_non_fqdn",
	"block.private.ptr", "block_private_ptr",
	"client.tracking", "client_tracking",
	"refresh.interval.seconds", "refresh_interval_seconds",
	"compact.interval.seconds", "compact_interval_seconds",
	"refresh.limit", "refresh_limit",
	"evict.high.water", "evict_high_water",
)

// envLoader is a function that loads environment variables with the prefix "DNS_".
// It transforms the keys to lowercase and removes the prefix, and replaces _ with .
// (except inside the key names listed in underscoreKeys)
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	// Load environment variables with prefix "DNS_".
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "DNS_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, "DNS_")), "_", ".")
			key = underscoreKeys.Replace(key)
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads default configuration values into the provided Koanf instance
// using the structs provider and the DEFAULT_APP_CONFIG struct. It returns an error
// if loading fails.
var defaultLoader = func(k *koanf.Koanf) error {
	// Load default values using structs provider.
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers a custom validation function "ip_port" with the provided validator.
// It associates the "ip_port" tag with the validIPPort validation logic.
// Returns an error if registration fails.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	// Load default values using structs provider.
	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	// Load environment variables with prefix "DNS_", using koanf/providers/env/v2 and Opt pattern.
	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	// Unmarshal the loaded configuration into AppConfig struct.
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// Validate the configuration.
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Register the custom validation function for IP:Port format.
	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
