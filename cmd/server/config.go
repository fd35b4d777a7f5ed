package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"shelfshare/internal/access"
	"shelfshare/internal/api"
	"shelfshare/internal/search"
	"shelfshare/internal/serverutil"
)

const envPrefix = "SHELFSHARE_"

const (
	driverJSON     = "json"
	driverPostgres = "postgres"
	grantsStorage  = "storage"
	grantsRedis    = "redis"
)

type postgresConfig struct {
	DSN             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdle     time.Duration
	HealthInterval  time.Duration
	AcquireTimeout  time.Duration
	AppName         string
	Migrate         bool
}

type redisConfig struct {
	Addr       string
	Addrs      []string
	Username   string
	Password   string
	DB         int
	KeyPrefix  string
	Timeout    time.Duration
	MasterName string
	PoolSize   int
	TLS        access.RedisTLSConfig
}

type jwtConfig struct {
	Secret   string
	Issuer   string
	Lifetime time.Duration
	// rawLifetime is the unparsed setting, kept so an invalid value is not
	// also reported as missing.
	rawLifetime string
}

type config struct {
	Addr            string
	LogLevel        string
	LogFormat       string
	StorageDriver   string
	DataPath        string
	Postgres        postgresConfig
	GrantStore      string
	Redis           redisConfig
	JWT             jwtConfig
	SearchTimeout   time.Duration
	GoogleURL       string
	MIFURL          string
	MaxUploadBytes  int64
	TLS             serverutil.TLSConfig
	ShutdownTimeout time.Duration
}

type getenvFunc func(string) string

// loadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is only
// an error when the path was chosen explicitly.
func loadDotEnv(path string, explicit bool) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig resolves settings from command line flags first, then from
// SHELFSHARE_* variables, then from the legacy names, then from defaults.
func loadConfig(args []string, getenv getenvFunc) (config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	env := func(key string) string {
		return strings.TrimSpace(getenv(envPrefix + key))
	}

	flags := flag.NewFlagSet("shelfshare", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	addr := flags.String("addr", "", "HTTP listen address")
	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flags.String("log-format", "", "log format (json or text)")
	storageDriver := flags.String("storage-driver", "", "datastore driver (json or postgres)")
	dataPath := flags.String("data", "", "path to JSON datastore")
	postgresDSN := flags.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flags.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flags.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flags.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flags.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flags.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flags.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flags.String("postgres-app-name", "", "application_name reported to Postgres")
	postgresMigrate := flags.Bool("postgres-migrate", false, "apply the embedded schema before serving")
	grantStore := flags.String("grant-store", "", "access grant store (storage or redis)")
	redisAddr := flags.String("redis-addr", "", "Redis address for the grant store")
	redisAddrs := flags.String("redis-addrs", "", "comma separated Redis addresses for the grant store")
	redisUsername := flags.String("redis-username", "", "Redis username")
	redisPassword := flags.String("redis-password", "", "Redis password")
	redisDB := flags.Int("redis-db", 0, "Redis database number")
	redisPrefix := flags.String("redis-key-prefix", "", "prefix for Redis grant keys")
	redisTimeout := flags.Duration("redis-timeout", 0, "dial, read and write timeout for Redis")
	redisMasterName := flags.String("redis-master-name", "", "Redis Sentinel master name")
	redisPoolSize := flags.Int("redis-pool-size", 0, "Redis connection pool size")
	redisTLSCA := flags.String("redis-tls-ca", "", "CA bundle used to verify the Redis server")
	redisTLSCert := flags.String("redis-tls-cert", "", "client certificate presented to Redis")
	redisTLSKey := flags.String("redis-tls-key", "", "client private key presented to Redis")
	redisTLSServerName := flags.String("redis-tls-server-name", "", "server name expected in the Redis certificate")
	redisTLSInsecure := flags.Bool("redis-tls-insecure", false, "skip Redis certificate verification")
	jwtSecret := flags.String("jwt-secret", "", "HMAC secret used to sign access tokens")
	jwtIssuer := flags.String("jwt-issuer", "", "issuer claim of access tokens")
	jwtLifetime := flags.String("jwt-lifetime", "", "token lifetime in seconds or as a Go duration")
	searchTimeout := flags.Duration("search-timeout", 0, "timeout for external catalog requests")
	googleURL := flags.String("search-google-url", "", "Google Books volumes endpoint")
	mifURL := flags.String("search-mif-url", "", "MIF catalog search endpoint")
	maxUpload := flags.Int64("max-upload-bytes", 0, "maximum size of an uploaded book")
	tlsCert := flags.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flags.String("tls-key", "", "path to TLS private key file")
	shutdownTimeout := flags.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		Addr:          firstNonEmpty(*addr, env("ADDR"), ":8080"),
		LogLevel:      firstNonEmpty(*logLevel, env("LOG_LEVEL"), "info"),
		LogFormat:     firstNonEmpty(*logFormat, env("LOG_FORMAT"), "json"),
		StorageDriver: strings.ToLower(firstNonEmpty(*storageDriver, env("STORAGE_DRIVER"))),
		DataPath:      firstNonEmpty(*dataPath, env("DATA"), "data/store.json"),
		GrantStore:    strings.ToLower(firstNonEmpty(*grantStore, env("GRANT_STORE"), grantsStorage)),
		GoogleURL:     firstNonEmpty(*googleURL, env("SEARCH_GOOGLE_URL")),
		MIFURL:        firstNonEmpty(*mifURL, env("SEARCH_MIF_URL")),
		TLS: serverutil.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, env("TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, env("TLS_KEY")),
		},
	}

	r := &resolver{}
	cfg.Postgres = postgresConfig{
		DSN:             firstNonEmpty(*postgresDSN, env("POSTGRES_DSN"), getenv("DATABASE_URL")),
		AppName:         firstNonEmpty(*postgresAppName, env("POSTGRES_APP_NAME"), "shelfshare"),
		MaxConns:        r.intValue("postgres max conns", *postgresMaxConns, env("POSTGRES_MAX_CONNS"), 0),
		MinConns:        r.intValue("postgres min conns", *postgresMinConns, env("POSTGRES_MIN_CONNS"), 0),
		MaxConnLifetime: r.duration("postgres max conn lifetime", *postgresMaxConnLifetime, env("POSTGRES_MAX_CONN_LIFETIME"), 0),
		MaxConnIdle:     r.duration("postgres max conn idle", *postgresMaxConnIdle, env("POSTGRES_MAX_CONN_IDLE"), 0),
		HealthInterval:  r.duration("postgres health interval", *postgresHealthInterval, env("POSTGRES_HEALTH_INTERVAL"), 0),
		AcquireTimeout:  r.duration("postgres acquire timeout", *postgresAcquireTimeout, env("POSTGRES_ACQUIRE_TIMEOUT"), 0),
		Migrate:         r.boolean("postgres migrate", *postgresMigrate, env("POSTGRES_MIGRATE")),
	}

	cfg.Redis = redisConfig{
		Addr:       firstNonEmpty(*redisAddr, env("REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, env("REDIS_ADDRS"))),
		Username:   firstNonEmpty(*redisUsername, env("REDIS_USERNAME")),
		Password:   firstNonEmpty(*redisPassword, env("REDIS_PASSWORD")),
		KeyPrefix:  firstNonEmpty(*redisPrefix, env("REDIS_KEY_PREFIX")),
		DB:         r.intValue("redis db", *redisDB, env("REDIS_DB"), 0),
		Timeout:    r.duration("redis timeout", *redisTimeout, env("REDIS_TIMEOUT"), 2*time.Second),
		MasterName: firstNonEmpty(*redisMasterName, env("REDIS_MASTER_NAME")),
		PoolSize:   r.intValue("redis pool size", *redisPoolSize, env("REDIS_POOL_SIZE"), 0),
		TLS: access.RedisTLSConfig{
			CAFile:             firstNonEmpty(*redisTLSCA, env("REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*redisTLSCert, env("REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*redisTLSKey, env("REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*redisTLSServerName, env("REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: r.boolean("redis tls insecure", *redisTLSInsecure, env("REDIS_TLS_INSECURE")),
		},
	}

	cfg.JWT = jwtConfig{
		Secret:      firstNonEmpty(*jwtSecret, env("JWT_SECRET"), getenv("JWT_SECRET")),
		Issuer:      firstNonEmpty(*jwtIssuer, env("JWT_ISSUER"), getenv("JWT_ISSUER")),
		rawLifetime: firstNonEmpty(*jwtLifetime, env("JWT_LIFETIME"), getenv("JWT_LIFETIME")),
	}
	if cfg.JWT.rawLifetime != "" {
		lifetime, err := parseLifetime(cfg.JWT.rawLifetime)
		r.record("jwt lifetime", err)
		cfg.JWT.Lifetime = lifetime
	}

	cfg.SearchTimeout = r.duration("search timeout", *searchTimeout, env("SEARCH_TIMEOUT"), search.DefaultTimeout)
	cfg.MaxUploadBytes = r.int64Value("max upload bytes", *maxUpload, env("MAX_UPLOAD_BYTES"), api.DefaultUploadSize)
	cfg.ShutdownTimeout = r.duration("shutdown timeout", *shutdownTimeout, env("SHUTDOWN_TIMEOUT"), serverutil.DefaultShutdownTimeout)

	if cfg.StorageDriver == "" {
		if cfg.Postgres.DSN != "" {
			cfg.StorageDriver = driverPostgres
		} else {
			cfg.StorageDriver = driverJSON
		}
	}

	if err := joinProblems(append(r.problems, cfg.problems()...)); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// problems lists every setting that is missing or inconsistent.
func (c config) problems() []string {
	var problems []string
	if c.JWT.Secret == "" {
		problems = append(problems, "jwt secret is required (JWT_SECRET)")
	}
	if c.JWT.Issuer == "" {
		problems = append(problems, "jwt issuer is required (JWT_ISSUER)")
	}
	if c.JWT.Lifetime <= 0 && c.JWT.rawLifetime == "" {
		problems = append(problems, "jwt lifetime is required (JWT_LIFETIME)")
	}
	switch c.StorageDriver {
	case driverJSON:
		if c.DataPath == "" {
			problems = append(problems, "json storage selected without a data path")
		}
	case driverPostgres:
		if c.Postgres.DSN == "" {
			problems = append(problems, "postgres storage selected without DSN (DATABASE_URL)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported storage driver %q", c.StorageDriver))
	}
	switch c.GrantStore {
	case grantsStorage:
	case grantsRedis:
		if c.Redis.Addr == "" && len(c.Redis.Addrs) == 0 {
			problems = append(problems, "redis grant store selected without an address")
		}
		if (c.Redis.TLS.CertFile == "") != (c.Redis.TLS.KeyFile == "") {
			problems = append(problems, "both redis TLS cert and key must be provided")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported grant store %q", c.GrantStore))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		problems = append(problems, "both TLS cert and key must be provided")
	}
	if c.MaxUploadBytes <= 0 {
		problems = append(problems, "max upload bytes must be positive")
	}
	return problems
}

// parseLifetime accepts a plain number of seconds or a Go duration string.
func parseLifetime(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// resolver reads typed settings and keeps going past malformed values so
// every bad setting is reported in one error.
type resolver struct {
	problems []string
}

func (r *resolver) record(name string, err error) {
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("%s: %v", name, err))
	}
}

func (r *resolver) intValue(name string, flagValue int, envValue string, fallback int) int {
	value, err := resolveInt(flagValue, envValue, fallback)
	if err != nil {
		r.record(name, err)
		return fallback
	}
	return value
}

func (r *resolver) int64Value(name string, flagValue int64, envValue string, fallback int64) int64 {
	value, err := resolveInt64(flagValue, envValue, fallback)
	if err != nil {
		r.record(name, err)
		return fallback
	}
	return value
}

func (r *resolver) duration(name string, flagValue time.Duration, envValue string, fallback time.Duration) time.Duration {
	value, err := resolveDuration(flagValue, envValue, fallback)
	if err != nil {
		r.record(name, err)
		return fallback
	}
	return value
}

func (r *resolver) boolean(name string, flagValue bool, envValue string) bool {
	value, err := resolveBool(flagValue, envValue)
	r.record(name, err)
	return value
}

func resolveInt(flagValue int, envValue string, fallback int) (int, error) {
	if flagValue > 0 {
		return flagValue, nil
	}
	if envValue != "" {
		return strconv.Atoi(envValue)
	}
	return fallback, nil
}

func resolveInt64(flagValue int64, envValue string, fallback int64) (int64, error) {
	if flagValue > 0 {
		return flagValue, nil
	}
	if envValue != "" {
		return strconv.ParseInt(envValue, 10, 64)
	}
	return fallback, nil
}

func resolveDuration(flagValue time.Duration, envValue string, fallback time.Duration) (time.Duration, error) {
	if flagValue > 0 {
		return flagValue, nil
	}
	if envValue != "" {
		return time.ParseDuration(envValue)
	}
	return fallback, nil
}

func resolveBool(flagValue bool, envValue string) (bool, error) {
	if flagValue {
		return true, nil
	}
	if envValue != "" {
		return strconv.ParseBool(envValue)
	}
	return false, nil
}
