package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"fairwager/internal/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort     string
	DatabaseURL string
	JWTSecret   string

	LogLevel string
	LogJSON  bool
	LogFile  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Stake limits, smallest currency unit
	MinStake uint64
	MaxStake uint64

	// Round lifecycle
	RoundTTL      time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// Economics, basis points
	RTPBps         map[string]uint32
	CoinflipFeeBps uint32
	SlotsTablePath string

	// Escrow custody
	SolanaRPCURL    string
	EscrowProgramID string
	HouseKey        string
	ConfirmRetries  uint64
	ConfirmBackoff  time.Duration

	// Seeds at rest
	SeedSealKey string

	GameRateLimit  int
	GameRateWindow int
	APIRateLimit   int
	APIRateWindow  int
	AuthRateLimit  int
	AuthRateWindow int
	AllowedOrigin  string

	// Admin endpoints are disabled when empty
	AdminToken string
	// Active rounds mirrored to Redis expire after this long
	SessionTTL time.Duration
	// off | best_effort
	MirrorPolicy string
}

var defaultRTP = map[string]uint32{
	"dice":   9900,
	"mines":  9900,
	"slots":  9600,
	"plinko": 9900,
	"crash":  9900,
}

// Загрузка конфига из env
func Load() *Config {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

// FromEnv reads the configuration from the process environment
func FromEnv() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}

	sealKey := os.Getenv("SEED_SEAL_KEY")
	if sealKey == "" {
		return nil, errors.New("SEED_SEAL_KEY is not set")
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	rtp := make(map[string]uint32, len(defaultRTP))
	for game, def := range defaultRTP {
		v := uintFromEnv("RTP_BPS_"+strings.ToUpper(game), uint64(def))
		if v > 10000 {
			logger.Warn("rtp above 100%, using default", "game", game, "rtp_bps", v)
			v = uint64(def)
		}
		rtp[game] = uint32(v)
	}

	mirror := os.Getenv("MIRROR_POLICY")
	switch mirror {
	case "":
		mirror = "best_effort"
	case "off", "best_effort":
	default:
		return nil, errors.New("MIRROR_POLICY must be off or best_effort")
	}

	minStake := uintFromEnv("MIN_STAKE", 10)
	maxStake := uintFromEnv("MAX_STAKE", 1_000_000_000_000)
	if maxStake != 0 && minStake > maxStake {
		return nil, errors.New("MIN_STAKE exceeds MAX_STAKE")
	}

	feeBps := uintFromEnv("COINFLIP_FEE_BPS", 300)
	if feeBps >= 10000 {
		return nil, errors.New("COINFLIP_FEE_BPS must be below 10000")
	}

	return &Config{
		AppPort:     port,
		DatabaseURL: dbURL,
		JWTSecret:   jwtSecret,

		LogLevel: logLevel,
		LogJSON:  os.Getenv("LOG_JSON") == "true",
		LogFile:  os.Getenv("LOG_FILE"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intFromEnv("REDIS_DB", 0),

		MinStake: minStake,
		MaxStake: maxStake,

		RoundTTL:      time.Duration(intFromEnv("ROUND_TTL_SECONDS", 600)) * time.Second,
		IdleTimeout:   time.Duration(intFromEnv("ROUND_IDLE_SECONDS", 300)) * time.Second,
		SweepInterval: time.Duration(intFromEnv("SWEEP_INTERVAL_SECONDS", 15)) * time.Second,

		RTPBps:         rtp,
		CoinflipFeeBps: uint32(feeBps),
		SlotsTablePath: os.Getenv("SLOTS_TABLE_PATH"),

		SolanaRPCURL:    os.Getenv("SOLANA_RPC_URL"),
		EscrowProgramID: os.Getenv("ESCROW_PROGRAM_ID"),
		HouseKey:        os.Getenv("HOUSE_KEY"),
		ConfirmRetries:  uintFromEnv("CONFIRM_RETRIES", 6),
		ConfirmBackoff:  time.Duration(intFromEnv("CONFIRM_BACKOFF_MS", 400)) * time.Millisecond,

		SeedSealKey: sealKey,

		GameRateLimit:  intFromEnv("GAME_RATE_LIMIT", 60),
		GameRateWindow: intFromEnv("GAME_RATE_WINDOW_SECONDS", 60),
		APIRateLimit:   intFromEnv("API_RATE_LIMIT", 120),
		APIRateWindow:  intFromEnv("API_RATE_WINDOW_SECONDS", 60),
		AuthRateLimit:  intFromEnv("AUTH_RATE_LIMIT", 10),
		AuthRateWindow: intFromEnv("AUTH_RATE_WINDOW_SECONDS", 60),
		AllowedOrigin:  os.Getenv("ALLOWED_ORIGIN"),

		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		SessionTTL:   time.Duration(intFromEnv("SESSION_TTL_SECONDS", 3600)) * time.Second,
		MirrorPolicy: mirror,
	}, nil
}

// EscrowEnabled reports whether the on-chain custody backend is configured
func (c *Config) EscrowEnabled() bool {
	return c.SolanaRPCURL != "" && c.EscrowProgramID != "" && c.HouseKey != ""
}

// RTPFor returns the configured return-to-player for a game, 0 when unknown
func (c *Config) RTPFor(game string) uint32 {
	return c.RTPBps[game]
}

func intFromEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func uintFromEnv(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
