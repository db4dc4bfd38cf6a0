package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kirinyoku/raffle-go/internal/domain"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Server      ServerConfig
	Storage     string
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	MercadoPago MercadoPagoConfig
	SMTP        SMTPConfig
	Raffle      RaffleConfig
	Admin       AdminConfig
}

type ServerConfig struct {
	Host string
	Port int

	// PublicURL is the externally reachable base of this API.
	PublicURL string

	// FrontendURL is where buyers return after checkout. Also the allowed CORS origin.
	FrontendURL string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int32
}

func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type KafkaConfig struct {
	Brokers            []string
	NotificationsTopic string
	GroupID            string
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type MercadoPagoConfig struct {
	AccessToken   string
	BaseURL       string
	WebhookSecret string
	Sandbox       bool
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type RaffleConfig struct {
	Definition    domain.Raffle
	PendingTTL    time.Duration
	SweepInterval time.Duration
}

type AdminConfig struct {
	User     string
	Password string
}

func (c AdminConfig) Enabled() bool {
	return c.User != "" && c.Password != ""
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverHost := stringEnv("SERVER_HOST", "localhost")

	serverCfg := ServerConfig{
		Host:        serverHost,
		Port:        serverPort,
		PublicURL:   strings.TrimRight(stringEnv("PUBLIC_BACKEND_URL", fmt.Sprintf("http://%s:%d", serverHost, serverPort)), "/"),
		FrontendURL: strings.TrimRight(stringEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
	}

	storage := strings.ToLower(stringEnv("STORAGE_DRIVER", StoragePostgres))
	if storage != StoragePostgres && storage != StorageMemory {
		return nil, fmt.Errorf("%s: invalid STORAGE_DRIVER %q", op, storage)
	}

	var postgresCfg PostgresConfig
	if storage == StoragePostgres {
		postgresCfg, err = postgresFromEnv()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	redisEnabled, err := boolEnv("REDIS_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisCfg := RedisConfig{
		Enabled:  redisEnabled,
		Addr:     stringEnv("REDIS_ADDR", "localhost:6380"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	kafkaCfg := KafkaConfig{
		Brokers:            listEnv("KAFKA_BROKERS"),
		NotificationsTopic: stringEnv("KAFKA_NOTIFICATIONS_TOPIC", "raffle.notifications"),
		GroupID:            stringEnv("KAFKA_GROUP_ID", "raffle-notifier"),
	}

	mpToken := os.Getenv("MP_ACCESS_TOKEN")
	if mpToken == "" {
		return nil, fmt.Errorf("%s: missing MP_ACCESS_TOKEN", op)
	}

	mpSandbox, err := boolEnv("MP_SANDBOX", false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mpCfg := MercadoPagoConfig{
		AccessToken:   mpToken,
		BaseURL:       os.Getenv("MP_BASE_URL"),
		WebhookSecret: os.Getenv("MP_WEBHOOK_SECRET"),
		Sandbox:       mpSandbox,
	}

	smtpCfg, err := SMTPFromEnv()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	raffleCfg, err := raffleFromEnv()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Config{
		Server:      serverCfg,
		Storage:     storage,
		Postgres:    postgresCfg,
		Redis:       redisCfg,
		Kafka:       kafkaCfg,
		MercadoPago: mpCfg,
		SMTP:        smtpCfg,
		Raffle:      raffleCfg,
		Admin: AdminConfig{
			User:     os.Getenv("ADMIN_USER"),
			Password: os.Getenv("ADMIN_PASSWORD"),
		},
	}, nil
}

// NewNotifier loads only what the notifier worker needs.
func NewNotifier() (KafkaConfig, SMTPConfig, error) {
	const op = "config.NewNotifier"

	_ = godotenv.Load()

	kafkaCfg := KafkaConfig{
		Brokers:            listEnv("KAFKA_BROKERS"),
		NotificationsTopic: stringEnv("KAFKA_NOTIFICATIONS_TOPIC", "raffle.notifications"),
		GroupID:            stringEnv("KAFKA_GROUP_ID", "raffle-notifier"),
	}
	if !kafkaCfg.Enabled() {
		return KafkaConfig{}, SMTPConfig{}, fmt.Errorf("%s: missing KAFKA_BROKERS", op)
	}

	smtpCfg, err := SMTPFromEnv()
	if err != nil {
		return KafkaConfig{}, SMTPConfig{}, fmt.Errorf("%s: %w", op, err)
	}

	return kafkaCfg, smtpCfg, nil
}

// NewPostgres loads only the Postgres section, for tooling.
func NewPostgres() (PostgresConfig, error) {
	_ = godotenv.Load()
	return postgresFromEnv()
}

func postgresFromEnv() (PostgresConfig, error) {
	port, err := intEnv("POSTGRES_PORT", 5432)
	if err != nil {
		return PostgresConfig{}, err
	}

	maxConns, err := intEnv("POSTGRES_MAX_CONNS", 0)
	if err != nil {
		return PostgresConfig{}, err
	}

	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_USER")
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_PASSWORD")
	}

	name := os.Getenv("POSTGRES_DB")
	if name == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_DB")
	}

	return PostgresConfig{
		User:     user,
		Password: password,
		Name:     name,
		Host:     stringEnv("POSTGRES_HOST", "localhost"),
		Port:     port,
		SSLMode:  stringEnv("POSTGRES_SSLMODE", "disable"),
		MaxConns: int32(maxConns),
	}, nil
}

func SMTPFromEnv() (SMTPConfig, error) {
	port, err := intEnv("SMTP_PORT", 587)
	if err != nil {
		return SMTPConfig{}, err
	}

	cfg := SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     port,
		Username: os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
		FromName: stringEnv("SMTP_FROM_NAME", "Rifa"),
	}

	if cfg.From == "" {
		cfg.From = cfg.Username
	}

	if cfg.Host != "" && cfg.From == "" {
		return SMTPConfig{}, fmt.Errorf("missing SMTP_FROM")
	}

	return cfg, nil
}

func raffleFromEnv() (RaffleConfig, error) {
	def, err := LoadRaffle(os.Getenv("RAFFLE_FILE"))
	if err != nil {
		return RaffleConfig{}, err
	}

	pendingTTL, err := durationEnv("RAFFLE_PENDING_TTL", 30*time.Minute)
	if err != nil {
		return RaffleConfig{}, err
	}

	sweep, err := durationEnv("RAFFLE_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return RaffleConfig{}, err
	}

	return RaffleConfig{
		Definition:    def,
		PendingTTL:    pendingTTL,
		SweepInterval: sweep,
	}, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}

	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}

	return d, nil
}

func listEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
