package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

type DBConfig struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// DSN renders the go-sql-driver DSN. Times are parsed so DATETIME columns scan
// into time.Time.
func (c DBConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Pass
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, c.Port)
	cfg.DBName = c.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

type Config struct {
	StoreDriver string
	DB          DBConfig

	// RedisAddr and KafkaBrokers are optional; leaving them empty disables the
	// idempotency guard, the stock cache and order events.
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	JWTSecret string
	HTTPAddr  string

	RushSurcharge decimal.Decimal
	RateLimit     float64
	RateBurst     int
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		StoreDriver: getEnv("STORE_DRIVER", DriverMySQL),
		DB: DBConfig{
			Host: getEnv("DB_HOST", "localhost"),
			Port: getEnv("DB_PORT", "3306"),
			User: getEnv("DB_USER", "root"),
			Pass: os.Getenv("DB_PASS"),
			Name: getEnv("DB_NAME", "ledger"),
		},
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "order-topic"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "ledger-stock-cache"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8082"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	switch cfg.StoreDriver {
	case DriverMySQL, DriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMySQL, DriverMemory, cfg.StoreDriver)
	}

	var err error
	if cfg.RushSurcharge, err = decimal.NewFromString(getEnv("RUSH_SURCHARGE", "0")); err != nil {
		return nil, fmt.Errorf("RUSH_SURCHARGE: %w", err)
	}
	if cfg.RushSurcharge.IsNegative() {
		return nil, fmt.Errorf("RUSH_SURCHARGE must not be negative")
	}
	if cfg.RateLimit, err = strconv.ParseFloat(getEnv("RATE_LIMIT", "1"), 64); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT: %w", err)
	}
	if cfg.RateBurst, err = strconv.Atoi(getEnv("RATE_BURST", "3")); err != nil {
		return nil, fmt.Errorf("RATE_BURST: %w", err)
	}
	return cfg, nil
}
