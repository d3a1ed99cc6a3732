package config

import (
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string

	MySQLDSN      string
	RedisAddr     string
	RedisPassword string

	// MongoURI empty disables the dead-letter archive.
	MongoURI      string
	MongoDatabase string

	PipelineWorkers int
	RebuildWorkers  int
	RebuildQueue    int

	MessageTTL    time.Duration
	MaxDeliveries int64
}

// Load reads configuration from the environment, with a .env file as an
// optional local override source.
func Load() *Config {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Warn("load .env", "err", err)
		}
	}

	return &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		MySQLDSN:        getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/seckill?parseTime=true"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DB", "seckill"),
		PipelineWorkers: getEnvInt("PIPELINE_WORKERS", 4),
		RebuildWorkers:  getEnvInt("REBUILD_WORKERS", 10),
		RebuildQueue:    getEnvInt("REBUILD_QUEUE", 100),
		MessageTTL:      getEnvDuration("MESSAGE_TTL", time.Minute),
		MaxDeliveries:   int64(getEnvInt("MAX_DELIVERIES", 3)),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("bad integer env value, using default", "key", key, "value", v)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn("bad duration env value, using default", "key", key, "value", v)
		return def
	}
	return d
}
