package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppMode         string
	UserID          string
	UserName        string
	DBHost          string
	DBUser          string
	DBPassword      string
	DBName          string
	DBPort          string
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisDB         int
	RoomAPIURL      string
	RoomAPIKey      string
	TokenSecret     string
	TokenTTLMin     int
	RelayAddr       string
	PushListenAddr  string
	CallRingTimeout time.Duration
	PresenceTTL     time.Duration
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppMode:       getEnv("APP_MODE", "development"),
		UserID:        getEnv("RIPPLE_USER_ID", ""),
		UserName:      getEnv("RIPPLE_USER_NAME", ""),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "ripple_chat"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RoomAPIURL:    getEnv("ROOM_API_URL", "http://localhost:9090"),
		RoomAPIKey:    getEnv("ROOM_API_KEY", ""),
		TokenSecret:   getEnv("CALL_TOKEN_SECRET", "change-me"),
		TokenTTLMin:   getEnvAsInt("CALL_TOKEN_TTL_MIN", 60),
		// The notifier serves the relay websocket on its push listener, so
		// the two defaults must name the same port.
		RelayAddr:       getEnv("RELAY_ADDR", "localhost:8788"),
		PushListenAddr:  getEnv("PUSH_LISTEN_ADDR", ":8788"),
		CallRingTimeout: getEnvAsDuration("CALL_RING_TIMEOUT", 45*time.Second),
		PresenceTTL:     getEnvAsDuration("PRESENCE_TTL", 5*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
