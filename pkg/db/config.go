package db

import (
	"os"
	"strconv"
	"time"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func LoadPostgresConfig() (PostgresConfig, error) {
	port, err := intEnv("DB_PORT", 5432)
	if err != nil {
		return PostgresConfig{}, err
	}

	return PostgresConfig{
		Host:     stringEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     stringEnv("DB_USER", "postgres"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   stringEnv("DB_NAME", "storefront"),
		SSLMode:  stringEnv("DB_SSLMODE", "disable"),
	}, nil
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

func LoadMongoConfig() (MongoConfig, error) {
	timeout, err := durationEnv("MONGO_CONNECT_TIMEOUT", 10*time.Second)
	if err != nil {
		return MongoConfig{}, err
	}
	return MongoConfig{
		URI:            stringEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		Database:       stringEnv("MONGO_DATABASE", "storefront"),
		ConnectTimeout: timeout,
	}, nil
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func LoadRedisConfig() (RedisConfig, error) {
	n, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	return RedisConfig{
		Addr:     stringEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       n,
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
	return strconv.Atoi(v)
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}
