// Package config loads typed configuration structs from environment
// variables using caarlos0/env tags, with optional .env file support
// for local development via godotenv.
//
// Usage:
//
//	type PGConfig struct {
//		ConnURL string `env:"PG_CONN_URL,required"`
//	}
//
//	var cfg PGConfig
//	config.MustLoad(&cfg)
package config
