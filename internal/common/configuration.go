// Package common provides configuration management, database initialization,
// logging setup and shared error helpers for SensorGrid services. It supports
// YAML configuration files with environment variable overrides, health
// endpoints and PostgreSQL connections with connection pooling.
package common

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete configuration structure for SensorGrid
// services. One structure covers both binaries; each main reads the sections
// it needs.
type Config struct {
	Server     ServerConfig   `mapstructure:"server" json:"server"`
	Mongo      MongoConfig    `mapstructure:"mongo" json:"mongo"`
	Postgres   PostgresConfig `mapstructure:"postgres" json:"postgres"`
	Broker     BrokerConfig   `mapstructure:"broker" json:"broker"`
	Auth       AuthConfig     `mapstructure:"auth" json:"auth"`
	CorsConfig CorsConfig     `mapstructure:"cors" json:"cors"`
}

// ServerConfig contains HTTP server configuration parameters.
type ServerConfig struct {
	Port        int    `mapstructure:"port" json:"port"`
	ContextPath string `mapstructure:"contextPath" json:"contextPath"`
}

// MongoConfig contains the MongoDB connection settings for the ACL store.
type MongoConfig struct {
	URI        string `mapstructure:"uri" json:"uri"`
	Database   string `mapstructure:"database" json:"database"`
	Collection string `mapstructure:"collection" json:"collection"`
}

// PostgresConfig contains PostgreSQL connection parameters for the token
// store, including connection pooling settings.
type PostgresConfig struct {
	Host                   string `mapstructure:"host" json:"host"`
	Port                   int    `mapstructure:"port" json:"port"`
	User                   string `mapstructure:"user" json:"user"`
	Password               string `mapstructure:"password" json:"password"`
	DBName                 string `mapstructure:"dbname" json:"dbname"`
	MaxOpenConnections     int    `mapstructure:"maxOpenConnections" json:"maxOpenConnections"`
	MaxIdleConnections     int    `mapstructure:"maxIdleConnections" json:"maxIdleConnections"`
	ConnMaxLifetimeMinutes int    `mapstructure:"connMaxLifetimeMinutes" json:"connMaxLifetimeMinutes"`
}

// BrokerConfig contains MQTT transport settings and the static local user
// table used by the broker gatekeeper.
type BrokerConfig struct {
	URL            string            `mapstructure:"url" json:"url"`
	ClientID       string            `mapstructure:"clientId" json:"clientId"`
	Username       string            `mapstructure:"username" json:"username"`
	Password       string            `mapstructure:"password" json:"password"`
	PublishTimeout int               `mapstructure:"publishTimeoutSeconds" json:"publishTimeoutSeconds"`
	LocalUsers     []LocalUserConfig `mapstructure:"localUsers" json:"localUsers"`
}

// LocalUserConfig is one statically configured broker user.
type LocalUserConfig struct {
	Username string   `mapstructure:"username" json:"username"`
	Password string   `mapstructure:"password" json:"password"`
	Roles    []string `mapstructure:"roles" json:"roles"`
}

// AuthConfig contains token issuance and remote authorization settings.
type AuthConfig struct {
	TokenSecret          string `mapstructure:"tokenSecret" json:"tokenSecret"`
	TokenTTLMinutes      int    `mapstructure:"tokenTTLMinutes" json:"tokenTTLMinutes"`
	ServiceURL           string `mapstructure:"serviceURL" json:"serviceURL"`
	RemoteTimeoutSeconds int    `mapstructure:"remoteTimeoutSeconds" json:"remoteTimeoutSeconds"`
	SweepIntervalMinutes int    `mapstructure:"sweepIntervalMinutes" json:"sweepIntervalMinutes"`
	MinUsernameLength    int    `mapstructure:"minUsernameLength" json:"minUsernameLength"`
}

// CorsConfig contains Cross-Origin Resource Sharing (CORS) policy settings.
type CorsConfig struct {
	AllowedOrigins   []string `mapstructure:"allowedOrigins" json:"allowedOrigins"`
	AllowedMethods   []string `mapstructure:"allowedMethods" json:"allowedMethods"`
	AllowedHeaders   []string `mapstructure:"allowedHeaders" json:"allowedHeaders"`
	AllowCredentials bool     `mapstructure:"allowCredentials" json:"allowCredentials"`
}

// LoadConfig loads the configuration from a YAML file and environment
// variables. Environment variables take precedence over the file, which takes
// precedence over defaults. Variables use underscore notation (SERVER_PORT
// overrides server.port).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		log.Printf("Loading config from file: %s", configPath)
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Println("No config file provided — loading from environment variables only")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	PrintConfiguration(cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5104)
	v.SetDefault("server.contextPath", "")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "sensorgrid")
	v.SetDefault("mongo.collection", "acl")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "admin")
	v.SetDefault("postgres.password", "admin123")
	v.SetDefault("postgres.dbname", "sensorgrid")
	v.SetDefault("postgres.maxOpenConnections", 50)
	v.SetDefault("postgres.maxIdleConnections", 50)
	v.SetDefault("postgres.connMaxLifetimeMinutes", 5)

	v.SetDefault("broker.url", "tcp://localhost:1883")
	v.SetDefault("broker.clientId", "sensorgrid-dispatcher")
	v.SetDefault("broker.publishTimeoutSeconds", 5)

	v.SetDefault("auth.tokenTTLMinutes", 60)
	v.SetDefault("auth.serviceURL", "http://localhost:5104")
	v.SetDefault("auth.remoteTimeoutSeconds", 5)
	v.SetDefault("auth.sweepIntervalMinutes", 5)
	v.SetDefault("auth.minUsernameLength", 3)

	v.SetDefault("cors.allowedOrigins", []string{"*"})
	v.SetDefault("cors.allowedMethods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowedHeaders", []string{"*"})
	v.SetDefault("cors.allowCredentials", true)
}

// PrintConfiguration prints the current configuration with sensitive data
// redacted.
func PrintConfiguration(cfg *Config) {
	copy := *cfg
	if copy.Postgres.Password != "" {
		copy.Postgres.Password = "****"
	}
	if copy.Broker.Password != "" {
		copy.Broker.Password = "****"
	}
	if copy.Auth.TokenSecret != "" {
		copy.Auth.TokenSecret = "****"
	}
	for i := range copy.Broker.LocalUsers {
		copy.Broker.LocalUsers[i].Password = "****"
	}
	b, err := json.MarshalIndent(copy, "", "  ")
	if err != nil {
		log.Printf("config marshal: %v", err)
		return
	}
	log.Printf("Loaded configuration:\n%s", string(b))
}
