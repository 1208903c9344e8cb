package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the recognized environment surface. Everything has a default
// except the ledger endpoints; reads degrade without a signer or a space,
// but nothing works without an RPC endpoint and a contract address.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string

	BridgeURL   string
	GatewayHost string
	SpaceDID    string
	SpaceName   string
	StateDir    string

	RedisAddr  string
	ServerAddr string

	LoginPollInterval time.Duration
	LoginTimeout      time.Duration

	ContentCacheExpiration time.Duration
	ProfileCacheExpiration time.Duration
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("RPC_URL", "")
	v.SetDefault("CONTRACT_ADDRESS", "")
	v.SetDefault("PRIVATE_KEY", "")
	v.SetDefault("STORACHA_BRIDGE_URL", "http://localhost:8787")
	v.SetDefault("GATEWAY_HOST", "ipfs.storacha.link")
	v.SetDefault("STORACHA_SPACE_DID", "")
	v.SetDefault("STORACHA_SPACE_NAME", "my-social-space")
	v.SetDefault("STATE_DIR", ".chainfeed")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("SERVER_ADDR", ":3333")
	v.SetDefault("LOGIN_POLL_INTERVAL_MS", 1000)
	v.SetDefault("LOGIN_TIMEOUT_MS", 600000)
	v.SetDefault("CONTENT_CACHE_EXPIRATION_MINUTES", 1080)
	v.SetDefault("PROFILE_CACHE_EXPIRATION_MINUTES", 10)

	cfg := &Config{
		RPCURL:          v.GetString("RPC_URL"),
		ContractAddress: v.GetString("CONTRACT_ADDRESS"),
		PrivateKey:      v.GetString("PRIVATE_KEY"),

		BridgeURL:   v.GetString("STORACHA_BRIDGE_URL"),
		GatewayHost: v.GetString("GATEWAY_HOST"),
		SpaceDID:    v.GetString("STORACHA_SPACE_DID"),
		SpaceName:   v.GetString("STORACHA_SPACE_NAME"),
		StateDir:    v.GetString("STATE_DIR"),

		RedisAddr:  fmt.Sprintf("%s:%s", v.GetString("REDIS_HOST"), v.GetString("REDIS_PORT")),
		ServerAddr: v.GetString("SERVER_ADDR"),

		LoginPollInterval: time.Duration(v.GetInt("LOGIN_POLL_INTERVAL_MS")) * time.Millisecond,
		LoginTimeout:      time.Duration(v.GetInt("LOGIN_TIMEOUT_MS")) * time.Millisecond,

		ContentCacheExpiration: time.Duration(v.GetInt("CONTENT_CACHE_EXPIRATION_MINUTES")) * time.Minute,
		ProfileCacheExpiration: time.Duration(v.GetInt("PROFILE_CACHE_EXPIRATION_MINUTES")) * time.Minute,
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC_URL is not set")
	}
	if cfg.ContractAddress == "" {
		return nil, fmt.Errorf("CONTRACT_ADDRESS is not set")
	}
	return cfg, nil
}
