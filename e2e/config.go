package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// GATEWAY_ADDR is the gRPC address of a running gateway; the suites skip when it is empty.
	GatewayAddr string `envconfig:"GATEWAY_ADDR"`
	// ADMIN_URL is the gateway debug server, used to create conversations.
	AdminURL  string `envconfig:"ADMIN_URL" default:"http://localhost:8081"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"chat-core"`
	// E2E_DEBUG_JSON allows dumping full gRPC request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
