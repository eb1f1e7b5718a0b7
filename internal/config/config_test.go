package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Heartbeat:          120 * time.Second,
		Prefetch:           1,
		ConsumerExchange:   "good-food-events",
		ConsumerQueue:      "franchise.stock.order.events",
		OrderCreatedKey:    "order.created",
		PublisherExchange:  "franchise.events",
		DeadLetterExchange: "good-food-events.dlx",
		DeadLetterQueue:    "franchise.stock.order.events.dead",
		StockTable:         "stock_franchise",
		LogLevel:           "info",
		Environment:        EnvDevelopment,
	}
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero prefetch", func(c *Config) { c.Prefetch = 0 }, "RABBITMQ_PREFETCH"},
		{"negative max deliveries", func(c *Config) { c.MaxDeliveries = -1 }, "MAX_DELIVERIES"},
		{"missing queue", func(c *Config) { c.ConsumerQueue = "" }, "consumer exchange"},
		{"missing publisher exchange", func(c *Config) { c.PublisherExchange = "" }, "PUBLISHER_EXCHANGE"},
		{"dead letter without target", func(c *Config) {
			c.MaxDeliveries = 5
			c.DeadLetterQueue = ""
		}, "DEAD_LETTER_EXCHANGE"},
		{"missing stock table", func(c *Config) { c.StockTable = "" }, "STOCK_TABLE"},
		{"debug in production", func(c *Config) {
			c.Environment = EnvProduction
			c.LogLevel = "debug"
		}, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Prefetch = 0
	cfg.StockTable = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RABBITMQ_PREFETCH")
	assert.Contains(t, err.Error(), "STOCK_TABLE")
}
