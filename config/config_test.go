package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSQLite(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", t.TempDir()+"/papers.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cs.AI", cfg.ArxivCategory)
	assert.Equal(t, 1000, cfg.ArxivPageSize)
	assert.Equal(t, 3*time.Second, cfg.ArxivRequestDelay)
	assert.Equal(t, 5, cfg.LLMMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.LLMRetryDelay)
	assert.Equal(t, 1, cfg.PollConcurrency)
	assert.Equal(t, "github.com", cfg.RepoHost)
	assert.Equal(t, 2, cfg.WindowStartDaysAgo)
	assert.Equal(t, 1, cfg.WindowEndDaysAgo)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DBDriver:           DriverSQLite,
			DBPath:             "x.db",
			LLMProvider:        "gemini",
			ArxivPageSize:      10,
			LLMMaxAttempts:     1,
			PollConcurrency:    1,
			WindowStartDaysAgo: 2,
			WindowEndDaysAgo:   1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid sqlite", func(c *Config) {}, false},
		{"postgres without host", func(c *Config) { c.DBDriver = DriverPostgres }, true},
		{"postgres complete", func(c *Config) {
			c.DBDriver = DriverPostgres
			c.DBHost, c.DBUser, c.DBName = "db", "u", "papers"
		}, false},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"unknown llm", func(c *Config) { c.LLMProvider = "bard" }, true},
		{"zero page size", func(c *Config) { c.ArxivPageSize = 0 }, true},
		{"inverted window", func(c *Config) { c.WindowStartDaysAgo = 0 }, true},
		{"bad start date", func(c *Config) { c.ArxivStartDate = "2024/01/01" }, true},
		{"good start date", func(c *Config) { c.ArxivStartDate = "2024-01-01" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := Config{DBHost: "localhost", DBUser: "u", DBPassword: "p", DBName: "papers", DBPort: 5433, DBSSLMode: "require"}
	assert.Equal(t, "host=localhost user=u password=p dbname=papers port=5433 sslmode=require", c.DSN())
}
