package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Unterstützte Datenbank-Treiber.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	// Pfad der SQLite-Datei, nur bei DB_DRIVER=sqlite
	DBPath string `envconfig:"DB_PATH" default:"data/papers.db"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`

	// arXiv-Suche
	ArxivBaseURL       string        `envconfig:"ARXIV_BASE_URL" default:"http://export.arxiv.org/api/query"`
	ArxivPDFBaseURL    string        `envconfig:"ARXIV_PDF_BASE_URL" default:"https://arxiv.org/pdf"`
	ArxivCategory      string        `envconfig:"ARXIV_CATEGORY" default:"cs.AI"`
	ArxivStartDate     string        `envconfig:"ARXIV_START_DATE"`
	ArxivPageSize      int           `envconfig:"ARXIV_PAGE_SIZE" default:"1000"`
	ArxivRequestDelay  time.Duration `envconfig:"ARXIV_REQUEST_DELAY" default:"3s"`
	WindowStartDaysAgo int           `envconfig:"WINDOW_START_DAYS_AGO" default:"2"`
	WindowEndDaysAgo   int           `envconfig:"WINDOW_END_DAYS_AGO" default:"1"`

	// Generative-Text-Provider für die Link-Auflösung
	LLMProvider       string        `envconfig:"LLM_PROVIDER" default:"gemini"`
	GeminiBaseURL     string        `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiAPIKey      string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel       string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel       string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	LLMMaxAttempts    int           `envconfig:"LLM_MAX_ATTEMPTS" default:"5"`
	LLMRetryDelay     time.Duration `envconfig:"LLM_RETRY_DELAY" default:"5s"`
	LLMMaxPromptChars int           `envconfig:"LLM_MAX_PROMPT_CHARS" default:"400000"`

	DocumentTimeout time.Duration `envconfig:"DOCUMENT_TIMEOUT" default:"60s"`
	ScratchDir      string        `envconfig:"SCRATCH_DIR"`
	RepoHost        string        `envconfig:"REPO_HOST" default:"github.com"`

	// GitHub-API für die Sterne
	GitHubAPIBaseURL string        `envconfig:"GITHUB_API_BASE_URL" default:"https://api.github.com"`
	GitHubToken      string        `envconfig:"GITHUB_TOKEN"`
	PollConcurrency  int           `envconfig:"POLL_CONCURRENCY" default:"1"`
	PollDelay        time.Duration `envconfig:"POLL_DELAY" default:"0s"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// StartDate liefert ARXIV_START_DATE als Datum; ok ist false, wenn nichts gesetzt ist.
func (c *Config) StartDate() (time.Time, bool, error) {
	if strings.TrimSpace(c.ArxivStartDate) == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(c.ArxivStartDate))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid ARXIV_START_DATE %q: %w", c.ArxivStartDate, err)
	}
	return t, true, nil
}

// Validate prüft Kombinationen, die envconfig allein nicht abdecken kann.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.DBHost == "" || c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("DB_HOST, DB_USER and DB_NAME are required for the postgres driver")
		}
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}

	switch c.LLMProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.ArxivPageSize <= 0 {
		return fmt.Errorf("ARXIV_PAGE_SIZE must be positive")
	}
	if c.LLMMaxAttempts <= 0 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be positive")
	}
	if c.PollConcurrency <= 0 {
		return fmt.Errorf("POLL_CONCURRENCY must be positive")
	}
	if c.WindowStartDaysAgo < c.WindowEndDaysAgo {
		return fmt.Errorf("WINDOW_START_DAYS_AGO must not be smaller than WINDOW_END_DAYS_AGO")
	}
	if _, _, err := c.StartDate(); err != nil {
		return err
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
