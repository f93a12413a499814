package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

func getenv(key string) string { return os.Getenv(key) }

// Load reads configuration from environment variables, optionally
// overlaid from a .env file in the working directory. Required variables
// missing at this point fail process startup rather than let the
// service run with partial configuration.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Wiki.BaseURL = strings.TrimRight(strings.TrimSpace(getenv("WIKI_BASE_URL")), "/")
	cfg.Wiki.Email = strings.TrimSpace(getenv("WIKI_EMAIL"))
	cfg.Wiki.APIToken = strings.TrimSpace(getenv("WIKI_API_TOKEN"))

	cfg.Embedding.BaseURL = strings.TrimRight(strings.TrimSpace(getenv("EMBED_BASE_URL")), "/")
	cfg.Embedding.APIKey = strings.TrimSpace(getenv("EMBED_API_KEY"))
	cfg.Embedding.Model = strings.TrimSpace(getenv("EMBED_MODEL"))
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if v := strings.TrimSpace(getenv("EMBED_DIMENSIONS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("EMBED_DIMENSIONS must be an integer: %w", err)
		}
		cfg.Embedding.Dimension = n
	} else {
		cfg.Embedding.Dimension = dimensionForModel(cfg.Embedding.Model)
	}

	cfg.DatabaseURL = strings.TrimSpace(getenv("DATABASE_URL"))

	var err error
	cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", 10)
	if err != nil {
		return Config{}, err
	}
	cfg.SyncIntervalMin, err = intEnv("SYNC_INTERVAL_MINUTES", 30)
	if err != nil {
		return Config{}, err
	}
	cfg.Chunker.TargetTokens, err = intEnv("CHUNK_TARGET_TOKENS", 400)
	if err != nil {
		return Config{}, err
	}
	cfg.Chunker.MinTokens, err = intEnv("CHUNK_MIN_TOKENS", 50)
	if err != nil {
		return Config{}, err
	}
	cfg.Chunker.MaxTokens, err = intEnv("CHUNK_MAX_TOKENS", 600)
	if err != nil {
		return Config{}, err
	}
	cfg.Chunker.OverlapTokens, err = intEnv("CHUNK_OVERLAP_TOKENS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.Search.TopK, err = intEnv("SEARCH_TOP_K", 30)
	if err != nil {
		return Config{}, err
	}
	cfg.Search.MaxPages, err = intEnv("SEARCH_MAX_PAGES", 12)
	if err != nil {
		return Config{}, err
	}
	if v := strings.TrimSpace(getenv("SEARCH_MIN_SCORE")); v != "" {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return Config{}, fmt.Errorf("SEARCH_MIN_SCORE must be a float: %w", ferr)
		}
		cfg.Search.MinScore = f
	} else {
		cfg.Search.MinScore = 0.3
	}

	cfg.LogLevel = strings.TrimSpace(getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.HTTPAddr = strings.TrimSpace(getenv("HTTP_ADDR"))
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string
	if cfg.Wiki.BaseURL == "" {
		missing = append(missing, "WIKI_BASE_URL")
	}
	if cfg.Wiki.Email == "" {
		missing = append(missing, "WIKI_EMAIL")
	}
	if cfg.Wiki.APIToken == "" {
		missing = append(missing, "WIKI_API_TOKEN")
	}
	if cfg.Embedding.APIKey == "" {
		missing = append(missing, "EMBED_API_KEY")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if cfg.Embedding.Dimension != 1536 && cfg.Embedding.Dimension != 3072 {
		return errors.New("EMBED_DIMENSIONS must resolve to 1536 or 3072")
	}
	return nil
}

// dimensionForModel derives the vector width from well-known embedding
// model family names.
func dimensionForModel(model string) int {
	if strings.Contains(model, "large") {
		return 3072
	}
	return 1536
}

func intEnv(name string, def int) (int, error) {
	v := strings.TrimSpace(getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return n, nil
}
