package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/mstfbysl/ai-clickhouse-pipeline/ai"
	"github.com/mstfbysl/ai-clickhouse-pipeline/source"
)

// loadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides connection settings and credentials from environment
// variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if chURL := get("CH_URL"); chURL != "" {
		dsn, err := ClickHouseDSN(chURL, get("CH_USER"), get("CH_PASS"), get("CH_DATABASE"))
		if err != nil {
			return err
		}
		c.Source.Dialect = source.DialectClickHouse
		c.Source.DSN = dsn
	}

	if host := get("MONGO_HOST"); host != "" {
		uri, err := MongoURI(host, get("MONGO_PORT"), get("MONGO_USER"), get("MONGO_PASS"))
		if err != nil {
			return err
		}
		c.Sink.URI = uri
	}
	if db := get("MONGO_DATABASE"); db != "" {
		c.Sink.Database = db
	}
	if coll := get("MONGO_COLLECTION"); coll != "" {
		c.Sink.ResultsCollection = coll
	}

	switch strings.ToLower(c.AI.Provider) {
	case ai.ProviderGemini:
		if key := get("GEMINI_API_KEY"); key != "" {
			c.AI.APIKey = key
		}
	case ai.ProviderOpenAI:
		if key := get("OPENAI_API_KEY"); key != "" {
			c.AI.APIKey = key
		}
	}

	if dsn := get("SENTRY_DSN"); dsn != "" {
		c.Telemetry.SentryDSN = dsn
	}
	return nil
}

// ClickHouseDSN turns an HTTP(S) endpoint and credentials into a driver DSN.
// A URL without a port gets 8123, or 443 for https.
func ClickHouseDSN(rawURL, user, password, database string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: CH_URL: %w", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: CH_URL scheme must be http or https, got %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: CH_URL has no host", ErrInvalidConfig)
	}

	port := u.Port()
	if port == "" {
		port = "8123"
		if u.Scheme == "https" {
			port = "443"
		}
	}

	dsn := url.URL{
		Scheme: u.Scheme,
		Host:   net.JoinHostPort(u.Hostname(), port),
		Path:   "/" + database,
	}
	if user != "" {
		dsn.User = url.UserPassword(user, password)
	}
	return dsn.String(), nil
}

// MongoURI builds a connection string from its parts. Credentials are escaped.
func MongoURI(host, port, user, password string) (string, error) {
	if port == "" {
		port = "27017"
	}
	p, err := cast.ToUint16E(port)
	if err != nil || p == 0 {
		return "", fmt.Errorf("%w: MONGO_PORT %q is not a port", ErrInvalidConfig, port)
	}

	uri := url.URL{
		Scheme:   "mongodb",
		Host:     net.JoinHostPort(host, cast.ToString(p)),
		Path:     "/",
		RawQuery: "tls=false",
	}
	if user != "" {
		uri.User = url.UserPassword(user, password)
	}
	return uri.String(), nil
}
