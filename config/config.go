/*
Package config loads server configuration from the environment.

PURPOSE:
  One place that knows every environment variable the server reads.
  A .env file in the working directory is loaded first when present;
  real environment variables win over it.

ENVIRONMENT:
  PORT                  HTTP port (default 8080)
  DB_PATH               SQLite path, ":memory:" allowed (default payroll.db)
  LOG_LEVEL             debug|info|warn|error (default info)
  LOG_FORMAT            json|console (default json)
  RATES_FILE            Rate document imported at startup (optional)
  PAYRUN_ENABLED        Run the pay-run scheduler (default false)
  PAYRUN_INTERVAL       Scheduler check interval (default 1h)
  PAYROLL_CURRENCY      Default currency (default USD)
  PAY_FREQUENCY         monthly|biweekly|weekly (default monthly)
  AUTO_CALCULATE        Calculate on create (default true)
  AUTO_APPROVE_ON_EDIT  Approve edited records (default false)
  TAX_POLICY            progressive|flat_threshold (default progressive)
  ROUNDING_PLACES       Decimal places for tax and contributions (default 2)
  CORS_ORIGINS          Comma-separated allowed origins (default *)

  The payroll variables only seed settings on first start. Once settings
  are stored (PUT /api/settings) the stored values are used.

SEE ALSO:
  - cmd/server/main.go: Flags override PORT, DB_PATH and RATES_FILE
  - payroll/settings.go: Settings validation
*/
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/payroll-engine/payroll"
)

// Config holds application configuration.
type Config struct {
	Port      int
	DBPath    string
	LogLevel  string
	LogFormat string
	RatesFile string

	PayRunEnabled  bool
	PayRunInterval time.Duration

	CORSOrigins []string

	// Payroll seeds the stored settings on first start.
	Payroll payroll.Settings
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	defaults := payroll.DefaultSettings()
	return Config{
		Port:           getenvInt("PORT", 8080),
		DBPath:         getenv("DB_PATH", "payroll.db"),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getenv("LOG_FORMAT", "json")),
		RatesFile:      strings.TrimSpace(getenv("RATES_FILE", "")),
		PayRunEnabled:  getenvBool("PAYRUN_ENABLED", false),
		PayRunInterval: getenvDuration("PAYRUN_INTERVAL", time.Hour),
		CORSOrigins:    splitList(getenv("CORS_ORIGINS", "*")),
		Payroll: payroll.Settings{
			DefaultCurrency:   strings.ToUpper(getenv("PAYROLL_CURRENCY", defaults.DefaultCurrency)),
			PayFrequency:      payroll.PayFrequency(strings.ToLower(getenv("PAY_FREQUENCY", string(defaults.PayFrequency)))),
			AutoCalculate:     getenvBool("AUTO_CALCULATE", defaults.AutoCalculate),
			AutoApproveOnEdit: getenvBool("AUTO_APPROVE_ON_EDIT", defaults.AutoApproveOnEdit),
			TaxPolicy:         payroll.TaxPolicy(strings.ToLower(getenv("TAX_POLICY", string(defaults.TaxPolicy)))),
			RoundingPlaces:    int32(getenvInt("ROUNDING_PLACES", int(defaults.RoundingPlaces))),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
