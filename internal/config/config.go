package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"referral-bot/internal/models"
)

type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required,notEmpty"`
	DBURL         string `env:"DB_URL,required,notEmpty"`

	// OperatorIDs may run operator-only commands (developer codes, reports).
	OperatorIDs []int64 `env:"OPERATOR_TG_IDS" envSeparator:","`

	BotLink     string `env:"BOT_LINK"`
	WebsiteLink string `env:"WEBSITE_LINK" envDefault:"http://localhost:5173"`

	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	// LinkResendInterval throttles replacement links pushed after a failed
	// link validation, per participant.
	LinkResendInterval time.Duration `env:"LINK_RESEND_INTERVAL" envDefault:"1m"`

	Chains []string `env:"CHAINS" envSeparator:"," envDefault:"tia,fet"`

	RedisURL   string        `env:"REDIS_URL"`
	PendingTTL time.Duration `env:"PENDING_TTL" envDefault:"15m"`

	SpreadsheetID            string `env:"GOOGLE_SHEETS_SPREADSHEET_ID"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	SheetName                string `env:"GOOGLE_SHEETS_TAB" envDefault:"Participants"`

	DefaultLanguage string `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string `env:"LOG_FORMAT" envDefault:"text"`
}

func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	return c.normalize()
}

func (c Config) normalize() (Config, error) {
	c.TelegramToken = strings.TrimSpace(c.TelegramToken)
	c.BotLink = strings.TrimRight(strings.TrimSpace(c.BotLink), "/")
	c.WebsiteLink = strings.TrimSpace(c.WebsiteLink)

	chains := make([]string, 0, len(c.Chains))
	seen := map[string]bool{}
	for _, ch := range c.Chains {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		chains = append(chains, ch)
	}
	if len(chains) == 0 {
		return c, fmt.Errorf("CHAINS is empty")
	}
	c.Chains = chains

	if (c.SpreadsheetID == "") != (c.GoogleServiceAccountJSON == "") {
		return c, fmt.Errorf("GOOGLE_SHEETS_SPREADSHEET_ID and GOOGLE_SERVICE_ACCOUNT_JSON must be set together")
	}
	return c, nil
}

func (c Config) SheetsEnabled() bool {
	return c.SpreadsheetID != "" && c.GoogleServiceAccountJSON != ""
}

// Operators returns operator ids in the string form used by the referral core.
func (c Config) Operators() []string {
	out := make([]string, 0, len(c.OperatorIDs))
	for _, id := range c.OperatorIDs {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}

func (c Config) ChainIDs() []models.Chain {
	out := make([]models.Chain, 0, len(c.Chains))
	for _, ch := range c.Chains {
		out = append(out, models.Chain(ch))
	}
	return out
}
