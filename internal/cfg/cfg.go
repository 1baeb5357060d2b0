package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	RulesPath             string
	DedupWindowHours      int
	AmountTolerancePct    int
	IngestToken           string
	DiscordWebhookURL     string
	TelegramBotToken      string
	TelegramChatID        string
	FeedEndpoint          string
	FeedToken             string
	RSSEndpoint           string
	PollIntervalSeconds   int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RulesPath, "rules-path", "", "path to a YAML rules file (empty = built-in defaults)")
	fs.IntVar(&c.DedupWindowHours, "dedup-window-hours", 72, "fuzzy match window around a candidate's observation time (1..336)")
	fs.IntVar(&c.AmountTolerancePct, "amount-tolerance-pct", 10, "relative loss tolerance for fuzzy matching, percent (1..50)")
	fs.StringVar(&c.IngestToken, "ingest-token", "", "bearer token required on mutating API routes (empty = no auth)")
	fs.StringVar(&c.DiscordWebhookURL, "discord-webhook-url", "", "Discord webhook URL for incident notifications")
	fs.StringVar(&c.TelegramBotToken, "telegram-bot-token", "", "Telegram bot token for incident notifications")
	fs.StringVar(&c.TelegramChatID, "telegram-chat-id", "", "Telegram chat ID for incident notifications")
	fs.StringVar(&c.FeedEndpoint, "feed-endpoint", "", "JSON candidate feed endpoint to poll")
	fs.StringVar(&c.FeedToken, "feed-token", "", "bearer token for the JSON candidate feed")
	fs.StringVar(&c.RSSEndpoint, "rss-endpoint", "", "RSS exploit feed endpoint to poll")
	fs.IntVar(&c.PollIntervalSeconds, "poll-interval-seconds", 300, "feed poll interval in seconds (10..3600)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DedupWindowHours <= 0 || c.DedupWindowHours > 336 {
		errs = append(errs, fmt.Errorf("invalid DEDUP_WINDOW_HOURS %d (must be 1..336)", c.DedupWindowHours))
	}
	if c.AmountTolerancePct <= 0 || c.AmountTolerancePct > 50 {
		errs = append(errs, fmt.Errorf("invalid AMOUNT_TOLERANCE_PCT %d (must be 1..50)", c.AmountTolerancePct))
	}
	if c.PollIntervalSeconds < 10 || c.PollIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %d (must be 10..3600)", c.PollIntervalSeconds))
	}

	// Telegram needs both halves or neither
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
