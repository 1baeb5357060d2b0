package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		DedupWindowHours:      72,
		AmountTolerancePct:    10,
		PollIntervalSeconds:   300,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.DedupWindowHours != 72 {
		t.Errorf("DedupWindowHours = %d, want 72", c.DedupWindowHours)
	}
	if c.AmountTolerancePct != 10 {
		t.Errorf("AmountTolerancePct = %d, want 10", c.AmountTolerancePct)
	}
	if c.PollIntervalSeconds != 300 {
		t.Errorf("PollIntervalSeconds = %d, want 300", c.PollIntervalSeconds)
	}
	if c.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", c.DatabaseURL)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://localhost/chainwatch",
		"-rules-path", "/etc/chainwatch/rules.yaml",
		"-dedup-window-hours", "48",
		"-amount-tolerance-pct", "15",
		"-ingest-token", "tok-1",
		"-feed-endpoint", "https://feed.example.com/v1/incidents",
		"-rss-endpoint", "https://blog.example.com/rss",
		"-poll-interval-seconds", "60",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://localhost/chainwatch" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.RulesPath != "/etc/chainwatch/rules.yaml" {
		t.Errorf("RulesPath = %q", c.RulesPath)
	}
	if c.DedupWindowHours != 48 {
		t.Errorf("DedupWindowHours = %d, want 48", c.DedupWindowHours)
	}
	if c.AmountTolerancePct != 15 {
		t.Errorf("AmountTolerancePct = %d, want 15", c.AmountTolerancePct)
	}
	if c.IngestToken != "tok-1" {
		t.Errorf("IngestToken = %q, want tok-1", c.IngestToken)
	}
	if c.FeedEndpoint != "https://feed.example.com/v1/incidents" {
		t.Errorf("FeedEndpoint = %q", c.FeedEndpoint)
	}
	if c.RSSEndpoint != "https://blog.example.com/rss" {
		t.Errorf("RSSEndpoint = %q", c.RSSEndpoint)
	}
	if c.PollIntervalSeconds != 60 {
		t.Errorf("PollIntervalSeconds = %d, want 60", c.PollIntervalSeconds)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func(mutate func(*Config)) Config {
		c := validBase()
		if mutate != nil {
			mutate(&c)
		}
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: Config{
				DrainSeconds: 1, ShutdownBudgetSeconds: 2, APIPort: 1,
				DedupWindowHours: 1, AmountTolerancePct: 1, PollIntervalSeconds: 10,
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: Config{
				DrainSeconds: 299, ShutdownBudgetSeconds: 300, APIPort: 65535,
				DedupWindowHours: 336, AmountTolerancePct: 50, PollIntervalSeconds: 3600,
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       valid(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       valid(func(c *Config) { c.DrainSeconds = 301; c.ShutdownBudgetSeconds = 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       valid(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       valid(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       valid(func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     valid(func(c *Config) { c.ShutdownBudgetSeconds = c.DrainSeconds + 1 }),
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       valid(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       valid(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Pipeline tuning
		{
			name:      "window zero",
			cfg:       valid(func(c *Config) { c.DedupWindowHours = 0 }),
			wantErr:   true,
			errSubstr: []string{"DEDUP_WINDOW_HOURS"},
		},
		{
			name:      "window above max",
			cfg:       valid(func(c *Config) { c.DedupWindowHours = 337 }),
			wantErr:   true,
			errSubstr: []string{"DEDUP_WINDOW_HOURS"},
		},
		{
			name:      "tolerance zero",
			cfg:       valid(func(c *Config) { c.AmountTolerancePct = 0 }),
			wantErr:   true,
			errSubstr: []string{"AMOUNT_TOLERANCE_PCT"},
		},
		{
			name:      "tolerance above max",
			cfg:       valid(func(c *Config) { c.AmountTolerancePct = 51 }),
			wantErr:   true,
			errSubstr: []string{"AMOUNT_TOLERANCE_PCT"},
		},
		{
			name:      "poll interval too small",
			cfg:       valid(func(c *Config) { c.PollIntervalSeconds = 9 }),
			wantErr:   true,
			errSubstr: []string{"POLL_INTERVAL_SECONDS"},
		},
		// Telegram pairing
		{
			name:      "telegram token without chat",
			cfg:       valid(func(c *Config) { c.TelegramBotToken = "tok" }),
			wantErr:   true,
			errSubstr: []string{"TELEGRAM_BOT_TOKEN"},
		},
		{
			name:      "telegram chat without token",
			cfg:       valid(func(c *Config) { c.TelegramChatID = "-100" }),
			wantErr:   true,
			errSubstr: []string{"TELEGRAM_BOT_TOKEN"},
		},
		{
			name: "telegram pair",
			cfg: valid(func(c *Config) {
				c.TelegramBotToken = "tok"
				c.TelegramChatID = "-100"
			}),
			wantErr: false,
		},
		// Error accumulation: all fields invalid
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"DEDUP_WINDOW_HOURS", "AMOUNT_TOLERANCE_PCT", "POLL_INTERVAL_SECONDS",
			},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: Config{
				DrainSeconds: math.MinInt32, ShutdownBudgetSeconds: math.MinInt32,
				APIPort: math.MinInt32, DedupWindowHours: math.MinInt32,
				AmountTolerancePct: math.MinInt32, PollIntervalSeconds: math.MinInt32,
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, window, tol, poll int
		tgToken, tgChat                        string
	}{
		{60, 90, 8080, 72, 10, 300, "", ""},
		{1, 2, 1, 1, 1, 10, "", ""},
		{299, 300, 65535, 336, 50, 3600, "t", "c"},
		{0, 0, 0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, -1, -1, "", ""},
		{150, 100, 8080, 72, 10, 300, "", ""},
		{60, 90, 8080, 72, 10, 300, "t", ""},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.window, s.tol, s.poll, s.tgToken, s.tgChat)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, window, tol, poll int, tgToken, tgChat string) {
		c := Config{
			DrainSeconds:          drain,
			ShutdownBudgetSeconds: budget,
			APIPort:               port,
			DedupWindowHours:      window,
			AmountTolerancePct:    tol,
			PollIntervalSeconds:   poll,
			TelegramBotToken:      tgToken,
			TelegramChatID:        tgChat,
		}
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		windowOK := window >= 1 && window <= 336
		tolOK := tol >= 1 && tol <= 50
		pollOK := poll >= 10 && poll <= 3600
		tgOK := (tgToken == "") == (tgChat == "")

		allValid := drainOK && budgetOK && portOK && crossOK && windowOK && tolOK && pollOK && tgOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
