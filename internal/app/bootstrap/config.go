// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// minSecretLen is the shortest jwt_secret accepted in production.
const minSecretLen = 32

// appConfigKeys defines the configuration keys for unchainme.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, jwt_secret, etc.
//   - Environment variables: UNCHAINME_MONGO_URI, UNCHAINME_JWT_SECRET, etc.
//   - Command-line flags: --mongo_uri, --jwt_secret, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "unchainme", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size"},

	// Bearer tokens
	{Name: "jwt_secret", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "HS256 signing key for bearer tokens"},
	{Name: "jwt_issuer", Default: "unchainme", Desc: "Token issuer claim"},
	{Name: "jwt_audience", Default: "unchainme-web", Desc: "Token audience claim"},
	{Name: "jwt_ttl", Default: "24h", Desc: "Bearer token lifetime"},

	// Login handshake
	{Name: "challenge_ttl", Default: "5m", Desc: "Login challenge lifetime"},
	{Name: "challenge_max_attempts", Default: 5, Desc: "Wrong codes allowed per login challenge"},

	// Telegram
	{Name: "telegram_bot_token", Default: "", Desc: "Telegram bot token (blank disables code delivery)"},
	{Name: "telegram_poll_timeout", Default: "60s", Desc: "Telegram long-poll wait"},

	// reCAPTCHA
	{Name: "recaptcha_secret", Default: "", Desc: "reCAPTCHA secret (blank disables the check)"},

	// Email/SMTP configuration
	{Name: "mail_smtp_host", Default: "", Desc: "SMTP server host (blank logs mail instead of sending)"},
	{Name: "mail_smtp_port", Default: 587, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@unchainme.local", Desc: "From email address"},
	{Name: "mail_from_name", Default: "unchainme", Desc: "From display name"},

	// Base URL for email links
	{Name: "base_url", Default: "http://localhost:3000", Desc: "Base URL for email confirmation links"},
	{Name: "email_confirm_expiry", Default: "24h", Desc: "Email confirmation link expiry (e.g., 24h, 90m)"},

	// Redis
	{Name: "redis_addr", Default: "", Desc: "Redis address for notification fan-out (blank disables)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis database number"},
	{Name: "redis_channel", Default: "unchainme:notifications", Desc: "Redis pub/sub channel"},

	// HTTP
	{Name: "cors_allowed_origins", Default: "*", Desc: "Comma-separated origins allowed by CORS and the websocket"},

	// Notifications
	{Name: "notify_queue_size", Default: 1024, Desc: "Buffered notification events before new ones are dropped"},

	// Rate limiting
	{Name: "login_rate_limit", Default: 10, Desc: "Login attempts per email per window"},
	{Name: "login_rate_window", Default: "15m", Desc: "Login rate limit window"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_admin", Default: "all", Desc: "Admin event logging: 'all' (db+log), 'db', 'log', or 'off'"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, UNCHAINME_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "UNCHAINME", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		JWTSecret:   appValues.String("jwt_secret"),
		JWTIssuer:   appValues.String("jwt_issuer"),
		JWTAudience: appValues.String("jwt_audience"),
		JWTTTL:      appValues.Duration("jwt_ttl", 24*time.Hour),

		ChallengeTTL:         appValues.Duration("challenge_ttl", 5*time.Minute),
		ChallengeMaxAttempts: appValues.Int("challenge_max_attempts"),

		TelegramBotToken:    appValues.String("telegram_bot_token"),
		TelegramPollTimeout: appValues.Duration("telegram_poll_timeout", 60*time.Second),

		RecaptchaSecret: appValues.String("recaptcha_secret"),

		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),

		BaseURL:            appValues.String("base_url"),
		EmailConfirmExpiry: appValues.Duration("email_confirm_expiry", 24*time.Hour),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),
		RedisChannel:  appValues.String("redis_channel"),

		CORSAllowedOrigins: splitList(appValues.String("cors_allowed_origins")),

		NotifyQueueSize: appValues.Int("notify_queue_size"),

		LoginRateLimit:  appValues.Int("login_rate_limit"),
		LoginRateWindow: appValues.Duration("login_rate_window", 15*time.Minute),

		AuditLogAuth:  appValues.String("audit_log_auth"),
		AuditLogAdmin: appValues.String("audit_log_admin"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	return validateApp(coreCfg.Env, appCfg)
}

func validateApp(env string, appCfg AppConfig) error {
	var problems []string

	if appCfg.JWTSecret == "" {
		problems = append(problems, "jwt_secret is required")
	} else if env == "prod" && len(appCfg.JWTSecret) < minSecretLen {
		problems = append(problems, fmt.Sprintf("jwt_secret must be at least %d bytes in production", minSecretLen))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"jwt_ttl", appCfg.JWTTTL},
		{"challenge_ttl", appCfg.ChallengeTTL},
		{"email_confirm_expiry", appCfg.EmailConfirmExpiry},
		{"login_rate_window", appCfg.LoginRateWindow},
	}
	for _, d := range durations {
		if d.d <= 0 {
			problems = append(problems, d.name+" must be positive")
		}
	}

	if appCfg.ChallengeMaxAttempts <= 0 {
		problems = append(problems, "challenge_max_attempts must be positive")
	}
	if appCfg.LoginRateLimit <= 0 {
		problems = append(problems, "login_rate_limit must be positive")
	}
	if appCfg.NotifyQueueSize <= 0 {
		problems = append(problems, "notify_queue_size must be positive")
	}
	if appCfg.RedisAddr != "" && appCfg.RedisChannel == "" {
		problems = append(problems, "redis_channel is required when redis_addr is set")
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// splitList parses a comma-separated config value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
