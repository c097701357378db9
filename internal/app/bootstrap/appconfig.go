// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings: ports, TLS, log level and request limits.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Bearer tokens
	JWTSecret   string // HS256 signing key (at least 32 bytes in production)
	JWTIssuer   string
	JWTAudience string
	JWTTTL      time.Duration

	// Login handshake
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int

	// Telegram bot (blank token disables the external channel)
	TelegramBotToken    string
	TelegramPollTimeout time.Duration

	// reCAPTCHA (blank secret disables the check)
	RecaptchaSecret string

	// Email/SMTP configuration
	MailSMTPHost string // SMTP server host (blank logs instead of sending)
	MailSMTPPort int
	MailSMTPUser string
	MailSMTPPass string
	MailFrom     string
	MailFromName string

	// Base URL for email confirmation links
	BaseURL            string
	EmailConfirmExpiry time.Duration

	// Redis pub/sub for notifications across instances (blank addr disables)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// HTTP
	CORSAllowedOrigins []string

	// Notifications
	NotifyQueueSize int

	// Rate limiting of login and resend endpoints
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// Audit logging: "all", "db", "log" or "off"
	AuditLogAuth  string
	AuditLogAdmin string
}
