// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	accountsvc "github.com/dalemusser/unchainme/internal/app/services/accounts"
	applicationsvc "github.com/dalemusser/unchainme/internal/app/services/applications"
	companysvc "github.com/dalemusser/unchainme/internal/app/services/companies"
	"github.com/dalemusser/unchainme/internal/app/services/handshake"
	invitationsvc "github.com/dalemusser/unchainme/internal/app/services/invitations"
	tasksvc "github.com/dalemusser/unchainme/internal/app/services/tasks"
	applicationstore "github.com/dalemusser/unchainme/internal/app/store/applications"
	"github.com/dalemusser/unchainme/internal/app/store/audit"
	challengestore "github.com/dalemusser/unchainme/internal/app/store/challenges"
	companystore "github.com/dalemusser/unchainme/internal/app/store/companies"
	"github.com/dalemusser/unchainme/internal/app/store/emailconfirm"
	invitationstore "github.com/dalemusser/unchainme/internal/app/store/invitations"
	membershipstore "github.com/dalemusser/unchainme/internal/app/store/memberships"
	taskstore "github.com/dalemusser/unchainme/internal/app/store/tasks"
	userstore "github.com/dalemusser/unchainme/internal/app/store/users"
	"github.com/dalemusser/unchainme/internal/app/system/auditlog"
	"github.com/dalemusser/unchainme/internal/app/system/auth"
	"github.com/dalemusser/unchainme/internal/app/system/authz"
	"github.com/dalemusser/unchainme/internal/app/system/captcha"
	"github.com/dalemusser/unchainme/internal/app/system/mailer"
	"github.com/dalemusser/unchainme/internal/app/system/notify"
	"github.com/dalemusser/unchainme/internal/app/system/ratelimit"
	"github.com/dalemusser/unchainme/internal/app/system/telegram"
	"github.com/dalemusser/unchainme/internal/app/system/txn"
	"github.com/dalemusser/unchainme/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// runtime holds the services and long-lived workers shared by the HTTP
// handlers and torn down by Shutdown.
type runtime struct {
	Tokens      *auth.Tokens
	Policy      *authz.Policy
	Audit       *auditlog.Logger
	AuditEvents *audit.Store
	Captcha     *captcha.Verifier
	Logins      *ratelimit.Guard
	Resends     *ratelimit.Guard

	Hub        *notify.Hub
	Events     *notify.Dispatcher
	Subscriber *notify.Subscriber // nil without Redis
	Poller     *telegram.Poller   // nil without a bot token
	Jobs       *workers.Scheduler

	Accounts     *accountsvc.Service
	Handshake    *handshake.Engine
	Companies    *companysvc.Service
	Invitations  *invitationsvc.Ledger
	Tasks        *tasksvc.Service
	Applications *applicationsvc.Service
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It builds
// the stores and services and starts the background workers.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.rt == nil {
		return errors.New("startup: DBDeps was not created by ConnectDB")
	}
	rt := deps.rt
	db := deps.MongoDatabase

	tokens, err := auth.NewTokens(auth.TokenConfig{
		Secret:   []byte(appCfg.JWTSecret),
		Issuer:   appCfg.JWTIssuer,
		Audience: appCfg.JWTAudience,
		TTL:      appCfg.JWTTTL,
	})
	if err != nil {
		return err
	}
	rt.Tokens = tokens

	// Stores
	users := userstore.New(db)
	companies := companystore.New(db)
	memberships := membershipstore.New(db)
	invitations := invitationstore.New(db)
	challenges := challengestore.New(db)
	tasks := taskstore.New(db)
	applications := applicationstore.New(db)
	confirmations := emailconfirm.New(db, appCfg.EmailConfirmExpiry)

	rt.AuditEvents = audit.New(db)
	rt.Audit = auditlog.New(rt.AuditEvents, logger, auditlog.Config{
		Auth:  appCfg.AuditLogAuth,
		Admin: appCfg.AuditLogAdmin,
	})
	rt.Captcha = captcha.New(appCfg.RecaptchaSecret)
	if !rt.Captcha.Enabled() {
		logger.Warn("recaptcha_secret is blank; login captcha check disabled")
	}
	rt.Logins = ratelimit.NewGuard(appCfg.LoginRateLimit*5, appCfg.LoginRateLimit, appCfg.LoginRateWindow)
	rt.Resends = ratelimit.NewGuard(appCfg.LoginRateLimit*2, appCfg.LoginRateLimit/2+1, appCfg.LoginRateWindow)

	// Notifications: with Redis every instance publishes and each one's
	// subscriber feeds its own hub; without it the hub is the only sink.
	rt.Hub = notify.NewHub(logger)
	var sink notify.Sink = rt.Hub
	if deps.Redis != nil {
		sink = notify.NewRedisSink(deps.Redis, appCfg.RedisChannel)
		rt.Subscriber = notify.NewSubscriber(deps.Redis, appCfg.RedisChannel, rt.Hub, logger)
		if err := rt.Subscriber.Start(ctx); err != nil {
			return err
		}
	}
	rt.Events = notify.New(appCfg.NotifyQueueSize, logger, sink)
	rt.Events.Start()

	tx := txn.New(deps.MongoClient, logger)
	policy := authz.NewPolicy(memberships)
	rt.Policy = policy

	rt.Accounts = accountsvc.New(accountsvc.Deps{
		Users:         users,
		Confirmations: confirmations,
		Owners:        companies,
		Memberships:   memberships,
		Mailer: mailer.New(mailer.Config{
			Host:     appCfg.MailSMTPHost,
			Port:     appCfg.MailSMTPPort,
			Username: appCfg.MailSMTPUser,
			Password: appCfg.MailSMTPPass,
			From:     appCfg.MailFrom,
			FromName: appCfg.MailFromName,
		}, logger),
		Tx:    tx,
		Audit: rt.Audit,
		Log:   logger,
	}, accountsvc.Config{
		BaseURL:       appCfg.BaseURL,
		ConfirmExpiry: appCfg.EmailConfirmExpiry,
	})

	var bot *telegram.Bot
	var api *tgbotapi.BotAPI
	if appCfg.TelegramBotToken != "" {
		api, err = tgbotapi.NewBotAPI(appCfg.TelegramBotToken)
		if err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
		bot = telegram.NewBot(api, logger)
		logger.Info("telegram bot authorized", zap.String("bot", api.Self.UserName))
	} else {
		logger.Warn("telegram_bot_token is blank; login codes will not be delivered")
	}

	handshakeDeps := handshake.Deps{
		Credentials: rt.Accounts,
		Users:       users,
		Challenges:  challenges,
		Memberships: memberships,
		Tokens:      tokens,
		Audit:       rt.Audit,
		Log:         logger,
	}
	if bot != nil {
		handshakeDeps.Sender = bot
	}
	rt.Handshake = handshake.New(handshakeDeps, handshake.Config{
		ChallengeTTL: appCfg.ChallengeTTL,
		MaxAttempts:  appCfg.ChallengeMaxAttempts,
	})
	if bot != nil {
		rt.Poller = telegram.NewPoller(api, bot, rt.Handshake, logger, appCfg.TelegramPollTimeout)
		rt.Poller.Start()
	}

	rt.Companies = companysvc.New(companysvc.Deps{
		Companies:   companies,
		Memberships: memberships,
		Users:       users,
		Cascade:     []companysvc.CompanyScoped{tasks, applications, invitations, memberships},
		Policy:      policy,
		Tx:          tx,
		Events:      rt.Events,
		Audit:       rt.Audit,
		Log:         logger,
	})
	rt.Invitations = invitationsvc.New(invitationsvc.Deps{
		Invitations: invitations,
		Memberships: memberships,
		Companies:   companies,
		Users:       users,
		Policy:      policy,
		Tx:          tx,
		Events:      rt.Events,
		Audit:       rt.Audit,
		Log:         logger,
	})
	rt.Tasks = tasksvc.New(tasksvc.Deps{
		Tasks:  tasks,
		Policy: policy,
		Events: rt.Events,
		Log:    logger,
	})
	rt.Applications = applicationsvc.New(applicationsvc.Deps{
		Applications: applications,
		Memberships:  memberships,
		Policy:       policy,
		Events:       rt.Events,
		Log:          logger,
	})

	rt.Jobs = workers.NewScheduler(logger,
		workers.ChallengeCleanupJob(challenges, logger),
		workers.ConfirmationCleanupJob(confirmations, logger),
	)
	rt.Jobs.Start()

	return nil
}
