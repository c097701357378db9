// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown stops the workers, drains queued notifications and closes the
// backend connections. Producers stop first so nothing emits into a stopped
// dispatcher.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if rt := deps.rt; rt != nil {
		if rt.Poller != nil {
			rt.Poller.Stop()
		}
		if rt.Jobs != nil {
			rt.Jobs.Stop()
		}
		if rt.Events != nil {
			rt.Events.Stop()
		}
		if rt.Subscriber != nil {
			rt.Subscriber.Stop()
		}
		if rt.Hub != nil {
			rt.Hub.Close()
		}
		if rt.Logins != nil {
			rt.Logins.Stop()
		}
		if rt.Resends != nil {
			rt.Resends.Stop()
		}
	}

	if deps.Redis != nil {
		if err := deps.Redis.Close(); err != nil {
			logger.Warn("Redis close failed", zap.Error(err))
		}
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
