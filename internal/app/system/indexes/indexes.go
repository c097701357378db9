// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"strings"
	"time"

	applicationstore "github.com/dalemusser/unchainme/internal/app/store/applications"
	"github.com/dalemusser/unchainme/internal/app/store/audit"
	challengestore "github.com/dalemusser/unchainme/internal/app/store/challenges"
	companystore "github.com/dalemusser/unchainme/internal/app/store/companies"
	"github.com/dalemusser/unchainme/internal/app/store/emailconfirm"
	invitationstore "github.com/dalemusser/unchainme/internal/app/store/invitations"
	membershipstore "github.com/dalemusser/unchainme/internal/app/store/memberships"
	taskstore "github.com/dalemusser/unchainme/internal/app/store/tasks"
	userstore "github.com/dalemusser/unchainme/internal/app/store/users"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type ensurer interface {
	EnsureIndexes(ctx context.Context) error
}

/*
EnsureAll is called at startup. Each store's EnsureIndexes is idempotent.
We aggregate errors so any problem is visible and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	sets := []struct {
		name string
		s    ensurer
	}{
		{"users", userstore.New(db)},
		{"companies", companystore.New(db)},
		{"company_memberships", membershipstore.New(db)},
		{"invitations", invitationstore.New(db)},
		{"login_challenges", challengestore.New(db)},
		{"tasks", taskstore.New(db)},
		{"applications", applicationstore.New(db)},
		{"email_confirmations", emailconfirm.New(db, 0)},
		{"audit_events", audit.New(db)},
	}

	var problems []string
	for _, set := range sets {
		start := time.Now()
		if err := set.s.EnsureIndexes(ctx); err != nil {
			logger.Warn("ensure indexes failed", zap.String("collection", set.name), zap.Error(err))
			problems = append(problems, set.name+": "+err.Error())
			continue
		}
		logger.Debug("indexes ensured",
			zap.String("collection", set.name),
			zap.Duration("took", time.Since(start)))
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
