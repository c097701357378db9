// internal/app/system/txn/txn.go
// Package txn runs multi-document writes in a MongoDB transaction when the
// deployment supports one, and falls back to plain sequential writes on
// standalone servers.
package txn

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Runner executes functions inside a transaction.
type Runner struct {
	client *mongo.Client
	log    *zap.Logger
}

// New constructs a Runner.
func New(client *mongo.Client, logger *zap.Logger) *Runner {
	return &Runner{client: client, log: logger}
}

// Run calls fn with a session context bound to a transaction. fn must only
// do database work; it may be retried on transient transaction errors.
// When transactions are not supported, fn runs once without one.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := r.client.StartSession()
	if err != nil {
		if IsNotSupported(err) {
			return r.fallback(ctx, fn, err)
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		return r.fallback(ctx, fn, err)
	}
	return err
}

func (r *Runner) fallback(ctx context.Context, fn func(ctx context.Context) error, cause error) error {
	r.log.Debug("transactions unavailable, running without one", zap.Error(cause))
	return fn(ctx)
}

// Server error codes meaning "transactions are not available here".
var notSupportedCodes = []int{
	20,  // IllegalOperation: transaction numbers only allowed on a replica set member or mongos
	51,  // IllegalOperation variants on older servers
	263, // OperationNotSupportedInTransaction
}

var notSupportedKeywords = []string{"transaction", "replica set", "session", "not supported", "illegal operation"}

// IsNotSupported reports whether err says the deployment cannot run
// transactions. Messages are matched on two or more keywords so that an
// ordinary error merely mentioning a transaction does not qualify.
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range notSupportedCodes {
			if se.HasErrorCode(code) {
				return true
			}
		}
	}
	msg := strings.ToLower(err.Error())
	hits := 0
	for _, kw := range notSupportedKeywords {
		if strings.Contains(msg, kw) {
			hits++
		}
	}
	return hits >= 2
}
