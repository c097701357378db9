// internal/app/system/authz/authz.go
// Package authz decides whether a user may perform an action in a company.
//
// Membership rows are the source of truth. Every call re-reads them; token
// claims are never consulted.
package authz

import (
	"context"
	"fmt"

	"github.com/dalemusser/unchainme/internal/app/system/apperr"
	"github.com/dalemusser/unchainme/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MembershipReader loads the membership of one user in one company.
// It returns nil, nil when there is none.
type MembershipReader interface {
	FindMembership(ctx context.Context, companyID, userID primitive.ObjectID) (*models.Membership, error)
}

// Policy evaluates the allow-list against stored memberships.
type Policy struct {
	members MembershipReader
}

// NewPolicy constructs a Policy.
func NewPolicy(members MembershipReader) *Policy {
	return &Policy{members: members}
}

// RoleOf returns the user's role in the company. Non-members and members who
// have not accepted yet get RoleNone.
func (p *Policy) RoleOf(ctx context.Context, userID, companyID primitive.ObjectID) (models.Role, error) {
	m, err := p.members.FindMembership(ctx, companyID, userID)
	if err != nil {
		return models.RoleNone, fmt.Errorf("load membership: %w", err)
	}
	if m == nil || !m.Accepted() {
		return models.RoleNone, nil
	}
	return m.Role, nil
}

// Authorize returns nil if the user's role permits action in the company,
// and an authorization error otherwise. The resolved role is returned so
// callers can branch on it without a second read.
func (p *Policy) Authorize(ctx context.Context, userID, companyID primitive.ObjectID, action Action) (models.Role, error) {
	role, err := p.RoleOf(ctx, userID, companyID)
	if err != nil {
		return models.RoleNone, err
	}
	if role == models.RoleNone {
		return role, apperr.Forbidden("Вы не состоите в этой компании.")
	}
	if !Allows(role, action) {
		return role, apperr.Forbidden("Недостаточно прав для этого действия.")
	}
	return role, nil
}
