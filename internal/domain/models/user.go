// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is an account that can sign in and belong to companies.
//
// NOTE:
//   - Company roles are not embedded on User.
//     Use the company_memberships collection to discover a user's roles.
//   - ChannelChatID is the Telegram chat bound to the account; nil means the
//     user has not linked the bot yet and cannot complete a login.
type User struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email          string             `bson:"email" json:"email"` // normalized, unique
	Name           string             `bson:"name" json:"name"`
	Surname        string             `bson:"surname" json:"surname"`
	PasswordHash   string             `bson:"password_hash" json:"-"`
	EmailConfirmed bool               `bson:"email_confirmed" json:"email_confirmed"`

	ChannelChatID          *int64 `bson:"channel_chat_id,omitempty" json:"-"`
	UsedSecondFactorBefore bool   `bson:"used_second_factor_before" json:"used_second_factor_before"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ChannelLinked reports whether the user has bound an external channel.
func (u User) ChannelLinked() bool {
	return u.ChannelChatID != nil
}

// FullName joins name and surname for display.
func (u User) FullName() string {
	switch {
	case u.Name == "":
		return u.Surname
	case u.Surname == "":
		return u.Name
	}
	return u.Name + " " + u.Surname
}
