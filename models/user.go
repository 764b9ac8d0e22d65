package models

import (
	"regexp"
	"time"

	"gorm.io/gorm"
)

// User represents a forum participant
type User struct {
	gorm.Model
	ID       int64  `json:"id" gorm:"primary_key"`
	Username string `json:"username" gorm:"unique;not null;size:50"`

	// Authentication
	PasswordHash string `json:"-" gorm:"not null"`

	// External wallet binding - at most one user per address
	WalletAddress *string    `json:"walletAddress,omitempty" gorm:"uniqueIndex:idx_users_wallet"`
	WalletBoundAt *time.Time `json:"walletBoundAt,omitempty"`

	IsActive bool `json:"isActive" gorm:"default:true"`
}

// UserPublic is the public-facing user profile
type UserPublic struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	HasWallet bool   `json:"hasWallet"`
}

// ToPublic converts User to UserPublic (hides sensitive fields)
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:        u.ID,
		Username:  u.Username,
		HasWallet: u.WalletAddress != nil && *u.WalletAddress != "",
	}
}

var walletAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidWalletAddress reports whether s looks like an external ledger address.
func ValidWalletAddress(s string) bool {
	return walletAddressPattern.MatchString(s)
}
