package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Username     string    `gorm:"size:30;not null;unique" json:"username"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	Email        string    `gorm:"size:255;not null;unique" json:"email"`
	Password     string    `gorm:"not null" json:"-"`
	ProfileImage *string   `gorm:"size:255" json:"profile_image"`

	Followers []*User `gorm:"many2many:user_follows;foreignKey:ID;joinForeignKey:FolloweeID;references:ID;joinReferences:FollowerID" json:"-"`
	Following []*User `gorm:"many2many:user_follows;foreignKey:ID;joinForeignKey:FollowerID;references:ID;joinReferences:FolloweeID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicProfile is the subset of user fields exposed to other users,
// embedded in conversation summaries and eligible-contact listings.
type PublicProfile struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	ProfileImage *string   `json:"profile_image"`
}

func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:           u.ID,
		Username:     u.Username,
		Name:         u.Name,
		ProfileImage: u.ProfileImage,
	}
}
