package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the trimmed participant profile the calling service needs:
// identity for addressing calls, display metadata for the incoming-call
// prompt, and API credentials for the REST/WS surface.
type User struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"-" gorm:"autoUpdateTime"`
	DeletedAt *time.Time `json:"-" gorm:"index"`

	UID         string `json:"uid" gorm:"uniqueIndex;size:128;not null"`
	Email       string `json:"email,omitempty" gorm:"size:128;index"`
	DisplayName string `json:"displayName,omitempty" gorm:"size:128"`
	Avatar      string `json:"avatar,omitempty" gorm:"size:500"`

	APIKey    string `json:"-" gorm:"uniqueIndex:idx_users_api_key,length:100"`
	APISecret string `json:"-" gorm:"size:128"`

	Enabled bool `json:"-" gorm:"default:true"`
}

func (User) TableName() string {
	return "users"
}

// CreateUser inserts a user row
func CreateUser(db *gorm.DB, user *User) error {
	return db.Create(user).Error
}

// GetUserByUID fetches a user by external identity
func GetUserByUID(db *gorm.DB, uid string) (*User, error) {
	var user User
	err := db.Where("uid = ?", uid).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByAPIKeyAndSecret fetches an enabled user matching both credentials.
// Returns nil, nil when no row matches.
func GetUserByAPIKeyAndSecret(db *gorm.DB, apiKey, apiSecret string) (*User, error) {
	var user User
	err := db.Where("api_key = ? AND api_secret = ? AND enabled = ?", apiKey, apiSecret, true).
		First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
