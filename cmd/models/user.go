package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const RoleConsultant = "consultant"

type User struct {
    gorm.Model
    FullName       string    `gorm:"column:full_name;size:255;not null" json:"full_name"`
    Email          string    `gorm:"column:email;size:255;not null" json:"email"`
    PasswordHash   string    `gorm:"column:password_hash;size:255;not null" json:"password_hash"`
    Role           string    `gorm:"column:role;size:50;not null" json:"role"`
    Phone          string    `gorm:"column:phone;size:20" json:"phone"`
    EmailVerified  bool      `gorm:"column:email_verified;default:false" json:"email_verified"`
    Status         string    `gorm:"column:status;size:50;not null;default:inactive" json:"status"`
    Refresh        string    `gorm:"column:refresh_token;size:255" json:"refresh_token"`
    RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"refresh_token_expired_at"`

    Consultant     *Consultant `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"consultant,omitempty"`
}

type Consultant struct {
    gorm.Model
    UserID         uint           `gorm:"column:user_id;not null" json:"user_id"`
    HourlyRate     int64          `gorm:"column:hourly_rate;not null;default:0" json:"hourly_rate"` // minor currency units per hour
    Skills         pq.StringArray `gorm:"type:text[];column:skills" json:"skills,omitempty"`
    Bio            string         `gorm:"column:bio;type:text" json:"bio"`
    Verified       bool           `gorm:"column:verified;default:false" json:"verified"`

    AverageRating  float64   `gorm:"column:average_rating;default:0" json:"average_rating"`
    TotalRatings   int       `gorm:"column:total_ratings;default:0" json:"total_ratings"`

    User           *User     `gorm:"foreignKey:UserID" json:"-"`
    Ratings        []Rating  `gorm:"foreignKey:ConsultantID" json:"ratings,omitempty"`
}

type Rating struct {
    gorm.Model
    UserID       uint    `gorm:"column:user_id;not null" json:"user_id"`             // User who gave the rating
    ConsultantID uint    `gorm:"column:consultant_id;not null" json:"consultant_id"` // Consultant being rated
    Rating       float64 `gorm:"column:rating;not null" json:"rating"`               // Rating value (1-5)
    Comment      string  `gorm:"column:comment;type:text" json:"comment"`            // Optional comment
    User         *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
    Consultant   *Consultant `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
}

func (Rating) TableName() string {
    return "ratings"
}

func (Consultant) TableName() string {
    return "consultants"
}
