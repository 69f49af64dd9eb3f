package user

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	Name             string     `json:"name"`
	Email            string     `gorm:"uniqueIndex" json:"email"`
	Mobile           string     `gorm:"uniqueIndex" json:"mobile"`
	CommissionPackID *uuid.UUID `gorm:"type:uuid" json:"commission_pack_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
