package referrals

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusConverted Status = "converted"
)

// Referral links a referring member to the member they invited. A member is
// referred at most once.
type Referral struct {
	ID               uint   `gorm:"primaryKey"`
	ReferrerMemberID uint   `gorm:"not null;index:idx_referrals_referrer_member_id"`
	RefereeMemberID  uint   `gorm:"not null;uniqueIndex:idx_referrals_referee_member_id"`
	Status           Status `gorm:"type:varchar(16);not null"`
	ConvertedAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
