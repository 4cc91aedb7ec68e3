package subscriptions

import "time"

// Unlimited marks a quota without a ceiling.
const Unlimited = -1

// UsageLimit holds the quota ceilings a tenant's plan grants.
type UsageLimit struct {
	ID       uint `gorm:"primaryKey"`
	TenantID uint `gorm:"<-:create;not null;uniqueIndex:idx_usage_limits_tenant_id"`

	MaxUsers       int `gorm:"not null"`
	MaxActiveCases int `gorm:"not null"`
	StorageGB      int `gorm:"column:storage_gb;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type planQuota struct {
	includedUsers  int
	maxActiveCases int
	storageGB      int
}

var quotas = map[PlanType]planQuota{
	PlanBasic: {includedUsers: 1, maxActiveCases: 25, storageGB: 5},
	PlanPro:   {includedUsers: 3, maxActiveCases: Unlimited, storageGB: 100},
}

// LimitsFor derives the ceilings for a plan plus purchased extra seats.
// Unknown plans get the basic quota.
func LimitsFor(plan PlanType, extraUsers int) UsageLimit {
	q, ok := quotas[plan]
	if !ok {
		q = quotas[PlanBasic]
	}
	if extraUsers < 0 {
		extraUsers = 0
	}
	return UsageLimit{
		MaxUsers:       q.includedUsers + extraUsers,
		MaxActiveCases: q.maxActiveCases,
		StorageGB:      q.storageGB,
	}
}
