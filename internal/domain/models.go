package domain

import "time"

// CommunityRecord is the SQLite row holding one community's configuration.
// The configuration is stored as the same JSON document the Redis backend
// keeps under config:<community>, so records move between backends as-is.
//
// Fields:
//   - CommunityID: platform id of the community (primary key).
//   - Payload: JSON-encoded CommunityConfig.
//   - UpdatedAt: last write time, managed by GORM.
type CommunityRecord struct {
	CommunityID string    `gorm:"type:varchar(32);primaryKey"`
	Payload     string    `gorm:"type:text;not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the database table name for CommunityRecord.
func (CommunityRecord) TableName() string { return "community_configs" }

// OnboardingMember is one element of a community's OnboardingState.
// The composite primary key makes the table a set per community.
type OnboardingMember struct {
	CommunityID string    `gorm:"type:varchar(32);primaryKey"`
	MemberID    string    `gorm:"type:varchar(32);primaryKey"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName returns the database table name for OnboardingMember.
func (OnboardingMember) TableName() string { return "onboarding_members" }
