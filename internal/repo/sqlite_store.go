package repo

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/rolegate/internal/domain"
)

// SQLiteStore persists configurations and onboarding sets through GORM.
// The configuration is kept as a JSON payload so flow order survives
// storage exactly as it does in the Redis backend.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore wraps an opened and migrated database.
func NewSQLiteStore(db *gorm.DB) *SQLiteStore { return &SQLiteStore{db: db} }

// GetConfig loads a community record, or ErrNotFound.
func (s *SQLiteStore) GetConfig(ctx context.Context, communityID string) (*domain.CommunityConfig, error) {
	var rec domain.CommunityRecord
	err := s.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	var cfg domain.CommunityConfig
	if err := json.Unmarshal([]byte(rec.Payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetConfig upserts a community record.
func (s *SQLiteStore) SetConfig(ctx context.Context, communityID string, cfg *domain.CommunityConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	rec := domain.CommunityRecord{
		CommunityID: communityID,
		Payload:     string(raw),
		UpdatedAt:   time.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "community_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&rec).Error
}

// DeleteConfig removes a community record. Deleting a missing record is not
// an error.
func (s *SQLiteStore) DeleteConfig(ctx context.Context, communityID string) error {
	return s.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Delete(&domain.CommunityRecord{}).Error
}

// GetOnboarding returns the community's member set, empty when none.
func (s *SQLiteStore) GetOnboarding(ctx context.Context, communityID string) (domain.MemberSet, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&domain.OnboardingMember{}).
		Where("community_id = ?", communityID).
		Pluck("member_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return domain.NewMemberSet(ids...), nil
}

// SetOnboarding replaces the community's member set in one transaction.
// Rows for members still present keep their original CreatedAt.
func (s *SQLiteStore) SetOnboarding(ctx context.Context, communityID string, members domain.MemberSet) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("community_id = ?", communityID)
		if len(members) > 0 {
			del = del.Where("member_id NOT IN ?", members.Sorted())
		}
		if err := del.Delete(&domain.OnboardingMember{}).Error; err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		now := time.Now().UTC()
		rows := make([]domain.OnboardingMember, 0, len(members))
		for _, id := range members.Sorted() {
			rows = append(rows, domain.OnboardingMember{CommunityID: communityID, MemberID: id, CreatedAt: now})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

var _ Store = (*SQLiteStore)(nil)
