package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrphanedBlob records a blob that no product may reference any more.
// The sweeper verifies that before deleting anything.
type OrphanedBlob struct {
	BlobID    string `gorm:"primaryKey;size:191"`
	Reason    string `gorm:"size:64"`
	CreatedAt time.Time
}

func (o *OrphanedBlob) TableName() string {
	return "orphaned_blob"
}

type OrphansRepository struct {
	db *gorm.DB
}

func NewOrphansRepository(db *gorm.DB) *OrphansRepository {
	return &OrphansRepository{db: db}
}

// Record adds blobID to the ledger. Recording the same blob twice is a no-op.
func (r *OrphansRepository) Record(ctx context.Context, blobID, reason string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&OrphanedBlob{BlobID: blobID, Reason: reason}).Error
	return storageErr("record orphan", err, nil)
}

func (r *OrphansRepository) List(ctx context.Context) ([]OrphanedBlob, error) {
	orphans := []OrphanedBlob{}
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&orphans).Error; err != nil {
		return nil, storageErr("list orphans", err, nil)
	}
	return orphans, nil
}

func (r *OrphansRepository) Remove(ctx context.Context, blobID string) error {
	err := r.db.WithContext(ctx).Where("blob_id = ?", blobID).Delete(&OrphanedBlob{}).Error
	return storageErr("remove orphan", err, nil)
}
