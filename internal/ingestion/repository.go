package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reelrally/reelrally-backend/pkg/db/models"
	"github.com/reelrally/reelrally-backend/pkg/enums"
)

// Repository owns the canonical catalog writes. All upserts are keyed on the
// (platform, external_id) unique indexes so re-applying a payload converges
// instead of duplicating rows.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// UpsertCreator inserts or refreshes the canonical creator row. Unless
// overwriteStale is set, the update only applies when the incoming record was
// scraped at or after the stored one, so replayed stale payloads cannot
// resurrect old follower counts.
func (r *Repository) UpsertCreator(ctx context.Context, tx *gorm.DB, creator *models.Creator, overwriteStale bool) (*models.Creator, error) {
	if creator.ID == uuid.Nil {
		creator.ID = uuid.New()
	}

	onConflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "platform"}, {Name: "external_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"handle":         gorm.Expr("excluded.handle"),
			"display_name":   gorm.Expr("COALESCE(excluded.display_name, creators.display_name)"),
			"avatar_url":     gorm.Expr("COALESCE(excluded.avatar_url, creators.avatar_url)"),
			"bio":            gorm.Expr("COALESCE(excluded.bio, creators.bio)"),
			"follower_count": gorm.Expr("excluded.follower_count"),
			"scraped_at":     gorm.Expr("excluded.scraped_at"),
			"updated_at":     gorm.Expr("excluded.updated_at"),
		}),
	}
	if !overwriteStale {
		onConflict.Where = clause.Where{Exprs: []clause.Expression{
			gorm.Expr("excluded.scraped_at >= creators.scraped_at"),
		}}
	}

	if err := r.conn(tx).WithContext(ctx).Clauses(onConflict).Create(creator).Error; err != nil {
		return nil, err
	}

	var stored models.Creator
	err := r.conn(tx).WithContext(ctx).
		Where("platform = ? AND external_id = ?", creator.Platform, creator.ExternalID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpsertVideo inserts or refreshes the canonical video row with the same
// newer-only metric semantics as UpsertCreator.
func (r *Repository) UpsertVideo(ctx context.Context, tx *gorm.DB, video *models.Video, overwriteStale bool) (*models.Video, error) {
	if video.ID == uuid.Nil {
		video.ID = uuid.New()
	}

	onConflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "platform"}, {Name: "external_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"creator_id":      gorm.Expr("COALESCE(excluded.creator_id, videos.creator_id)"),
			"canonical_url":   gorm.Expr("excluded.canonical_url"),
			"caption":         gorm.Expr("COALESCE(excluded.caption, videos.caption)"),
			"cover_url":       gorm.Expr("COALESCE(excluded.cover_url, videos.cover_url)"),
			"sound_title":     gorm.Expr("COALESCE(excluded.sound_title, videos.sound_title)"),
			"sound_cover_url": gorm.Expr("COALESCE(excluded.sound_cover_url, videos.sound_cover_url)"),
			"view_count":      gorm.Expr("excluded.view_count"),
			"like_count":      gorm.Expr("excluded.like_count"),
			"comment_count":   gorm.Expr("excluded.comment_count"),
			"share_count":     gorm.Expr("excluded.share_count"),
			"posted_at":       gorm.Expr("COALESCE(excluded.posted_at, videos.posted_at)"),
			"scraped_at":      gorm.Expr("excluded.scraped_at"),
			"updated_at":      gorm.Expr("excluded.updated_at"),
		}),
	}
	if !overwriteStale {
		onConflict.Where = clause.Where{Exprs: []clause.Expression{
			gorm.Expr("excluded.scraped_at >= videos.scraped_at"),
		}}
	}

	if err := r.conn(tx).WithContext(ctx).Omit("Hashtags").Clauses(onConflict).Create(video).Error; err != nil {
		return nil, err
	}

	var stored models.Video
	err := r.conn(tx).WithContext(ctx).
		Where("platform = ? AND external_id = ?", video.Platform, video.ExternalID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpsertHashtags records hashtag facts for the video. Existing (video, tag)
// pairs are left untouched.
func (r *Repository) UpsertHashtags(ctx context.Context, tx *gorm.DB, videoID uuid.UUID, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	rows := make([]models.VideoHashtag, 0, len(tags))
	for _, tag := range tags {
		rows = append(rows, models.VideoHashtag{
			ID:      uuid.New(),
			VideoID: videoID,
			Tag:     tag,
		})
	}
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "video_id"}, {Name: "tag"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

// SubmissionsForSnapshot returns the submissions waiting on the job handle.
func (r *Repository) SubmissionsForSnapshot(ctx context.Context, tx *gorm.DB, handle string) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.conn(tx).WithContext(ctx).
		Where("snapshot_id = ?", handle).
		Order("created_at ASC").
		Find(&submissions).Error
	return submissions, err
}

// SubmissionsForKey returns submissions matching the subject key that are not
// yet terminal, regardless of which job handle they are waiting on.
func (r *Repository) SubmissionsForKey(ctx context.Context, tx *gorm.DB, platform enums.Platform, externalID string) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.conn(tx).WithContext(ctx).
		Where("platform = ? AND external_id = ?", platform, externalID).
		Order("created_at ASC").
		Find(&submissions).Error
	return submissions, err
}

// AdvanceSnapshotSubmissions moves every submission on the handle that has
// not yet reached the given pipeline stage into it. Rows already at or past
// the stage are left untouched.
func (r *Repository) AdvanceSnapshotSubmissions(ctx context.Context, tx *gorm.DB, handle string, next enums.SubmissionStatus) error {
	earlier := enums.SubmissionStatusesBefore(next)
	if len(earlier) == 0 {
		return fmt.Errorf("no pipeline stage precedes %q", next)
	}
	return r.conn(tx).WithContext(ctx).
		Model(&models.Submission{}).
		Where("snapshot_id = ? AND status IN ?", handle, earlier).
		Updates(map[string]any{"status": next, "updated_at": time.Now().UTC()}).Error
}

// UpdateSubmission applies the given column updates.
func (r *Repository) UpdateSubmission(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return r.conn(tx).WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// InsertLog appends a reconciliation failure record. Runs outside the failed
// transaction so the log row survives the rollback.
func (r *Repository) InsertLog(ctx context.Context, log *models.IngestionLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(log).Error
}
