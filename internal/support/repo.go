package support

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a referenced request does not exist.
var ErrNotFound = errors.New("support request not found")

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repo) Create(ctx context.Context, req *Request) error {
	if req.ProcessingStatus == "" {
		req.ProcessingStatus = StatusPending
	}
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *Repo) Get(ctx context.Context, id uint64) (*Request, error) {
	var req Request
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrNotFound, id)
		}
		return nil, err
	}
	return &req, nil
}

// Save writes every column of req; gorm refreshes updated_at.
func (r *Repo) Save(ctx context.Context, req *Request) error {
	return r.db.WithContext(ctx).Save(req).Error
}

// MarkProcessing moves a request into processing unless it already
// completed. It reports whether the row was transitioned.
func (r *Repo) MarkProcessing(ctx context.Context, id uint64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND processing_status <> ?", id, StatusCompleted).
		Updates(map[string]any{
			"processing_status": StatusProcessing,
			"updated_at":        r.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkCompleted stores the classification and sets processed_at in a single
// update. A request that already completed is left untouched, so
// processed_at is written exactly once.
func (r *Repo) MarkCompleted(ctx context.Context, id uint64, c Classification) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND processing_status <> ?", id, StatusCompleted).
		Updates(map[string]any{
			"processing_status":     StatusCompleted,
			"category":              c.Category,
			"ai_summary":            c.Summary,
			"confidence":            c.Confidence,
			"classification_method": c.Method,
			"processed_at":          now,
			"updated_at":            now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND processing_status <> ?", id, StatusCompleted).
		Updates(map[string]any{
			"processing_status":     StatusFailed,
			"category":              nil,
			"ai_summary":            nil,
			"confidence":            nil,
			"classification_method": nil,
			"processed_at":          nil,
			"updated_at":            r.now(),
		}).Error
}

// MarkNotificationSent flips notification_sent from false to true. It
// reports false when another worker already set it.
func (r *Repo) MarkNotificationSent(ctx context.Context, id uint64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND notification_sent = ? AND category = ?", id, false, CategoryCancellationRequest).
		Updates(map[string]any{
			"notification_sent":    true,
			"notification_pending": false,
			"updated_at":           r.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkNotificationPending records that a completed cancellation request
// still needs its notification task queued.
func (r *Repo) MarkNotificationPending(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND notification_sent = ?", id, false).
		Updates(map[string]any{
			"notification_pending": true,
			"updated_at":           r.now(),
		}).Error
}

// ClearNotificationPending is called once the notification task is queued.
func (r *Repo) ClearNotificationPending(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&Request{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"notification_pending": false,
			"updated_at":           r.now(),
		}).Error
}

// PendingNotifications returns up to limit ids marked pending whose
// notification has not been sent, oldest first.
func (r *Repo) PendingNotifications(ctx context.Context, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&Request{}).
		Where("notification_pending = ? AND notification_sent = ?", true, false).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// List returns requests in ascending id order.
func (r *Repo) List(ctx context.Context, status Status, offset, limit int) ([]Request, error) {
	q := r.db.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit)
	if status != "" {
		q = q.Where("processing_status = ?", status)
	}
	var out []Request
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type Stats struct {
	Total             int64              `json:"total_requests"`
	StatusBreakdown   map[Status]int64   `json:"status_breakdown"`
	CategoryBreakdown map[Category]int64 `json:"category_breakdown"`
}

func (r *Repo) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		StatusBreakdown:   map[Status]int64{},
		CategoryBreakdown: map[Category]int64{},
	}
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		st.StatusBreakdown[s] = 0
	}

	var byStatus []struct {
		ProcessingStatus Status
		N                int64
	}
	if err := r.db.WithContext(ctx).Model(&Request{}).
		Select("processing_status, COUNT(*) AS n").
		Group("processing_status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		st.StatusBreakdown[row.ProcessingStatus] = row.N
		st.Total += row.N
	}

	var byCategory []struct {
		Category Category
		N        int64
	}
	if err := r.db.WithContext(ctx).Model(&Request{}).
		Select("category, COUNT(*) AS n").
		Where("category IS NOT NULL").
		Group("category").
		Scan(&byCategory).Error; err != nil {
		return nil, err
	}
	for _, row := range byCategory {
		st.CategoryBreakdown[row.Category] = row.N
	}
	return st, nil
}
