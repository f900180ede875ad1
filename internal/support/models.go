package support

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Category string

const (
	CategoryBilling             Category = "billing"
	CategoryTechnicalIssue      Category = "technical_issue"
	CategoryCancellationRequest Category = "cancellation_request"
	CategoryFeatureRequest      Category = "feature_request"
	CategoryComplaint           Category = "complaint"
	CategoryGeneralInquiry      Category = "general_inquiry"
	CategoryOther               Category = "other"
)

var Categories = []Category{
	CategoryBilling,
	CategoryTechnicalIssue,
	CategoryCancellationRequest,
	CategoryFeatureRequest,
	CategoryComplaint,
	CategoryGeneralInquiry,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Request is a customer support submission. Input fields are written once
// at creation; derived fields stay nil until the request is completed.
type Request struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	CustomerName string `gorm:"type:varchar(100);not null" json:"customer_name"`
	Email        string `gorm:"type:varchar(255);not null" json:"email"`
	Subject      string `gorm:"type:varchar(200);not null" json:"subject"`
	Description  string `gorm:"type:text;not null" json:"description"`

	// Filled when completed
	Category             *Category `gorm:"type:varchar(50);index" json:"category"`
	AISummary            *string   `gorm:"type:text" json:"ai_summary"`
	Confidence           *float64  `json:"confidence"`
	ClassificationMethod *string   `gorm:"type:varchar(20)" json:"classification_method"`

	ProcessingStatus Status `gorm:"type:varchar(20);index;not null;default:pending" json:"processing_status"`
	NotificationSent bool   `gorm:"not null;default:false" json:"notification_sent"`
	// set when the notification task could not be queued after completion
	NotificationPending bool `gorm:"not null;default:false;index" json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

func (Request) TableName() string { return "support_requests" }

// CategoryOrEmpty returns the category, or "" while unclassified.
func (r *Request) CategoryOrEmpty() Category {
	if r.Category == nil {
		return ""
	}
	return *r.Category
}

// Classification is the derived data persisted on completion.
type Classification struct {
	Category   Category
	Summary    string
	Confidence float64
	Method     string
}
