package bill

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wexel/wexel/internal/extraction"
)

// ErrNotFound is returned when a bill, aggregate or contact does not exist
// (or belongs to another owner).
var ErrNotFound = errors.New("not found")

// ValidationError reports bad caller input, such as a non-numeric total
// override or an invalid date.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Record is one extracted bill document. Fields is the raw normalized
// extraction; CanonicalTotal is the single derived figure used for
// aggregation. BillDate is the aggregation key and is distinct from the
// capture timestamp in CreatedAt.
type Record struct {
	ID             string                  `json:"id"`
	OwnerID        string                  `json:"owner_id"`
	ContactID      string                  `json:"contact_id,omitempty"`
	ImagePath      string                  `json:"image_path"`
	ContentType    string                  `json:"content_type"`
	Kind           extraction.DocumentKind `json:"document_kind"`
	Fields         map[string]any          `json:"fields"`
	CanonicalTotal decimal.Decimal         `json:"canonical_total"`
	BillDate       time.Time               `json:"bill_date"`
	ProcessedAt    *time.Time              `json:"processed_at,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// DailyAggregate is the materialized per-(owner, day) running sum of
// canonical totals. It is never hand-edited: every bill write recomputes it.
// Rows persist even when their last bill is deleted (gross total resets to
// zero); removal is an external housekeeping concern.
type DailyAggregate struct {
	OwnerID    string          `json:"owner_id"`
	SheetDate  time.Time       `json:"sheet_date"`
	GrossTotal decimal.Decimal `json:"gross_total"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Contact is a WhatsApp sender whose incoming bill photos are attributed to
// the owning user.
type Contact struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	PhoneNumber string    `json:"phone_number"`
	DisplayName string    `json:"display_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DayOf truncates a timestamp to its UTC calendar day, the aggregate key.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateKey renders an aggregate day as its storage/display key.
func DateKey(t time.Time) string {
	return DayOf(t).Format("2006-01-02")
}
