package bill

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wexel/wexel/internal/extraction"
)

// maxImageBytes is the upload ceiling the extraction contract assumes.
const maxImageBytes = 10 << 20 // 10MB

// phonePattern validates E.164 phone numbers for contacts.
var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// IDGenerator generates unique IDs for bills and contacts.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// SheetFunc renders a day's bills into a spreadsheet document. Injected so
// the projection stays a pure function in its own package.
type SheetFunc func(bills []*Record, date time.Time) ([]byte, error)

// Service handles bill operations: processing uploads through the extraction
// adapter, reconciling daily aggregates, and serving exports.
type Service struct {
	db          DB
	extractor   extraction.Extractor
	storage     Storage
	reconciler  *Reconciler
	buildSheet  SheetFunc
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
func NewService(db DB, extractor extraction.Extractor, storage Storage, buildSheet SheetFunc) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		reconciler:  NewReconciler(db),
		buildSheet:  buildSheet,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing.
func NewServiceWithDeps(db DB, extractor extraction.Extractor, storage Storage, buildSheet SheetFunc, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		reconciler:  NewReconciler(db),
		buildSheet:  buildSheet,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length; phone cameras produce long noisy names.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "bill"
	}

	return base + ext
}

// ProcessInput carries one incoming bill image, from an upload or a webhook.
type ProcessInput struct {
	OwnerID     string
	ContactID   string
	Filename    string
	Data        []byte
	ContentType string
	BillDate    *time.Time // aggregation day; defaults to the capture day
}

// ProcessBill stores the image, runs extraction, persists the normalized
// record and reconciles the day's aggregate. Extraction runs before any
// persistence and holds no locks; on failure no record is left behind and
// the stored image is removed.
func (s *Service) ProcessBill(in ProcessInput) (*Record, error) {
	if in.OwnerID == "" {
		return nil, &ValidationError{Field: "ownerId", Reason: "is required"}
	}
	if len(in.Data) == 0 {
		return nil, &ValidationError{Field: "file", Reason: "is empty"}
	}
	if len(in.Data) > maxImageBytes {
		return nil, &ValidationError{Field: "file", Reason: "exceeds 10MB limit"}
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now().UTC()

	cleanFilename := sanitizeFilename(in.Filename)

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, cleanFilename), in.Data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	result, err := s.extractor.Extract(in.Data, in.ContentType)
	if err != nil {
		slog.Error("Failed to extract bill data",
			"filename", in.Filename,
			"content_type", in.ContentType,
			"file_size", len(in.Data),
			"error", err,
		)
		// No partial record survives a failed extraction
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("extracting bill data: %w", err)
	}

	billDate := DayOf(now)
	if in.BillDate != nil {
		billDate = DayOf(*in.BillDate)
	}

	record := &Record{
		ID:             id,
		OwnerID:        in.OwnerID,
		ContactID:      in.ContactID,
		ImagePath:      savedPath,
		ContentType:    in.ContentType,
		Kind:           result.Kind,
		Fields:         result.Fields,
		CanonicalTotal: Canonicalize(result),
		BillDate:       billDate,
		ProcessedAt:    &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.db.SaveBill(record); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving bill: %w", err)
	}

	if err := s.reconciler.Reconcile(in.OwnerID, billDate); err != nil {
		// Roll back rather than commit a record with unknown aggregate state
		if delErr := s.db.DeleteBill(id); delErr != nil {
			slog.Error("Failed to roll back bill after reconcile failure", "id", id, "error", delErr)
		}
		s.storage.Delete(savedPath)
		return nil, err
	}

	return record, nil
}

// GetBill retrieves a bill, scoped to its owner.
func (s *Service) GetBill(ownerID, id string) (*Record, error) {
	record, err := s.db.GetBill(id)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	if record.OwnerID != ownerID {
		return nil, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}
	return record, nil
}

// ListBills returns an owner's bills with bill dates in [from, to].
func (s *Service) ListBills(ownerID string, from, to time.Time) ([]*Record, error) {
	records, err := s.db.ListBills(ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	return records, nil
}

// BillImage retrieves the stored image for a bill.
func (s *Service) BillImage(ownerID, id string) ([]byte, string, error) {
	record, err := s.GetBill(ownerID, id)
	if err != nil {
		return nil, "", err
	}

	data, err := s.storage.Get(record.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill image: %w", err)
	}

	return data, record.ContentType, nil
}

// UpdateRequest is a partial edit of a bill record.
type UpdateRequest struct {
	// Fields are merged key-by-key into the record's open mapping; the
	// merged mapping is re-classified and the canonical total recomputed
	Fields map[string]any

	// TotalAmount, when present, explicitly overrides the canonical total.
	// Must coerce to a number.
	TotalAmount any

	// BillDate moves the record to another aggregate day
	BillDate *time.Time
}

// UpdateBill applies an edit and reconciles every aggregate day it touched.
// A billDate change touches two days and both are recomputed in the same
// logical operation.
func (s *Service) UpdateBill(ownerID, id string, req UpdateRequest) (*Record, error) {
	record, err := s.GetBill(ownerID, id)
	if err != nil {
		return nil, err
	}

	oldDate := record.BillDate

	if len(req.Fields) > 0 {
		if record.Fields == nil {
			record.Fields = make(map[string]any, len(req.Fields))
		}
		for k, v := range req.Fields {
			record.Fields[k] = v
		}
		result := extraction.Classify(record.Fields)
		record.Kind = result.Kind
		record.CanonicalTotal = Canonicalize(result)
	}

	if req.TotalAmount != nil {
		d, ok := toDecimal(req.TotalAmount)
		if !ok {
			return nil, &ValidationError{Field: "totalAmount", Reason: "must be numeric"}
		}
		record.CanonicalTotal = d
	}

	if req.BillDate != nil {
		record.BillDate = DayOf(*req.BillDate)
	}

	record.UpdatedAt = s.timeSource.Now().UTC()

	if err := s.db.SaveBill(record); err != nil {
		return nil, fmt.Errorf("updating bill: %w", err)
	}

	if err := s.reconciler.Reconcile(ownerID, oldDate, record.BillDate); err != nil {
		return nil, err
	}

	return record, nil
}

// DeleteBill removes a bill and its image, then reconciles its day.
func (s *Service) DeleteBill(ownerID, id string) error {
	record, err := s.GetBill(ownerID, id)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(record.ImagePath); err != nil {
		// The record removal matters more than the file
		slog.Warn("Failed to delete bill image", "path", record.ImagePath, "error", err)
	}

	if err := s.db.DeleteBill(id); err != nil {
		return fmt.Errorf("deleting bill: %w", err)
	}

	return s.reconciler.Reconcile(ownerID, record.BillDate)
}

// SheetForDate returns the aggregate row and the day's bills in capture
// order. A day with no aggregate yet reads as zero.
func (s *Service) SheetForDate(ownerID string, date time.Time) (*DailyAggregate, []*Record, error) {
	agg, err := s.db.GetAggregate(ownerID, date)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("getting aggregate: %w", err)
		}
		agg = &DailyAggregate{
			OwnerID:    ownerID,
			SheetDate:  DayOf(date),
			GrossTotal: decimal.Zero,
		}
	}

	bills, err := s.db.BillsForDate(ownerID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("listing bills: %w", err)
	}

	return agg, bills, nil
}

// ListSheets returns an owner's aggregates with sheet dates in [from, to].
func (s *Service) ListSheets(ownerID string, from, to time.Time) ([]*DailyAggregate, error) {
	aggs, err := s.db.ListAggregates(ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing aggregates: %w", err)
	}
	return aggs, nil
}

// ExportSheet renders the day's bills into an xlsx document and returns the
// bytes with a download filename.
func (s *Service) ExportSheet(ownerID string, date time.Time) ([]byte, string, error) {
	bills, err := s.db.BillsForDate(ownerID, date)
	if err != nil {
		return nil, "", fmt.Errorf("listing bills: %w", err)
	}
	if len(bills) == 0 {
		return nil, "", fmt.Errorf("no bills for %s: %w", DateKey(date), ErrNotFound)
	}

	data, err := s.buildSheet(bills, DayOf(date))
	if err != nil {
		return nil, "", fmt.Errorf("building sheet: %w", err)
	}

	filename := fmt.Sprintf("wexel-sheet-%s.xlsx", DateKey(date))
	return data, filename, nil
}

// GrossSales sums aggregate gross totals over a trailing period ("week",
// "month", "year"; anything else means all time).
func (s *Service) GrossSales(ownerID, period string) (decimal.Decimal, []*DailyAggregate, error) {
	now := s.timeSource.Now().UTC()
	var since time.Time
	switch period {
	case "week":
		since = now.AddDate(0, 0, -7)
	case "month":
		since = now.AddDate(0, -1, 0)
	case "year":
		since = now.AddDate(-1, 0, 0)
	default:
		since = time.Time{}
	}

	aggs, err := s.db.ListAggregates(ownerID, since, now)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("listing aggregates: %w", err)
	}

	total := decimal.Zero
	for _, a := range aggs {
		total = total.Add(a.GrossTotal)
	}
	return total, aggs, nil
}

// CreateContact registers a WhatsApp sender for an owner.
func (s *Service) CreateContact(ownerID, phoneNumber, displayName string) (*Contact, error) {
	if !phonePattern.MatchString(phoneNumber) {
		return nil, &ValidationError{Field: "phoneNumber", Reason: "must be E.164 format"}
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || len(displayName) > 100 {
		return nil, &ValidationError{Field: "displayName", Reason: "is required and must be under 100 characters"}
	}

	if _, err := s.db.ContactByPhone(ownerID, phoneNumber); err == nil {
		return nil, &ValidationError{Field: "phoneNumber", Reason: "contact with this phone number already exists"}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking contact: %w", err)
	}

	now := s.timeSource.Now().UTC()
	contact := &Contact{
		ID:          s.idGenerator.Generate(),
		OwnerID:     ownerID,
		PhoneNumber: phoneNumber,
		DisplayName: displayName,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.SaveContact(contact); err != nil {
		return nil, fmt.Errorf("saving contact: %w", err)
	}
	return contact, nil
}

// GetContact retrieves a contact, scoped to its owner.
func (s *Service) GetContact(ownerID, id string) (*Contact, error) {
	contact, err := s.db.GetContact(id)
	if err != nil {
		return nil, fmt.Errorf("getting contact: %w", err)
	}
	if contact.OwnerID != ownerID {
		return nil, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	return contact, nil
}

// ActiveContactByPhone resolves an incoming webhook sender to a contact.
func (s *Service) ActiveContactByPhone(ownerID, phoneNumber string) (*Contact, error) {
	contact, err := s.db.ContactByPhone(ownerID, phoneNumber)
	if err != nil {
		return nil, err
	}
	if !contact.IsActive {
		return nil, fmt.Errorf("contact %s is inactive: %w", phoneNumber, ErrNotFound)
	}
	return contact, nil
}

// ListContacts returns all contacts for an owner.
func (s *Service) ListContacts(ownerID string) ([]*Contact, error) {
	contacts, err := s.db.ListContacts(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing contacts: %w", err)
	}
	return contacts, nil
}

// UpdateContact edits a contact's display name and/or active flag.
func (s *Service) UpdateContact(ownerID, id string, displayName *string, isActive *bool) (*Contact, error) {
	contact, err := s.GetContact(ownerID, id)
	if err != nil {
		return nil, err
	}

	if displayName != nil {
		name := strings.TrimSpace(*displayName)
		if name == "" || len(name) > 100 {
			return nil, &ValidationError{Field: "displayName", Reason: "must be under 100 characters"}
		}
		contact.DisplayName = name
	}
	if isActive != nil {
		contact.IsActive = *isActive
	}
	contact.UpdatedAt = s.timeSource.Now().UTC()

	if err := s.db.SaveContact(contact); err != nil {
		return nil, fmt.Errorf("updating contact: %w", err)
	}
	return contact, nil
}

// DeleteContact removes a contact. Its bills remain.
func (s *Service) DeleteContact(ownerID, id string) error {
	if _, err := s.GetContact(ownerID, id); err != nil {
		return err
	}
	if err := s.db.DeleteContact(id); err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}
	return nil
}

// ContactPhotos returns the bills received from one contact, newest first.
func (s *Service) ContactPhotos(ownerID, contactID string) ([]*Record, error) {
	if _, err := s.GetContact(ownerID, contactID); err != nil {
		return nil, err
	}
	records, err := s.db.BillsForContact(ownerID, contactID)
	if err != nil {
		return nil, fmt.Errorf("listing contact bills: %w", err)
	}
	return records, nil
}
