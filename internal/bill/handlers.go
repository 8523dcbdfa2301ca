package bill

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// setCORSHeaders sets CORS headers on a response.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps a service error onto the HTTP taxonomy.
func writeError(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": vErr.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		slog.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// parseDay parses a YYYY-MM-DD request parameter.
func parseDay(value string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return day, nil
}

// handleListBills returns bills for a single day or a date range.
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var from, to time.Time
	switch {
	case q.Get("date") != "":
		day, err := parseDay(q.Get("date"))
		if err != nil {
			writeError(w, err)
			return
		}
		from, to = day, day
	case q.Get("startDate") != "" && q.Get("endDate") != "":
		var err error
		if from, err = parseDay(q.Get("startDate")); err != nil {
			writeError(w, err)
			return
		}
		if to, err = parseDay(q.Get("endDate")); err != nil {
			writeError(w, err)
			return
		}
	default:
		from, to = time.Time{}, DayOf(time.Now().AddDate(100, 0, 0))
	}

	bills, err := s.service.ListBills(s.owner, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	// surface the canonicalized grid view alongside the raw record
	type billWithView struct {
		*Record
		View RowView `json:"view"`
	}
	out := make([]billWithView, 0, len(bills))
	for _, b := range bills {
		out = append(out, billWithView{Record: b, View: ViewOf(b)})
	}

	writeJSON(w, http.StatusOK, map[string]any{"bills": out})
}

// handleUploadBill accepts a multipart bill image, runs extraction and
// persists the record.
func (s *Server) handleUploadBill(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Error parsing form. Maximum file size is 10MB.",
		})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "No image file provided",
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Error reading file. Please try again.",
		})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	in := ProcessInput{
		OwnerID:     s.owner,
		Filename:    header.Filename,
		Data:        data,
		ContentType: contentType,
	}
	if v := r.FormValue("billDate"); v != "" {
		day, err := parseDay(v)
		if err != nil {
			writeError(w, err)
			return
		}
		in.BillDate = &day
	}

	record, err := s.service.ProcessBill(in)
	if err != nil {
		slog.Error("Error processing bill", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"bill": record})
}

// contentTypeFromExt guesses a content type for uploads without one.
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// handleGetBill returns a single bill.
func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.GetBill(s.owner, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": record, "view": ViewOf(record)})
}

// handleGetBillImage returns the stored image for a bill.
func (s *Server) handleGetBillImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.BillImage(s.owner, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleUpdateBill applies a partial edit to a bill.
func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExtractedData map[string]any `json:"extractedData"`
		TotalAmount   any            `json:"totalAmount"`
		BillDate      *string        `json:"billDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	req := UpdateRequest{
		Fields:      body.ExtractedData,
		TotalAmount: body.TotalAmount,
	}
	if body.BillDate != nil {
		day, err := parseDay(*body.BillDate)
		if err != nil {
			writeError(w, err)
			return
		}
		req.BillDate = &day
	}

	record, err := s.service.UpdateBill(s.owner, r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": record, "view": ViewOf(record)})
}

// handleDeleteBill deletes a bill.
func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBill(s.owner, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Bill deleted successfully"})
}

// handleListSheets returns daily aggregates, optionally range-filtered.
func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := time.Time{}
	to := DayOf(time.Now().AddDate(100, 0, 0))
	if q.Get("startDate") != "" && q.Get("endDate") != "" {
		var err error
		if from, err = parseDay(q.Get("startDate")); err != nil {
			writeError(w, err)
			return
		}
		if to, err = parseDay(q.Get("endDate")); err != nil {
			writeError(w, err)
			return
		}
	}

	sheets, err := s.service.ListSheets(s.owner, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sheets": sheets})
}

// handleGetSheet returns one day's aggregate and its bills.
func (s *Server) handleGetSheet(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r.PathValue("date"))
	if err != nil {
		writeError(w, err)
		return
	}

	agg, bills, err := s.service.SheetForDate(s.owner, day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sheet": agg, "bills": bills})
}

// handleExportSheet streams the day's xlsx export.
func (s *Server) handleExportSheet(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r.PathValue("date"))
	if err != nil {
		writeError(w, err)
		return
	}

	data, filename, err := s.service.ExportSheet(s.owner, day)
	if err != nil {
		writeError(w, err)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Write(data)
}

// handleGrossSales sums gross sales over a trailing period.
func (s *Server) handleGrossSales(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	total, sheets, err := s.service.GrossSales(s.owner, period)
	if err != nil {
		writeError(w, err)
		return
	}
	if period == "" {
		period = "all"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period":          period,
		"totalGrossSales": total,
		"sheets":          sheets,
	})
}

// handleListContacts returns all contacts.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.service.ListContacts(s.owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

// handleCreateContact registers a new WhatsApp sender.
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhoneNumber string `json:"phoneNumber"`
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	contact, err := s.service.CreateContact(s.owner, body.PhoneNumber, body.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"contact": contact})
}

// handleGetContact returns a single contact.
func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	contact, err := s.service.GetContact(s.owner, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contact": contact})
}

// handleUpdateContact edits a contact.
func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName *string `json:"displayName"`
		IsActive    *bool   `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	contact, err := s.service.UpdateContact(s.owner, r.PathValue("id"), body.DisplayName, body.IsActive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contact": contact})
}

// handleDeleteContact removes a contact.
func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteContact(s.owner, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Contact deleted successfully"})
}

// handleContactPhotos returns the bills received from one contact.
func (s *Server) handleContactPhotos(w http.ResponseWriter, r *http.Request) {
	contact, err := s.service.GetContact(s.owner, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	photos, err := s.service.ContactPhotos(s.owner, contact.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contact": contact, "photos": photos})
}
