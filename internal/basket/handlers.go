package basket

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/VaralaVishal/Pan-Management-System/internal/extraction"
	"github.com/VaralaVishal/Pan-Management-System/internal/review"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with CORS headers set
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// errorJSON writes an {"error": ...} response
func errorJSON(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// sessionResponse is the review state returned after every session
// operation: the rows as they currently stand plus the validation
// result keyed by row index.
type sessionResponse struct {
	SessionID  string           `json:"session_id"`
	Text       string           `json:"text"`
	Rows       []extraction.Row `json:"rows"`
	Validation review.Result    `json:"validation"`
	Message    string           `json:"message,omitempty"`
}

func sessionJSON(es *editSession) sessionResponse {
	return sessionResponse{
		SessionID:  es.id,
		Text:       es.text,
		Rows:       es.store.Rows(),
		Validation: es.store.Validation(),
		Message:    es.message,
	}
}

// handleUpload accepts a bill image, runs recognition and seeds a new
// editing session from the recognized text.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Max 50MB to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if strings.Contains(err.Error(), "request body too large") {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		errorJSON(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("image")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No image provided"
		if err.Error() == "http: no such file" {
			errorMsg = "No image was selected. Please choose a file to upload."
		}
		errorJSON(w, http.StatusBadRequest, errorMsg)
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		errorJSON(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		errorJSON(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	// Multipart writers that don't sniff the file leave the part as
	// octet-stream; fall back to the filename extension in that case.
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}

	text, err := s.recognizer.Recognize(data, contentType)
	if err != nil {
		slog.Error("Recognition failed", "filename", header.Filename, "error", err)
		errorJSON(w, http.StatusBadGateway, "recognition failed: "+err.Error())
		return
	}

	es := s.newSession(text)
	writeJSON(w, http.StatusCreated, sessionJSON(es))
}

// handleParseText seeds an editing session from hand-entered text,
// for when recognition does not cope with an image.
func (s *Server) handleParseText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		errorJSON(w, http.StatusBadRequest, "No text provided")
		return
	}

	es := s.newSession(req.Text)
	writeJSON(w, http.StatusCreated, sessionJSON(es))
}

// handleGetSession returns the current state of an editing session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	es, ok := s.session(r.PathValue("id"))
	if !ok {
		corsError(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(es))
}

// handleUpdateRow overwrites one field on one row
func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	es, ok := s.session(r.PathValue("id"))
	if !ok {
		corsError(w, "Session not found", http.StatusNotFound)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid row index")
		return
	}

	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := es.store.UpdateField(index, req.Field, req.Value); err != nil {
		if errors.Is(err, review.ErrIndexOutOfRange) {
			errorJSON(w, http.StatusNotFound, err.Error())
			return
		}
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(es))
}

// handleAppendRow adds a blank row for manual entry
func (s *Server) handleAppendRow(w http.ResponseWriter, r *http.Request) {
	es, ok := s.session(r.PathValue("id"))
	if !ok {
		corsError(w, "Session not found", http.StatusNotFound)
		return
	}
	es.store.AppendBlank()
	writeJSON(w, http.StatusOK, sessionJSON(es))
}

// handleRemoveRow deletes a row
func (s *Server) handleRemoveRow(w http.ResponseWriter, r *http.Request) {
	es, ok := s.session(r.PathValue("id"))
	if !ok {
		corsError(w, "Session not found", http.StatusNotFound)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid row index")
		return
	}

	if err := es.store.Remove(index); err != nil {
		errorJSON(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(es))
}

// handleSaveSession commits the session's rows through the gate to
// persistent storage.
func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	es, ok := s.session(r.PathValue("id"))
	if !ok {
		corsError(w, "Session not found", http.StatusNotFound)
		return
	}

	var tc review.TransactionContext
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := es.store.Commit(tc)
	switch {
	case errors.Is(err, review.ErrCommitInProgress):
		errorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, review.ErrPanShopRequired):
		errorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrRowsInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":      err.Error(),
			"validation": es.store.Validation(),
		})
	case err != nil:
		slog.Error("Error saving session", "session", es.id, "error", err)
		errorJSON(w, http.StatusBadGateway, err.Error())
	default:
		// A fully accepted batch leaves nothing to edit; drop the
		// session instead of holding it for the life of the process.
		if len(res.RowErrors) == 0 {
			s.dropSession(es.id)
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleListWholesalers returns all wholesalers
func (s *Server) handleListWholesalers(w http.ResponseWriter, r *http.Request) {
	wholesalers, err := s.service.ListWholesalers()
	if err != nil {
		slog.Error("Error listing wholesalers", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wholesalers)
}

// handleAddWholesaler creates a wholesaler
func (s *Server) handleAddWholesaler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		ContactInfo string `json:"contact_info"`
		Mark        string `json:"mark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	wholesaler, err := s.service.AddWholesaler(req.Name, req.ContactInfo, req.Mark)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, wholesaler)
}

// handleListPanShops returns all pan shops
func (s *Server) handleListPanShops(w http.ResponseWriter, r *http.Request) {
	shops, err := s.service.ListPanShops()
	if err != nil {
		slog.Error("Error listing pan shops", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, shops)
}

// handleAddPanShop creates a pan shop
func (s *Server) handleAddPanShop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		ContactInfo string `json:"contact_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	shop, err := s.service.AddPanShop(req.Name, req.ContactInfo)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, shop)
}

// handleListEntries returns all basket entries
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListEntries()
	if err != nil {
		slog.Error("Error listing entries", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleAddEntry creates a basket entry outside the OCR flow
func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartyType      string  `json:"party_type"`
		PartyID        string  `json:"party_id"`
		Date           string  `json:"date"`
		BasketCount    int     `json:"basket_count"`
		PricePerBasket float64 `json:"price_per_basket"`
		Mark           string  `json:"mark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := s.service.AddEntry(req.PartyType, req.PartyID, req.Date, req.BasketCount, req.PricePerBasket, req.Mark)
	if err != nil {
		if errors.Is(err, ErrPartyNotFound) {
			errorJSON(w, http.StatusNotFound, err.Error())
			return
		}
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleUpdateEntry applies a partial edit to a basket entry
func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var upd EntryUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := s.service.UpdateEntry(r.PathValue("id"), upd)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			errorJSON(w, http.StatusNotFound, err.Error())
			return
		}
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleDeleteEntry removes a basket entry
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteEntry(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			errorJSON(w, http.StatusNotFound, err.Error())
			return
		}
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleListPayments returns payments, optionally filtered by party
func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.service.ListPayments(r.URL.Query().Get("party_type"), r.URL.Query().Get("party_id"))
	if err != nil {
		slog.Error("Error listing payments", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// handleAddPayment records a payment
func (s *Server) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartyType   string  `json:"party_type"`
		PartyID     string  `json:"party_id"`
		Amount      float64 `json:"amount"`
		Date        string  `json:"date"`
		Note        string  `json:"note"`
		PaymentMode string  `json:"payment_mode"`
		UPIAccount  string  `json:"upi_account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payment, err := s.service.AddPayment(req.PartyType, req.PartyID, req.Amount, req.Date, req.Note, req.PaymentMode, req.UPIAccount)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}
