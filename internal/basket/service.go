package basket

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VaralaVishal/Pan-Management-System/internal/extraction"
	"github.com/VaralaVishal/Pan-Management-System/internal/review"
)

var (
	// ErrPartyNotFound is returned when an entry names a party that
	// does not exist.
	ErrPartyNotFound = errors.New("party not found")

	// ErrEntryNotFound is returned when an entry operation names an
	// unknown entry ID.
	ErrEntryNotFound = errors.New("basket entry not found")
)

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
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

// Service handles party, entry and payment operations. It is the
// persistence collaborator reviewed row batches are committed to.
type Service struct {
	db          DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB) *Service {
	return &Service{
		db:          db,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Save persists a batch of reviewed rows as basket entries. A failing
// row contributes a per-row error and does not abort the batch; rows
// that resolve cleanly are persisted regardless of their neighbors.
func (s *Service) Save(rows []extraction.Row, tc review.TransactionContext) (review.SaveResult, error) {
	if len(rows) == 0 {
		return review.SaveResult{}, fmt.Errorf("no rows to save")
	}

	result := review.SaveResult{RowErrors: make([]string, 0)}
	now := s.timeSource.Now()

	for i, row := range rows {
		rowErr := s.saveRow(i, row, tc, now)
		if rowErr != "" {
			result.RowErrors = append(result.RowErrors, rowErr)
			continue
		}
		result.Accepted++
	}

	result.Message = fmt.Sprintf("Inserted %d entries, %d errors.", result.Accepted, len(result.RowErrors))
	slog.Info("Saved reviewed rows",
		"type", tc.Type,
		"accepted", result.Accepted,
		"errors", len(result.RowErrors),
	)
	return result, nil
}

// saveRow resolves and persists a single row, returning a user-facing
// error message or "" on success.
func (s *Service) saveRow(index int, row extraction.Row, tc review.TransactionContext, now time.Time) string {
	amountText := strings.TrimSpace(row.Amount)
	if amountText == "" {
		return fmt.Sprintf("row %d: missing amount", index+1)
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(amountText, ",", ""), 64)
	if err != nil {
		return fmt.Sprintf("row %d: invalid amount %q", index+1, row.Amount)
	}

	mark := strings.TrimSpace(row.Mark)
	if mark == "" && tc.Type == review.TypeWholesaler {
		return fmt.Sprintf("row %d: missing mark", index+1)
	}

	dateText := strings.TrimSpace(row.Date)
	if dateText == "" {
		return fmt.Sprintf("row %d: missing date", index+1)
	}
	date, err := parseEntryDate(dateText)
	if err != nil {
		return fmt.Sprintf("row %d: invalid date %q: %v", index+1, row.Date, err)
	}

	var partyType, partyID string
	switch tc.Type {
	case review.TypeWholesaler:
		party, err := s.resolveWholesaler(mark, tc.AutoCreateWholesaler)
		if err != nil {
			return fmt.Sprintf("row %d: %v", index+1, err)
		}
		partyType, partyID = review.TypeWholesaler, party.ID
	case review.TypePanShop:
		shop, err := s.db.GetPanShop(tc.PanShopID)
		if err != nil {
			return fmt.Sprintf("row %d: pan shop %q not found", index+1, tc.PanShopID)
		}
		partyType, partyID = review.TypePanShop, shop.ID
	default:
		return fmt.Sprintf("row %d: invalid transaction type %q", index+1, tc.Type)
	}

	entry := &BasketEntry{
		ID:             s.idGenerator.Generate(),
		PartyType:      partyType,
		PartyID:        partyID,
		Date:           date,
		BasketCount:    1,
		PricePerBasket: amount,
		TotalPrice:     amount,
		Mark:           mark,
		CreatedAt:      now,
	}
	if err := s.db.SaveEntry(entry); err != nil {
		return fmt.Sprintf("row %d: saving entry: %v", index+1, err)
	}
	return ""
}

// resolveWholesaler finds the wholesaler carrying the mark,
// provisioning a new one when allowed.
func (s *Service) resolveWholesaler(mark string, autoCreate bool) (*Wholesaler, error) {
	party, err := s.db.FindWholesalerByMark(mark)
	if err != nil {
		return nil, fmt.Errorf("looking up wholesaler by mark %q: %w", mark, err)
	}
	if party != nil {
		return party, nil
	}
	if !autoCreate {
		return nil, fmt.Errorf("wholesaler with mark %q not found", mark)
	}

	party = &Wholesaler{
		ID:   s.idGenerator.Generate(),
		Name: fmt.Sprintf("Auto-created: %s", mark),
		Mark: mark,
	}
	if err := s.db.SaveWholesaler(party); err != nil {
		return nil, fmt.Errorf("creating wholesaler with mark %q: %w", mark, err)
	}
	slog.Info("Auto-created wholesaler", "id", party.ID, "mark", mark)
	return party, nil
}

// entryDateFormats is the ladder of layouts tried in order before the
// lenient fallback. Day first, as written on the bills.
var entryDateFormats = []string{
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2 1 2006",
}

// parseEntryDate parses a reviewed date string. The field validator
// only checks shape and day/month ranges; this is where impossible
// calendar dates (31-02-2025) and mixed separators ("21-07/2025") are
// settled before anything is persisted.
func parseEntryDate(text string) (time.Time, error) {
	for _, layout := range entryDateFormats {
		if d, err := time.Parse(layout, text); err == nil {
			return d, nil
		}
	}

	// Mixed or unusual separators: normalize, split and rebuild.
	normalized := strings.NewReplacer("-", "/", ".", "/", " ", "/").Replace(text)
	parts := strings.Split(normalized, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unrecognized date")
	}
	day, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("unrecognized date")
	}
	if year < 100 {
		year += 2000
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range values instead of failing;
	// round-trip to catch dates like 31-02.
	if d.Day() != day || d.Month() != time.Month(month) || d.Year() != year {
		return time.Time{}, fmt.Errorf("no such calendar date")
	}
	return d, nil
}

// AddWholesaler creates a wholesaler
func (s *Service) AddWholesaler(name, contactInfo, mark string) (*Wholesaler, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("wholesaler name is required")
	}
	w := &Wholesaler{
		ID:          s.idGenerator.Generate(),
		Name:        strings.TrimSpace(name),
		ContactInfo: strings.TrimSpace(contactInfo),
		Mark:        strings.TrimSpace(mark),
	}
	if err := s.db.SaveWholesaler(w); err != nil {
		return nil, fmt.Errorf("saving wholesaler: %w", err)
	}
	return w, nil
}

// ListWholesalers returns all wholesalers
func (s *Service) ListWholesalers() ([]*Wholesaler, error) {
	wholesalers, err := s.db.ListWholesalers()
	if err != nil {
		return nil, fmt.Errorf("listing wholesalers: %w", err)
	}
	return wholesalers, nil
}

// AddPanShop creates a pan shop
func (s *Service) AddPanShop(name, contactInfo string) (*PanShop, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("pan shop name is required")
	}
	p := &PanShop{
		ID:          s.idGenerator.Generate(),
		Name:        strings.TrimSpace(name),
		ContactInfo: strings.TrimSpace(contactInfo),
	}
	if err := s.db.SavePanShop(p); err != nil {
		return nil, fmt.Errorf("saving pan shop: %w", err)
	}
	return p, nil
}

// ListPanShops returns all pan shops
func (s *Service) ListPanShops() ([]*PanShop, error) {
	shops, err := s.db.ListPanShops()
	if err != nil {
		return nil, fmt.Errorf("listing pan shops: %w", err)
	}
	return shops, nil
}

// ListEntries returns all basket entries
func (s *Service) ListEntries() ([]*BasketEntry, error) {
	entries, err := s.db.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

// AddEntry persists a manually entered basket entry. The date is
// expected in ISO form (YYYY-MM-DD) and the total is always computed
// from count and price.
func (s *Service) AddEntry(partyType, partyID, dateText string, basketCount int, pricePerBasket float64, mark string) (*BasketEntry, error) {
	if partyType != review.TypeWholesaler && partyType != review.TypePanShop {
		return nil, fmt.Errorf("invalid party type %q", partyType)
	}
	if basketCount <= 0 {
		return nil, fmt.Errorf("basket count must be positive")
	}
	date, err := time.Parse("2006-01-02", dateText)
	if err != nil {
		return nil, fmt.Errorf("invalid entry date %q", dateText)
	}
	if err := s.checkParty(partyType, partyID); err != nil {
		return nil, err
	}

	entry := &BasketEntry{
		ID:             s.idGenerator.Generate(),
		PartyType:      partyType,
		PartyID:        partyID,
		Date:           date,
		BasketCount:    basketCount,
		PricePerBasket: pricePerBasket,
		TotalPrice:     float64(basketCount) * pricePerBasket,
		Mark:           strings.TrimSpace(mark),
		CreatedAt:      s.timeSource.Now(),
	}
	if err := s.db.SaveEntry(entry); err != nil {
		return nil, fmt.Errorf("saving entry: %w", err)
	}
	return entry, nil
}

// EntryUpdate carries the fields of a partial entry edit; nil fields
// are left unchanged.
type EntryUpdate struct {
	PartyType      *string  `json:"party_type"`
	PartyID        *string  `json:"party_id"`
	Date           *string  `json:"date"`
	BasketCount    *int     `json:"basket_count"`
	PricePerBasket *float64 `json:"price_per_basket"`
	TotalPrice     *float64 `json:"total_price"`
	Mark           *string  `json:"mark"`
}

// UpdateEntry applies a partial edit to an existing entry. Reassigning
// the party checks the target exists. The total follows count and
// price unless an explicit total is part of the edit.
func (s *Service) UpdateEntry(id string, upd EntryUpdate) (*BasketEntry, error) {
	entry, err := s.db.GetEntry(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, id)
	}

	if upd.PartyType != nil || upd.PartyID != nil {
		partyType, partyID := entry.PartyType, entry.PartyID
		if upd.PartyType != nil {
			partyType = *upd.PartyType
		}
		if upd.PartyID != nil {
			partyID = *upd.PartyID
		}
		if partyType != review.TypeWholesaler && partyType != review.TypePanShop {
			return nil, fmt.Errorf("invalid party type %q", partyType)
		}
		if err := s.checkParty(partyType, partyID); err != nil {
			return nil, err
		}
		entry.PartyType, entry.PartyID = partyType, partyID
	}

	if upd.Date != nil {
		date, err := time.Parse("2006-01-02", *upd.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid entry date %q", *upd.Date)
		}
		entry.Date = date
	}
	if upd.BasketCount != nil {
		if *upd.BasketCount <= 0 {
			return nil, fmt.Errorf("basket count must be positive")
		}
		entry.BasketCount = *upd.BasketCount
	}
	if upd.PricePerBasket != nil {
		entry.PricePerBasket = *upd.PricePerBasket
	}
	switch {
	case upd.TotalPrice != nil:
		entry.TotalPrice = *upd.TotalPrice
	case upd.BasketCount != nil || upd.PricePerBasket != nil:
		entry.TotalPrice = float64(entry.BasketCount) * entry.PricePerBasket
	}
	if upd.Mark != nil {
		entry.Mark = strings.TrimSpace(*upd.Mark)
	}

	if err := s.db.SaveEntry(entry); err != nil {
		return nil, fmt.Errorf("saving entry: %w", err)
	}
	return entry, nil
}

// DeleteEntry removes an entry by ID.
func (s *Service) DeleteEntry(id string) error {
	if _, err := s.db.GetEntry(id); err != nil {
		return fmt.Errorf("%w: %q", ErrEntryNotFound, id)
	}
	if err := s.db.DeleteEntry(id); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// checkParty verifies the named party exists.
func (s *Service) checkParty(partyType, partyID string) error {
	switch partyType {
	case review.TypeWholesaler:
		wholesalers, err := s.db.ListWholesalers()
		if err != nil {
			return fmt.Errorf("listing wholesalers: %w", err)
		}
		for _, w := range wholesalers {
			if w.ID == partyID {
				return nil
			}
		}
	case review.TypePanShop:
		if _, err := s.db.GetPanShop(partyID); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q", ErrPartyNotFound, partyType, partyID)
}

// AddPayment records a payment against a party. The date is expected
// in ISO form (YYYY-MM-DD).
func (s *Service) AddPayment(partyType, partyID string, amount float64, dateText, note, paymentMode, upiAccount string) (*Payment, error) {
	if partyType != review.TypeWholesaler && partyType != review.TypePanShop {
		return nil, fmt.Errorf("invalid party type %q", partyType)
	}
	date, err := time.Parse("2006-01-02", dateText)
	if err != nil {
		return nil, fmt.Errorf("invalid payment date %q", dateText)
	}

	p := &Payment{
		ID:          s.idGenerator.Generate(),
		PartyType:   partyType,
		PartyID:     partyID,
		Amount:      amount,
		Date:        date,
		Note:        note,
		PaymentMode: paymentMode,
		UPIAccount:  upiAccount,
	}
	if err := s.db.SavePayment(p); err != nil {
		return nil, fmt.Errorf("saving payment: %w", err)
	}
	return p, nil
}

// PaymentRecord is a payment decorated with its party's name for
// listing.
type PaymentRecord struct {
	Payment
	PartyName string `json:"party_name"`
}

// ListPayments returns payments, optionally filtered by party type
// and/or party ID, each decorated with the party name.
func (s *Service) ListPayments(partyType, partyID string) ([]*PaymentRecord, error) {
	payments, err := s.db.ListPayments()
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}

	records := make([]*PaymentRecord, 0, len(payments))
	for _, p := range payments {
		if partyType != "" && p.PartyType != partyType {
			continue
		}
		if partyID != "" && p.PartyID != partyID {
			continue
		}
		records = append(records, &PaymentRecord{
			Payment:   *p,
			PartyName: s.partyName(p.PartyType, p.PartyID),
		})
	}
	return records, nil
}

func (s *Service) partyName(partyType, partyID string) string {
	switch partyType {
	case review.TypeWholesaler:
		wholesalers, err := s.db.ListWholesalers()
		if err == nil {
			for _, w := range wholesalers {
				if w.ID == partyID {
					return w.Name
				}
			}
		}
	case review.TypePanShop:
		if shop, err := s.db.GetPanShop(partyID); err == nil {
			return shop.Name
		}
	}
	return "Unknown"
}
