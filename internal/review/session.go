// Package review holds the editable row store that sits between
// extraction and persistence. A Session owns the rows for one upload,
// keeps validation bookkeeping consistent while the user edits, and
// gates the final save on every row passing validation.
package review

import (
	"errors"
	"fmt"
	"sync"

	"github.com/VaralaVishal/Pan-Management-System/internal/extraction"
)

// Party types a batch of rows can be saved against.
const (
	TypeWholesaler = "wholesaler"
	TypePanShop    = "panshop"
)

var (
	// ErrIndexOutOfRange is returned when a row operation names an
	// index the store does not currently hold.
	ErrIndexOutOfRange = errors.New("row index out of range")

	// ErrCommitInProgress is returned when a commit is attempted while
	// another one is still outstanding.
	ErrCommitInProgress = errors.New("commit already in progress")

	// ErrPanShopRequired is returned when committing in pan-shop mode
	// without a selected pan shop.
	ErrPanShopRequired = errors.New("a pan shop must be selected")

	// ErrRowsInvalid is returned when any row still has field errors
	// at commit time.
	ErrRowsInvalid = errors.New("rows have validation errors")
)

// TransactionContext carries the save mode for a batch of rows.
type TransactionContext struct {
	// Type is TypeWholesaler or TypePanShop.
	Type string `json:"transactionType"`
	// PanShopID selects the target party; required in pan-shop mode.
	PanShopID string `json:"panShopId"`
	// AutoCreateWholesaler provisions a new wholesaler when a row's
	// mark matches nothing; meaningful only in wholesaler mode.
	AutoCreateWholesaler bool `json:"autoCreateWholesaler"`
}

// SaveResult is the persistence collaborator's answer for one batch.
type SaveResult struct {
	Accepted  int      `json:"accepted_count"`
	RowErrors []string `json:"per_row_errors"`
	Message   string   `json:"message"`
}

// Saver is the persistence collaborator interface.
type Saver interface {
	Save(rows []extraction.Row, tc TransactionContext) (SaveResult, error)
}

// Session is the editable row store for one upload. It is owned by a
// single editing flow and safe for the handlers that drive it.
type Session struct {
	mu         sync.Mutex
	rows       []extraction.Row
	result     Result
	committing bool
	saver      Saver
}

// NewSession creates an empty session backed by the given saver.
func NewSession(saver Saver) *Session {
	return &Session{
		rows:   make([]extraction.Row, 0),
		result: Result{},
		saver:  saver,
	}
}

// LoadText runs the extraction pipeline over recognized text and
// resets the session to the result. When no line yields a usable row
// it seeds a single blank row so the user can enter data by hand, and
// returns false so the caller can surface an advisory message.
func (s *Session) LoadText(text string) bool {
	rows := extraction.RowsFromText(text)
	found := len(rows) > 0
	if !found {
		rows = []extraction.Row{{}}
	}
	s.ReplaceAll(rows)
	return found
}

// ReplaceAll resets the store to the given rows, preserving their
// order, and revalidates everything.
func (s *Session) ReplaceAll(rows []extraction.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make([]extraction.Row, len(rows))
	copy(s.rows, rows)
	s.result = ValidateRows(s.rows)
}

// Rows returns a copy of the current rows.
func (s *Session) Rows() []extraction.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]extraction.Row, len(s.rows))
	copy(rows, s.rows)
	return rows
}

// Validation returns a copy of the current validation result.
func (s *Session) Validation() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.clone()
}

// UpdateField overwrites one field on one row and revalidates that row
// only; other rows' cached results are left untouched.
func (s *Session) UpdateField(index int, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.rows) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	row := &s.rows[index]
	switch field {
	case "amount":
		row.Amount = value
	case "mark":
		row.Mark = value
	case "date":
		row.Date = value
	case "extra":
		row.Extra = value
	default:
		return fmt.Errorf("unknown field %q", field)
	}

	if errs := ValidateRow(*row); errs != nil {
		s.result[index] = errs
	} else {
		delete(s.result, index)
	}
	return nil
}

// AppendBlank adds one row with all fields empty at the end of the
// store. The row gets no validation entry until it is edited or the
// batch is committed.
func (s *Session) AppendBlank() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, extraction.Row{})
}

// Remove deletes the row at index. Cached validation results for later
// rows shift down so they never apply to the wrong row.
func (s *Session) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.rows) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	s.rows = append(s.rows[:index], s.rows[index+1:]...)

	shifted := Result{}
	for i, errs := range s.result {
		switch {
		case i < index:
			shifted[i] = errs
		case i > index:
			shifted[i-1] = errs
		}
	}
	s.result = shifted
	return nil
}

// Commit revalidates every row and, when all preconditions hold, hands
// the batch to the persistence collaborator. The rows are cleared only
// on full, error-free acceptance; any failure leaves them intact so no
// data entry is lost. A second commit while one is outstanding is
// rejected with ErrCommitInProgress.
func (s *Session) Commit(tc TransactionContext) (SaveResult, error) {
	s.mu.Lock()
	if s.committing {
		s.mu.Unlock()
		return SaveResult{}, ErrCommitInProgress
	}
	if tc.Type == TypePanShop && tc.PanShopID == "" {
		s.mu.Unlock()
		return SaveResult{}, ErrPanShopRequired
	}

	// Re-check all rows, not just changed ones; edits may have
	// happened out of order.
	s.result = ValidateRows(s.rows)
	if len(s.result) > 0 {
		s.mu.Unlock()
		return SaveResult{}, ErrRowsInvalid
	}

	s.committing = true
	rows := make([]extraction.Row, len(s.rows))
	copy(rows, s.rows)
	s.mu.Unlock()

	res, err := s.saver.Save(rows, tc)

	s.mu.Lock()
	s.committing = false
	if err == nil && len(res.RowErrors) == 0 {
		s.rows = make([]extraction.Row, 0)
		s.result = Result{}
	}
	s.mu.Unlock()
	return res, err
}

func (r Result) clone() Result {
	out := Result{}
	for i, errs := range r {
		fe := FieldErrors{}
		for k, v := range errs {
			fe[k] = v
		}
		out[i] = fe
	}
	return out
}
