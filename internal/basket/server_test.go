package basket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/VaralaVishal/Pan-Management-System/internal/extraction"
	"github.com/VaralaVishal/Pan-Management-System/internal/review"
)

// stubRecognizer is a stub implementation of recognition.Recognizer
type stubRecognizer struct {
	text    string
	err     error
	gotData []byte
	gotType string
}

func (r *stubRecognizer) Recognize(imageData []byte, contentType string) (string, error) {
	r.gotData = imageData
	r.gotType = contentType
	if r.err != nil {
		return "", r.err
	}
	return r.text, nil
}

func (r *stubRecognizer) Close() error {
	return nil
}

var _ = Describe("Server", func() {
	var (
		db         *mockDB
		recognizer *stubRecognizer
		server     *Server
	)

	BeforeEach(func() {
		db = &mockDB{
			wholesalers: []*Wholesaler{{ID: "w-1", Name: "Basaveshwara Traders", Mark: "BSMR"}},
		}
		recognizer = &stubRecognizer{text: "1200 BSMR 21-07-2025\n900 NR 20-07-2025"}
		service := NewServiceWithDeps(db, &mockIDGenerator{}, &mockTimeSource{})
		server = NewServer(service, recognizer, BasicAuth{})
	})

	doJSON := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var reader *bytes.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		return w
	}

	decodeSession := func(w *httptest.ResponseRecorder) sessionResponse {
		var res sessionResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &res)).To(Succeed())
		return res
	}

	newParseSession := func(text string) sessionResponse {
		w := doJSON("POST", "/api/ocr/parse", map[string]string{"text": text})
		Expect(w.Code).To(Equal(http.StatusCreated))
		return decodeSession(w)
	}

	Describe("POST /api/ocr/upload", func() {
		uploadImage := func(filename string, data []byte) *httptest.ResponseRecorder {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, err := mw.CreateFormFile("image", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = fw.Write(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(mw.Close()).To(Succeed())

			req := httptest.NewRequest("POST", "/api/ocr/upload", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)
			return w
		}

		It("should recognize the image and seed a session", func() {
			w := uploadImage("bill.jpg", []byte("fake image bytes"))
			Expect(w.Code).To(Equal(http.StatusCreated))

			res := decodeSession(w)
			Expect(res.SessionID).NotTo(BeEmpty())
			Expect(res.Text).To(Equal(recognizer.text))
			Expect(res.Rows).To(HaveLen(2))
			Expect(res.Rows[0].Amount).To(Equal("1200"))
			Expect(res.Validation).To(BeEmpty())
		})

		It("should hand the recognizer the bytes and a content type inferred from the extension", func() {
			uploadImage("bill.jpg", []byte("fake image bytes"))
			Expect(recognizer.gotData).To(Equal([]byte("fake image bytes")))
			Expect(recognizer.gotType).To(Equal("image/jpeg"))
		})

		It("should seed a blank-row session with an advisory message when nothing is usable", func() {
			recognizer.text = "smudged beyond recognition"
			w := uploadImage("bill.jpg", []byte("x"))
			Expect(w.Code).To(Equal(http.StatusCreated))

			res := decodeSession(w)
			Expect(res.Rows).To(Equal([]extraction.Row{{}}))
			Expect(res.Message).To(Equal("No valid data rows detected. You can add rows manually below."))
		})

		It("should return 502 when recognition fails", func() {
			recognizer.err = fmt.Errorf("model overloaded")
			w := uploadImage("bill.jpg", []byte("x"))
			Expect(w.Code).To(Equal(http.StatusBadGateway))
			Expect(w.Body.String()).To(ContainSubstring("recognition failed: model overloaded"))
		})

		It("should reject a body over the 50MB cap", func() {
			w := uploadImage("bill.jpg", bytes.Repeat([]byte("x"), 50<<20+1))
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring("File is too large"))
		})

		It("should return 400 when no file is attached", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			Expect(mw.Close()).To(Succeed())

			req := httptest.NewRequest("POST", "/api/ocr/upload", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/ocr/parse", func() {
		It("should seed a session from hand-entered text", func() {
			res := newParseSession("1200 BSMR 21-07-2025")
			Expect(res.SessionID).NotTo(BeEmpty())
			Expect(res.Rows).To(HaveLen(1))
		})

		It("should carry validation results for flawed rows", func() {
			res := newParseSession("1000 Nara")
			Expect(res.Validation).To(HaveKey(0))
			Expect(res.Validation[0]).To(HaveKeyWithValue("date", "Required"))
		})

		It("should reject empty text", func() {
			w := doJSON("POST", "/api/ocr/parse", map[string]string{"text": "   "})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring("No text provided"))
		})
	})

	Describe("GET /api/ocr/sessions/{id}", func() {
		It("should return the current session state", func() {
			created := newParseSession("1200 BSMR 21-07-2025")

			w := doJSON("GET", "/api/ocr/sessions/"+created.SessionID, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decodeSession(w).Rows).To(Equal(created.Rows))
		})

		It("should return 404 for an unknown session", func() {
			w := doJSON("GET", "/api/ocr/sessions/nope", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("PATCH /api/ocr/sessions/{id}/rows/{index}", func() {
		var sessionID string

		BeforeEach(func() {
			sessionID = newParseSession("1000 Nara").SessionID
		})

		It("should update the field and return the revalidated state", func() {
			w := doJSON("PATCH", "/api/ocr/sessions/"+sessionID+"/rows/0",
				map[string]string{"field": "date", "value": "21-07-2025"})
			Expect(w.Code).To(Equal(http.StatusOK))

			res := decodeSession(w)
			Expect(res.Rows[0].Date).To(Equal("21-07-2025"))
			Expect(res.Validation).NotTo(HaveKey(0))
		})

		It("should return 404 for an out-of-range index", func() {
			w := doJSON("PATCH", "/api/ocr/sessions/"+sessionID+"/rows/5",
				map[string]string{"field": "date", "value": "21-07-2025"})
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("should return 400 for an unknown field", func() {
			w := doJSON("PATCH", "/api/ocr/sessions/"+sessionID+"/rows/0",
				map[string]string{"field": "raw", "value": "edited"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/ocr/sessions/{id}/rows", func() {
		It("should append a blank row", func() {
			sessionID := newParseSession("1200 BSMR 21-07-2025").SessionID

			w := doJSON("POST", "/api/ocr/sessions/"+sessionID+"/rows", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			res := decodeSession(w)
			Expect(res.Rows).To(HaveLen(2))
			Expect(res.Rows[1]).To(Equal(extraction.Row{}))
		})
	})

	Describe("DELETE /api/ocr/sessions/{id}/rows/{index}", func() {
		It("should remove the row", func() {
			sessionID := newParseSession("1200 BSMR 21-07-2025\n900 NR 20-07-2025").SessionID

			w := doJSON("DELETE", "/api/ocr/sessions/"+sessionID+"/rows/0", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			res := decodeSession(w)
			Expect(res.Rows).To(HaveLen(1))
			Expect(res.Rows[0].Amount).To(Equal("900"))
		})

		It("should return 404 for an out-of-range index", func() {
			sessionID := newParseSession("1200 BSMR 21-07-2025").SessionID

			w := doJSON("DELETE", "/api/ocr/sessions/"+sessionID+"/rows/9", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/ocr/sessions/{id}/save", func() {
		It("should commit the rows and return the save result", func() {
			sessionID := newParseSession("1200 BSMR 21-07-2025").SessionID

			w := doJSON("POST", "/api/ocr/sessions/"+sessionID+"/save",
				review.TransactionContext{Type: review.TypeWholesaler})
			Expect(w.Code).To(Equal(http.StatusOK))

			var res review.SaveResult
			Expect(json.Unmarshal(w.Body.Bytes(), &res)).To(Succeed())
			Expect(res.Accepted).To(Equal(1))
			Expect(res.Message).To(Equal("Inserted 1 entries, 0 errors."))
			Expect(db.entries).To(HaveLen(1))
		})

		It("should return 400 with the validation result when rows are invalid", func() {
			sessionID := newParseSession("1000 Nara").SessionID

			w := doJSON("POST", "/api/ocr/sessions/"+sessionID+"/save",
				review.TransactionContext{Type: review.TypeWholesaler})
			Expect(w.Code).To(Equal(http.StatusBadRequest))

			var res struct {
				Error      string        `json:"error"`
				Validation review.Result `json:"validation"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &res)).To(Succeed())
			Expect(res.Validation[0]).To(HaveKeyWithValue("date", "Required"))
			Expect(db.entries).To(BeEmpty())
		})

		It("should return 400 when pan-shop mode has no shop selected", func() {
			sessionID := newParseSession("1200 BSMR 21-07-2025").SessionID

			w := doJSON("POST", "/api/ocr/sessions/"+sessionID+"/save",
				review.TransactionContext{Type: review.TypePanShop})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring("pan shop"))
		})

		It("should return 404 for an unknown session", func() {
			w := doJSON("POST", "/api/ocr/sessions/nope/save",
				review.TransactionContext{Type: review.TypeWholesaler})
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("should drop the session once the batch is fully accepted", func() {
			sessionID := newParseSession("1200 BSMR 21-07-2025").SessionID

			w := doJSON("POST", "/api/ocr/sessions/"+sessionID+"/save",
				review.TransactionContext{Type: review.TypeWholesaler})
			Expect(w.Code).To(Equal(http.StatusOK))

			w = doJSON("GET", "/api/ocr/sessions/"+sessionID, nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("should keep the session alive when rows come back with save errors", func() {
			sessionID := newParseSession("1200 ZZZZ 21-07-2025").SessionID

			w := doJSON("POST", "/api/ocr/sessions/"+sessionID+"/save",
				review.TransactionContext{Type: review.TypeWholesaler})
			Expect(w.Code).To(Equal(http.StatusOK))

			var res review.SaveResult
			Expect(json.Unmarshal(w.Body.Bytes(), &res)).To(Succeed())
			Expect(res.RowErrors).NotTo(BeEmpty())

			w = doJSON("GET", "/api/ocr/sessions/"+sessionID, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decodeSession(w).Rows).To(HaveLen(1))
		})
	})

	Describe("party endpoints", func() {
		It("should list wholesalers", func() {
			w := doJSON("GET", "/api/wholesalers", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var wholesalers []*Wholesaler
			Expect(json.Unmarshal(w.Body.Bytes(), &wholesalers)).To(Succeed())
			Expect(wholesalers).To(HaveLen(1))
			Expect(wholesalers[0].Mark).To(Equal("BSMR"))
		})

		It("should create a wholesaler", func() {
			w := doJSON("POST", "/api/wholesalers",
				map[string]string{"name": "New Trader", "contact_info": "12345", "mark": "NT"})
			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(db.wholesalers).To(HaveLen(2))
		})

		It("should reject a wholesaler without a name", func() {
			w := doJSON("POST", "/api/wholesalers", map[string]string{"mark": "NT"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring("wholesaler name is required"))
		})

		It("should create and list pan shops", func() {
			w := doJSON("POST", "/api/panshops", map[string]string{"name": "Corner Shop"})
			Expect(w.Code).To(Equal(http.StatusCreated))

			w = doJSON("GET", "/api/panshops", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var shops []*PanShop
			Expect(json.Unmarshal(w.Body.Bytes(), &shops)).To(Succeed())
			Expect(shops).To(HaveLen(1))
		})
	})

	Describe("entry management endpoints", func() {
		BeforeEach(func() {
			db.panShops = []*PanShop{{ID: "p-1", Name: "Corner Shop"}}
		})

		It("should create a manual entry with the computed total", func() {
			w := doJSON("POST", "/api/entries", map[string]interface{}{
				"party_type":       review.TypeWholesaler,
				"party_id":         "w-1",
				"date":             "2025-07-21",
				"basket_count":     3,
				"price_per_basket": 150.0,
				"mark":             "BSMR",
			})
			Expect(w.Code).To(Equal(http.StatusCreated))

			var entry BasketEntry
			Expect(json.Unmarshal(w.Body.Bytes(), &entry)).To(Succeed())
			Expect(entry.BasketCount).To(Equal(3))
			Expect(entry.TotalPrice).To(Equal(450.0))
			Expect(db.entries).To(HaveLen(1))
		})

		It("should return 404 for a missing party", func() {
			w := doJSON("POST", "/api/entries", map[string]interface{}{
				"party_type":       review.TypeWholesaler,
				"party_id":         "w-404",
				"date":             "2025-07-21",
				"basket_count":     1,
				"price_per_basket": 100.0,
			})
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(db.entries).To(BeEmpty())
		})

		It("should return 400 for a missing basket count", func() {
			w := doJSON("POST", "/api/entries", map[string]interface{}{
				"party_type":       review.TypeWholesaler,
				"party_id":         "w-1",
				"date":             "2025-07-21",
				"price_per_basket": 100.0,
			})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(ContainSubstring("basket count must be positive"))
		})

		Describe("with an existing entry", func() {
			BeforeEach(func() {
				db.entries = []*BasketEntry{{
					ID:             "e-1",
					PartyType:      review.TypeWholesaler,
					PartyID:        "w-1",
					BasketCount:    2,
					PricePerBasket: 100,
					TotalPrice:     200,
					Mark:           "BSMR",
				}}
			})

			It("should apply a partial update and recompute the total", func() {
				w := doJSON("PUT", "/api/entries/e-1", map[string]interface{}{"basket_count": 4})
				Expect(w.Code).To(Equal(http.StatusOK))

				var entry BasketEntry
				Expect(json.Unmarshal(w.Body.Bytes(), &entry)).To(Succeed())
				Expect(entry.BasketCount).To(Equal(4))
				Expect(entry.TotalPrice).To(Equal(400.0))
			})

			It("should return 400 when reassigning to a missing party", func() {
				w := doJSON("PUT", "/api/entries/e-1", map[string]interface{}{"party_id": "w-404"})
				Expect(w.Code).To(Equal(http.StatusBadRequest))
			})

			It("should return 404 when updating an unknown entry", func() {
				w := doJSON("PUT", "/api/entries/e-404", map[string]interface{}{"basket_count": 4})
				Expect(w.Code).To(Equal(http.StatusNotFound))
			})

			It("should delete the entry", func() {
				w := doJSON("DELETE", "/api/entries/e-1", nil)
				Expect(w.Code).To(Equal(http.StatusOK))
				Expect(db.entries).To(BeEmpty())
			})

			It("should return 404 when deleting an unknown entry", func() {
				w := doJSON("DELETE", "/api/entries/e-404", nil)
				Expect(w.Code).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("GET /api/entries", func() {
		It("should list persisted entries", func() {
			sessionID := newParseSession("1200 BSMR 21-07-2025").SessionID
			doJSON("POST", "/api/ocr/sessions/"+sessionID+"/save",
				review.TransactionContext{Type: review.TypeWholesaler})

			w := doJSON("GET", "/api/entries", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var entries []*BasketEntry
			Expect(json.Unmarshal(w.Body.Bytes(), &entries)).To(Succeed())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Mark).To(Equal("BSMR"))
		})
	})

	Describe("payment endpoints", func() {
		It("should record and list payments", func() {
			w := doJSON("POST", "/api/payments", map[string]interface{}{
				"party_type":   review.TypeWholesaler,
				"party_id":     "w-1",
				"amount":       500.0,
				"date":         "2025-07-21",
				"payment_mode": "upi",
				"upi_account":  "trader@upi",
			})
			Expect(w.Code).To(Equal(http.StatusCreated))

			w = doJSON("GET", "/api/payments?party_id=w-1", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var payments []*PaymentRecord
			Expect(json.Unmarshal(w.Body.Bytes(), &payments)).To(Succeed())
			Expect(payments).To(HaveLen(1))
			Expect(payments[0].PartyName).To(Equal("Basaveshwara Traders"))
		})

		It("should reject a payment with a bad date", func() {
			w := doJSON("POST", "/api/payments", map[string]interface{}{
				"party_type": review.TypeWholesaler,
				"party_id":   "w-1",
				"amount":     500.0,
				"date":       "21-07-2025",
			})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			service := NewServiceWithDeps(db, &mockIDGenerator{}, &mockTimeSource{})
			server = NewServer(service, recognizer, BasicAuth{Username: "admin", Password: "secret"})
		})

		It("should reject requests without credentials", func() {
			w := doJSON("GET", "/api/wholesalers", nil)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(w.Header().Get("WWW-Authenticate")).To(ContainSubstring("Pan Basket"))
		})

		It("should reject wrong credentials", func() {
			req := httptest.NewRequest("GET", "/api/wholesalers", nil)
			req.SetBasicAuth("admin", "wrong")
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should accept correct credentials", func() {
			req := httptest.NewRequest("GET", "/api/wholesalers", nil)
			req.SetBasicAuth("admin", "secret")
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS headers", func() {
		It("should be present on JSON responses", func() {
			w := doJSON("GET", "/api/wholesalers", nil)
			Expect(w.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(w.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})

	Describe("content type inference", func() {
		It("should map known extensions", func() {
			for ext, want := range map[string]string{
				"bill.jpeg": "image/jpeg",
				"bill.png":  "image/png",
				"bill.pdf":  "application/pdf",
				"bill.heic": "image/heic",
			} {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				fw, err := mw.CreateFormFile("image", ext)
				Expect(err).NotTo(HaveOccurred())
				_, err = fw.Write([]byte("x"))
				Expect(err).NotTo(HaveOccurred())
				Expect(mw.Close()).To(Succeed())

				req := httptest.NewRequest("POST", "/api/ocr/upload", &buf)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				w := httptest.NewRecorder()
				server.ServeHTTP(w, req)

				Expect(recognizer.gotType).To(Equal(want), "filename %q", ext)
			}
		})
	})
})

var _ = Describe("authenticate", func() {
	It("should treat malformed Authorization headers as unauthenticated", func() {
		s := &Server{basicAuth: BasicAuth{Username: "admin", Password: "secret"}}
		for _, header := range []string{"Bearer token", "Basic not-base64!!", "Basic " + strings.Repeat("A", 3)} {
			req := httptest.NewRequest("GET", "/api/entries", nil)
			req.Header.Set("Authorization", header)
			Expect(s.authenticate(req)).To(BeFalse(), "header %q", header)
		}
	})
})
