package bill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeMedia is a canned whatsapp.MediaFetcher
type fakeMedia struct {
	data []byte
	mime string
	err  error
}

func (f *fakeMedia) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.mime, nil
}

var _ = Describe("Server", func() {
	var (
		db        *mockDB
		storage   *mockStorage
		extractor *mockExtractor
		clock     *mockTimeSource
		service   *Service
		media     *fakeMedia
		cfg       ServerConfig
		server    *Server
		ts        *httptest.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &mockExtractor{result: invoiceResult(200.0, nil)}
		clock = &mockTimeSource{now: time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, extractor, storage, noopSheet, &mockIDGenerator{}, clock)
		media = &fakeMedia{data: []byte("image data"), mime: "image/jpeg"}
		cfg = ServerConfig{
			Owner:       "owner-1",
			VerifyToken: "secret-token",
			Media:       media,
		}
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(service, cfg, http.NewServeMux())
		ts = httptest.NewServer(server)
	})

	AfterEach(func() {
		ts.Close()
	})

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ts.URL+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if cfg.BasicAuth.Username != "" {
			req.SetBasicAuth(cfg.BasicAuth.Username, cfg.BasicAuth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var out map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return out
	}

	uploadBill := func(billDate string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "bill.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("image data"))
		Expect(err).NotTo(HaveOccurred())
		if billDate != "" {
			Expect(mw.WriteField("billDate", billDate)).To(Succeed())
		}
		Expect(mw.Close()).To(Succeed())
		return do("POST", "/api/bills", &buf, mw.FormDataContentType())
	}

	Describe("authentication", func() {
		BeforeEach(func() {
			cfg.BasicAuth = BasicAuth{Username: "admin", Password: "hunter2"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ts.URL + "/api/bills")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest("GET", ts.URL+"/api/bills", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			resp := do("GET", "/api/bills", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should leave the webhook handshake outside basic auth", func() {
			resp, err := http.Get(ts.URL + "/api/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=42")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /api/bills", func() {
		It("should create a bill from a multipart upload", func() {
			resp := uploadBill("")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			body := decode(resp)
			bill := body["bill"].(map[string]any)
			Expect(bill["document_kind"]).To(Equal("invoice"))
			Expect(db.bills).To(HaveLen(1))
		})

		It("should honor an explicit bill date", func() {
			resp := uploadBill("2024-03-01")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			Expect(db.aggregateTotal("owner-1", day).String()).To(Equal("200"))
		})

		It("should reject a request without a file", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			Expect(mw.Close()).To(Succeed())
			resp := do("POST", "/api/bills", &buf, mw.FormDataContentType())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should surface extraction failures", func() {
			extractor.err = errors.New("model down")
			resp := uploadBill("")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(db.bills).To(BeEmpty())
		})
	})

	Describe("GET /api/bills", func() {
		It("should list bills with the canonical row view", func() {
			resp := uploadBill("")
			resp.Body.Close()

			resp = do("GET", "/api/bills?date=2024-03-12", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			bills := body["bills"].([]any)
			Expect(bills).To(HaveLen(1))
			view := bills[0].(map[string]any)["view"].(map[string]any)
			Expect(view["party_name"]).To(Equal("Acme Traders"))
			Expect(view["net_total"]).To(Equal("200"))
		})

		It("should reject a malformed date", func() {
			resp := do("GET", "/api/bills?date=tomorrow", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/bills/{id}", func() {
		It("should return an existing bill", func() {
			resp := uploadBill("")
			created := decode(resp)
			id := created["bill"].(map[string]any)["id"].(string)

			resp = do("GET", "/api/bills/"+id, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should 404 on a missing bill", func() {
			resp := do("GET", "/api/bills/nope", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("PUT /api/bills/{id}", func() {
		var id string

		JustBeforeEach(func() {
			resp := uploadBill("")
			created := decode(resp)
			id = created["bill"].(map[string]any)["id"].(string)
		})

		It("should apply a field edit", func() {
			resp := do("PUT", "/api/bills/"+id,
				strings.NewReader(`{"extractedData":{"netTotal":350}}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body["bill"].(map[string]any)["canonical_total"]).To(Equal("350"))
		})

		It("should reject a non-numeric total override", func() {
			resp := do("PUT", "/api/bills/"+id,
				strings.NewReader(`{"totalAmount":"fifty"}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should move the bill to another day", func() {
			resp := do("PUT", "/api/bills/"+id,
				strings.NewReader(`{"billDate":"2024-03-13"}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			day1 := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
			day2 := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
			Expect(db.aggregateTotal("owner-1", day1).String()).To(Equal("0"))
			Expect(db.aggregateTotal("owner-1", day2).String()).To(Equal("200"))
		})
	})

	Describe("DELETE /api/bills/{id}", func() {
		It("should delete the bill", func() {
			resp := uploadBill("")
			created := decode(resp)
			id := created["bill"].(map[string]any)["id"].(string)

			resp = do("DELETE", "/api/bills/"+id, nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.bills).To(BeEmpty())
		})
	})

	Describe("GET /api/sheets/{date}", func() {
		It("should return a zero sheet for an empty day", func() {
			resp := do("GET", "/api/sheets/2024-03-12", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			sheet := body["sheet"].(map[string]any)
			Expect(sheet["gross_total"]).To(Equal("0"))
		})
	})

	Describe("GET /api/sheets/{date}/export", func() {
		It("should stream the xlsx attachment", func() {
			resp := uploadBill("")
			resp.Body.Close()

			resp = do("GET", "/api/sheets/2024-03-12/export", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("wexel-sheet-2024-03-12.xlsx"))
		})

		It("should 404 when the day has no bills", func() {
			resp := do("GET", "/api/sheets/2024-03-12/export", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/gross-sales", func() {
		It("should report the period total", func() {
			resp := uploadBill("")
			resp.Body.Close()

			resp = do("GET", "/api/gross-sales?period=week", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body["period"]).To(Equal("week"))
			Expect(body["totalGrossSales"]).To(Equal("200"))
		})
	})

	Describe("contacts", func() {
		It("should create a contact", func() {
			resp := do("POST", "/api/contacts",
				strings.NewReader(`{"phoneNumber":"+15551234567","displayName":"Ravi"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			body := decode(resp)
			Expect(body["contact"].(map[string]any)["is_active"]).To(BeTrue())
		})

		It("should reject a malformed phone number", func() {
			resp := do("POST", "/api/contacts",
				strings.NewReader(`{"phoneNumber":"not-a-phone","displayName":"Ravi"}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should deactivate a contact", func() {
			contact, err := service.CreateContact("owner-1", "+15551234567", "Ravi")
			Expect(err).NotTo(HaveOccurred())

			resp := do("PUT", "/api/contacts/"+contact.ID,
				strings.NewReader(`{"isActive":false}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body["contact"].(map[string]any)["is_active"]).To(BeFalse())
		})
	})

	Describe("GET /api/whatsapp/webhook", func() {
		It("should echo the challenge for the right token", func() {
			resp, err := http.Get(ts.URL + "/api/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("12345"))
		})

		It("should refuse the wrong token", func() {
			resp, err := http.Get(ts.URL + "/api/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})

	Describe("POST /api/whatsapp/webhook", func() {
		webhookBody := func(from string) string {
			return `{
				"object": "whatsapp_business_account",
				"entry": [{
					"id": "entry-1",
					"changes": [{
						"field": "messages",
						"value": {
							"messaging_product": "whatsapp",
							"messages": [{
								"from": "` + from + `",
								"id": "msg-1",
								"type": "image",
								"image": {"id": "media-1", "mime_type": "image/jpeg"}
							}]
						}
					}]
				}]
			}`
		}

		It("should ingest an image from a registered contact", func() {
			contact, err := service.CreateContact("owner-1", "+15551234567", "Ravi")
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Post(ts.URL+"/api/whatsapp/webhook", "application/json",
				strings.NewReader(webhookBody("+15551234567")))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Expect(db.bills).To(HaveLen(1))
			for _, b := range db.bills {
				Expect(b.ContactID).To(Equal(contact.ID))
			}
		})

		It("should ignore images from unknown senders", func() {
			resp, err := http.Post(ts.URL+"/api/whatsapp/webhook", "application/json",
				strings.NewReader(webhookBody("+19998887777")))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.bills).To(BeEmpty())
		})

		It("should ignore images from deactivated contacts", func() {
			contact, err := service.CreateContact("owner-1", "+15551234567", "Ravi")
			Expect(err).NotTo(HaveOccurred())
			inactive := false
			_, err = service.UpdateContact("owner-1", contact.ID, nil, &inactive)
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Post(ts.URL+"/api/whatsapp/webhook", "application/json",
				strings.NewReader(webhookBody("+15551234567")))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.bills).To(BeEmpty())
		})

		It("should still answer 200 when media download fails", func() {
			_, err := service.CreateContact("owner-1", "+15551234567", "Ravi")
			Expect(err).NotTo(HaveOccurred())
			media.err = errors.New("graph api down")

			resp, err := http.Post(ts.URL+"/api/whatsapp/webhook", "application/json",
				strings.NewReader(webhookBody("+15551234567")))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.bills).To(BeEmpty())
		})

		It("should 404 on a foreign object type", func() {
			resp, err := http.Post(ts.URL+"/api/whatsapp/webhook", "application/json",
				strings.NewReader(`{"object":"something_else","entry":[]}`))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
