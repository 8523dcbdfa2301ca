package bill

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/wexel/wexel/internal/extraction"
)

var _ = Describe("BoltDB", func() {
	var (
		db *BoltDB

		owner = "owner-1"
		day1  = time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
		day2  = time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	)

	newRecord := func(id string, day time.Time, total int64, createdAt time.Time) *Record {
		return &Record{
			ID:             id,
			OwnerID:        owner,
			ImagePath:      id + ".jpg",
			ContentType:    "image/jpeg",
			Kind:           extraction.KindInvoice,
			Fields:         map[string]any{"documentType": "invoice", "netTotal": float64(total)},
			CanonicalTotal: decimal.NewFromInt(total),
			BillDate:       day,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		}
	}

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveBill and GetBill", func() {
		It("should round-trip a record", func() {
			record := newRecord("b1", day1, 200, time.Now().UTC())
			Expect(db.SaveBill(record)).To(Succeed())

			saved, err := db.GetBill("b1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.OwnerID).To(Equal(owner))
			Expect(saved.CanonicalTotal.String()).To(Equal("200"))
			Expect(saved.Kind).To(Equal(extraction.KindInvoice))
		})

		It("should report missing bills as not found", func() {
			_, err := db.GetBill("nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should overwrite on repeated saves", func() {
			record := newRecord("b1", day1, 200, time.Now().UTC())
			Expect(db.SaveBill(record)).To(Succeed())
			record.CanonicalTotal = decimal.NewFromInt(250)
			Expect(db.SaveBill(record)).To(Succeed())

			saved, err := db.GetBill("b1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.CanonicalTotal.String()).To(Equal("250"))
		})
	})

	Describe("DeleteBill", func() {
		It("should remove an existing bill", func() {
			Expect(db.SaveBill(newRecord("b1", day1, 200, time.Now().UTC()))).To(Succeed())
			Expect(db.DeleteBill("b1")).To(Succeed())
			_, err := db.GetBill("b1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should report a missing bill as not found", func() {
			err := db.DeleteBill("nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListBills", func() {
		BeforeEach(func() {
			base := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
			Expect(db.SaveBill(newRecord("b1", day1, 100, base))).To(Succeed())
			Expect(db.SaveBill(newRecord("b2", day1, 200, base.Add(time.Hour)))).To(Succeed())
			Expect(db.SaveBill(newRecord("b3", day2, 300, base.Add(2*time.Hour)))).To(Succeed())

			other := newRecord("b4", day1, 999, base)
			other.OwnerID = "owner-2"
			Expect(db.SaveBill(other)).To(Succeed())
		})

		It("should scope to the owner", func() {
			bills, err := db.ListBills(owner, day1, day2)
			Expect(err).NotTo(HaveOccurred())
			Expect(bills).To(HaveLen(3))
		})

		It("should filter by date range", func() {
			bills, err := db.ListBills(owner, day2, day2)
			Expect(err).NotTo(HaveOccurred())
			Expect(bills).To(HaveLen(1))
			Expect(bills[0].ID).To(Equal("b3"))
		})

		It("should order newest bill date first", func() {
			bills, err := db.ListBills(owner, day1, day2)
			Expect(err).NotTo(HaveOccurred())
			Expect(bills[0].ID).To(Equal("b3"))
		})
	})

	Describe("BillsForDate", func() {
		It("should return the day's bills in capture order", func() {
			base := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
			Expect(db.SaveBill(newRecord("late", day1, 100, base.Add(time.Hour)))).To(Succeed())
			Expect(db.SaveBill(newRecord("early", day1, 200, base))).To(Succeed())

			bills, err := db.BillsForDate(owner, day1)
			Expect(err).NotTo(HaveOccurred())
			Expect(bills).To(HaveLen(2))
			Expect(bills[0].ID).To(Equal("early"))
			Expect(bills[1].ID).To(Equal("late"))
		})
	})

	Describe("BillsForContact", func() {
		It("should return the contact's bills newest first", func() {
			base := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
			first := newRecord("b1", day1, 100, base)
			first.ContactID = "c1"
			second := newRecord("b2", day1, 200, base.Add(time.Hour))
			second.ContactID = "c1"
			unrelated := newRecord("b3", day1, 300, base)
			Expect(db.SaveBill(first)).To(Succeed())
			Expect(db.SaveBill(second)).To(Succeed())
			Expect(db.SaveBill(unrelated)).To(Succeed())

			bills, err := db.BillsForContact(owner, "c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(bills).To(HaveLen(2))
			Expect(bills[0].ID).To(Equal("b2"))
		})
	})

	Describe("RecomputeAggregate", func() {
		It("should sum the day's canonical totals", func() {
			now := time.Now().UTC()
			Expect(db.SaveBill(newRecord("b1", day1, 100, now))).To(Succeed())
			Expect(db.SaveBill(newRecord("b2", day1, 250, now))).To(Succeed())
			Expect(db.SaveBill(newRecord("b3", day2, 999, now))).To(Succeed())

			agg, err := db.RecomputeAggregate(owner, day1)
			Expect(err).NotTo(HaveOccurred())
			Expect(agg.GrossTotal.String()).To(Equal("350"))
			Expect(agg.SheetDate).To(BeTemporally("==", day1))
		})

		It("should be idempotent", func() {
			Expect(db.SaveBill(newRecord("b1", day1, 100, time.Now().UTC()))).To(Succeed())

			_, err := db.RecomputeAggregate(owner, day1)
			Expect(err).NotTo(HaveOccurred())
			agg, err := db.RecomputeAggregate(owner, day1)
			Expect(err).NotTo(HaveOccurred())
			Expect(agg.GrossTotal.String()).To(Equal("100"))
		})

		It("should write a zero row for an empty day", func() {
			_, err := db.RecomputeAggregate(owner, day1)
			Expect(err).NotTo(HaveOccurred())

			agg, err := db.GetAggregate(owner, day1)
			Expect(err).NotTo(HaveOccurred())
			Expect(agg.GrossTotal.String()).To(Equal("0"))
		})
	})

	Describe("GetAggregate", func() {
		It("should report a missing row as not found", func() {
			_, err := db.GetAggregate(owner, day1)
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListAggregates", func() {
		BeforeEach(func() {
			now := time.Now().UTC()
			Expect(db.SaveBill(newRecord("b1", day1, 100, now))).To(Succeed())
			Expect(db.SaveBill(newRecord("b2", day2, 200, now))).To(Succeed())
			_, err := db.RecomputeAggregate(owner, day1)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.RecomputeAggregate(owner, day2)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.RecomputeAggregate("owner-2", day1)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should scope to the owner, newest first", func() {
			aggs, err := db.ListAggregates(owner, day1, day2)
			Expect(err).NotTo(HaveOccurred())
			Expect(aggs).To(HaveLen(2))
			Expect(aggs[0].SheetDate).To(BeTemporally("==", day2))
		})

		It("should filter by date range", func() {
			aggs, err := db.ListAggregates(owner, day2, day2)
			Expect(err).NotTo(HaveOccurred())
			Expect(aggs).To(HaveLen(1))
			Expect(aggs[0].GrossTotal.String()).To(Equal("200"))
		})
	})

	Describe("Contacts", func() {
		newContact := func(id, phone string) *Contact {
			now := time.Now().UTC()
			return &Contact{
				ID:          id,
				OwnerID:     owner,
				PhoneNumber: phone,
				DisplayName: "Ravi",
				IsActive:    true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
		}

		It("should round-trip a contact", func() {
			Expect(db.SaveContact(newContact("c1", "+15551234567"))).To(Succeed())
			contact, err := db.GetContact("c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(contact.PhoneNumber).To(Equal("+15551234567"))
		})

		It("should find a contact by phone number", func() {
			Expect(db.SaveContact(newContact("c1", "+15551234567"))).To(Succeed())
			contact, err := db.ContactByPhone(owner, "+15551234567")
			Expect(err).NotTo(HaveOccurred())
			Expect(contact.ID).To(Equal("c1"))
		})

		It("should not find another owner's contact by phone", func() {
			Expect(db.SaveContact(newContact("c1", "+15551234567"))).To(Succeed())
			_, err := db.ContactByPhone("owner-2", "+15551234567")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should list an owner's contacts", func() {
			Expect(db.SaveContact(newContact("c1", "+15551234567"))).To(Succeed())
			Expect(db.SaveContact(newContact("c2", "+15557654321"))).To(Succeed())
			contacts, err := db.ListContacts(owner)
			Expect(err).NotTo(HaveOccurred())
			Expect(contacts).To(HaveLen(2))
		})

		It("should delete a contact", func() {
			Expect(db.SaveContact(newContact("c1", "+15551234567"))).To(Succeed())
			Expect(db.DeleteContact("c1")).To(Succeed())
			_, err := db.GetContact("c1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})
})
