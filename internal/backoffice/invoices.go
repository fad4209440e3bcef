package backoffice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// InvoiceParams carries an operator's invoice application. The bank
// fields matter only for VAT invoices and stay optional even there;
// finance rejects applications with gaps they care about.
type InvoiceParams struct {
	Type        storage.InvoiceType
	Amount      money.Amount
	Title       string
	TaxNumber   string
	Address     string
	Phone       string
	BankName    string
	BankAccount string
}

// ApplyInvoice files an invoice application against consumed spend.
// Finance verifies the claimed amount during review; nothing is checked
// against the ledger here.
func (s *Service) ApplyInvoice(ctx context.Context, operatorID string, p InvoiceParams) (*storage.Invoice, error) {
	if !p.Type.Valid() {
		return nil, errors.New(errors.ErrCodeInvalidField, "invoice type must be regular or vat").
			WithDetail("field", "type")
	}
	if !p.Amount.IsPositive() {
		return nil, errors.New(errors.ErrCodeInvalidAmount, "invoice amount must be positive")
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "invoice title is required").
			WithDetail("field", "title")
	}
	taxNumber := strings.TrimSpace(p.TaxNumber)
	if p.Type == storage.InvoiceVAT && taxNumber == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "vat invoices require a tax number").
			WithDetail("field", "tax_number")
	}

	invoice := &storage.Invoice{
		InvoiceID:   uuid.New().String(),
		OperatorID:  operatorID,
		Type:        p.Type,
		Amount:      p.Amount,
		Title:       title,
		TaxNumber:   taxNumber,
		Address:     strings.TrimSpace(p.Address),
		Phone:       strings.TrimSpace(p.Phone),
		BankName:    strings.TrimSpace(p.BankName),
		BankAccount: strings.TrimSpace(p.BankAccount),
		Status:      storage.InvoiceStatusPending,
		CreatedAt:   s.now(),
	}

	err := s.runTx(ctx, "invoice_apply", func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("operator_id", operatorID).
		Str("invoice_id", invoice.InvoiceID).
		Str("amount", invoice.Amount.String()).
		Str("type", string(invoice.Type)).
		Msg("invoice_apply.created")
	return invoice, nil
}

// ListInvoices pages through invoice applications.
func (s *Service) ListInvoices(ctx context.Context, filter storage.InvoiceFilter, page storage.Page) ([]storage.Invoice, int, error) {
	var (
		invoices []storage.Invoice
		total    int
	)
	err := s.readTx(ctx, "invoice_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		invoices, total, err = tx.ListInvoices(ctx, filter, page)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// ApproveInvoice accepts a pending application and assigns the fiscal
// invoice number. Finance may supply the number from their invoicing
// system; left blank, one is generated.
func (s *Service) ApproveInvoice(ctx context.Context, invoiceID, reviewerID, invoiceNumber, adminNote string) (*storage.Invoice, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)

	var invoice *storage.Invoice
	err := s.runTx(ctx, "invoice_approve", func(ctx context.Context, tx storage.Tx) error {
		var err error
		invoice, err = tx.GetInvoice(ctx, invoiceID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeInvoiceNotFound, "invoice not found")
		}
		if err != nil {
			return err
		}
		if invoice.Status != storage.InvoiceStatusPending {
			return errors.Newf(errors.ErrCodeInvalidState, "invoice is already %s", invoice.Status)
		}

		now := s.now()
		number := invoiceNumber
		if number == "" {
			number = newInvoiceNumber(now)
		}
		invoice.Status = storage.InvoiceStatusApproved
		invoice.InvoiceNumber = number
		invoice.ReviewerID = reviewerID
		invoice.AdminNote = strings.TrimSpace(adminNote)
		invoice.ReviewedAt = &now
		return tx.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("invoice_id", invoiceID).
		Str("invoice_number", invoice.InvoiceNumber).
		Str("reviewer_id", reviewerID).
		Msg("invoice_approve.settled")
	return invoice, nil
}

// RejectInvoice declines a pending application with the reason the
// operator will see.
func (s *Service) RejectInvoice(ctx context.Context, invoiceID, reviewerID, adminNote string) (*storage.Invoice, error) {
	adminNote = strings.TrimSpace(adminNote)
	if adminNote == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "a note explaining the rejection is required").
			WithDetail("field", "admin_note")
	}

	var invoice *storage.Invoice
	err := s.runTx(ctx, "invoice_reject", func(ctx context.Context, tx storage.Tx) error {
		var err error
		invoice, err = tx.GetInvoice(ctx, invoiceID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeInvoiceNotFound, "invoice not found")
		}
		if err != nil {
			return err
		}
		if invoice.Status != storage.InvoiceStatusPending {
			return errors.Newf(errors.ErrCodeInvalidState, "invoice is already %s", invoice.Status)
		}

		now := s.now()
		invoice.Status = storage.InvoiceStatusRejected
		invoice.ReviewerID = reviewerID
		invoice.AdminNote = adminNote
		invoice.ReviewedAt = &now
		return tx.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("invoice_id", invoiceID).
		Str("reviewer_id", reviewerID).
		Msg("invoice_reject.settled")
	return invoice, nil
}

// IssueInvoice records the hosted PDF for an approved invoice and
// closes the lifecycle.
func (s *Service) IssueInvoice(ctx context.Context, invoiceID, invoiceURL string) (*storage.Invoice, error) {
	invoiceURL = strings.TrimSpace(invoiceURL)
	if invoiceURL == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "invoice url is required").
			WithDetail("field", "invoice_url")
	}
	if u, err := url.Parse(invoiceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.New(errors.ErrCodeInvalidField, "invoice url must be an http(s) url").
			WithDetail("field", "invoice_url")
	}

	var invoice *storage.Invoice
	err := s.runTx(ctx, "invoice_issue", func(ctx context.Context, tx storage.Tx) error {
		var err error
		invoice, err = tx.GetInvoice(ctx, invoiceID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeInvoiceNotFound, "invoice not found")
		}
		if err != nil {
			return err
		}
		if invoice.Status != storage.InvoiceStatusApproved {
			return errors.Newf(errors.ErrCodeInvalidState, "invoice is %s, not approved", invoice.Status)
		}

		now := s.now()
		invoice.Status = storage.InvoiceStatusIssued
		invoice.InvoiceURL = invoiceURL
		invoice.IssuedAt = &now
		return tx.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("invoice_id", invoiceID).
		Str("invoice_number", invoice.InvoiceNumber).
		Msg("invoice_issue.settled")
	return invoice, nil
}

// newInvoiceNumber builds a date-stamped fiscal number, random enough
// that two approvals in the same millisecond cannot collide.
func newInvoiceNumber(now time.Time) string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("INV-%s-%08X", now.UTC().Format("20060102"), now.UnixNano()&0xFFFFFFFF)
	}
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(b[:])))
}
