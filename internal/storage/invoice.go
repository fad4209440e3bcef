package storage

import (
	"time"

	"github.com/mrgun/server/internal/money"
)

// InvoiceType distinguishes plain receipts from VAT special invoices,
// which carry full buyer tax details.
type InvoiceType string

const (
	InvoiceRegular InvoiceType = "regular"
	InvoiceVAT     InvoiceType = "vat"
)

// Valid reports whether the type is one of the closed set.
func (t InvoiceType) Valid() bool {
	return t == InvoiceRegular || t == InvoiceVAT
}

// InvoiceStatus tracks an invoice application's lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusPending  InvoiceStatus = "pending"
	InvoiceStatusApproved InvoiceStatus = "approved"
	InvoiceStatusRejected InvoiceStatus = "rejected"
	InvoiceStatusIssued   InvoiceStatus = "issued"
)

// Valid reports whether the status is one of the closed set.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusApproved, InvoiceStatusRejected, InvoiceStatusIssued:
		return true
	}
	return false
}

// Invoice is an operator's request for a fapiao covering consumed spend.
// InvoiceNumber is assigned at approval, InvoiceURL at issue.
type Invoice struct {
	InvoiceID     string
	OperatorID    string
	Type          InvoiceType
	Amount        money.Amount
	Title         string // buyer title printed on the invoice
	TaxNumber     string
	Address       string
	Phone         string
	BankName      string
	BankAccount   string
	Status        InvoiceStatus
	InvoiceNumber string
	InvoiceURL    string
	ReviewerID    string
	AdminNote     string
	CreatedAt     time.Time
	ReviewedAt    *time.Time
	IssuedAt      *time.Time
}
