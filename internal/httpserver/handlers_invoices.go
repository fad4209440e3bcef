package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrgun/server/internal/backoffice"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

type invoiceApplyPayload struct {
	Type        string `json:"invoice_type"`
	Amount      string `json:"amount"`
	Title       string `json:"title"`
	TaxNumber   string `json:"tax_number"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	BankName    string `json:"bank_name"`
	BankAccount string `json:"bank_account"`
}

// applyInvoice handles POST /operators/me/invoices.
func (h *handlers) applyInvoice(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req invoiceApplyPayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("invoice_apply.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if req.Amount == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "amount is required", "field", "amount")
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidAmount, "amount must be a decimal with at most two fraction digits")
		return
	}

	invoice, err := h.backoffice.ApplyInvoice(r.Context(), claims.OperatorID(), backoffice.InvoiceParams{
		Type:        storage.InvoiceType(req.Type),
		Amount:      amount,
		Title:       req.Title,
		TaxNumber:   req.TaxNumber,
		Address:     req.Address,
		Phone:       req.Phone,
		BankName:    req.BankName,
		BankAccount: req.BankAccount,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"invoice": viewInvoice(invoice),
	})
}

// listOwnInvoices handles GET /operators/me/invoices.
func (h *handlers) listOwnInvoices(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	filter := storage.InvoiceFilter{OperatorID: claims.OperatorID()}
	if !invoiceStatusFromQuery(w, r, &filter.Status) {
		return
	}

	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListInvoices(r.Context(), filter, page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewInvoices(items), total, page))
}

// financeListInvoices handles GET /finance/invoices across all
// operators.
func (h *handlers) financeListInvoices(w http.ResponseWriter, r *http.Request) {
	filter := storage.InvoiceFilter{OperatorID: r.URL.Query().Get("operator_id")}
	if !invoiceStatusFromQuery(w, r, &filter.Status) {
		return
	}

	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListInvoices(r.Context(), filter, page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewInvoices(items), total, page))
}

func invoiceStatusFromQuery(w http.ResponseWriter, r *http.Request, dest *storage.InvoiceStatus) bool {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return true
	}
	st := storage.InvoiceStatus(raw)
	if !st.Valid() {
		errors.WriteErrorWithDetail(w, errors.ErrCodeInvalidField, "unknown invoice status", "field", "status")
		return false
	}
	*dest = st
	return true
}

type invoiceReviewPayload struct {
	InvoiceNumber string `json:"invoice_number"`
	AdminNote     string `json:"admin_note"`
	InvoiceURL    string `json:"invoice_url"`
}

func decodeInvoiceReview(w http.ResponseWriter, r *http.Request, event string) (invoiceReviewPayload, bool) {
	var req invoiceReviewPayload
	if r.ContentLength == 0 {
		return req, true
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		logger.FromContext(r.Context()).Warn().Err(err).Msg(event + ".invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return req, false
	}
	return req, true
}

// financeApproveInvoice handles POST /finance/invoices/{id}/approve.
// invoice_number may come from the external invoicing system; omitted,
// one is generated.
func (h *handlers) financeApproveInvoice(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}
	req, ok := decodeInvoiceReview(w, r, "invoice_approve")
	if !ok {
		return
	}

	invoice, err := h.backoffice.ApproveInvoice(r.Context(), chi.URLParam(r, "id"), claims.Subject, req.InvoiceNumber, req.AdminNote)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"invoice": viewInvoice(invoice),
	})
}

// financeRejectInvoice handles POST /finance/invoices/{id}/reject.
func (h *handlers) financeRejectInvoice(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}
	req, ok := decodeInvoiceReview(w, r, "invoice_reject")
	if !ok {
		return
	}

	invoice, err := h.backoffice.RejectInvoice(r.Context(), chi.URLParam(r, "id"), claims.Subject, req.AdminNote)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"invoice": viewInvoice(invoice),
	})
}

// financeIssueInvoice handles POST /finance/invoices/{id}/issue.
func (h *handlers) financeIssueInvoice(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeInvoiceReview(w, r, "invoice_issue")
	if !ok {
		return
	}

	invoice, err := h.backoffice.IssueInvoice(r.Context(), chi.URLParam(r, "id"), req.InvoiceURL)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"invoice": viewInvoice(invoice),
	})
}
