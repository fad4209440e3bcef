package storage

import (
	"context"
	"sort"
	"time"

	"github.com/mrgun/server/internal/money"
)

func (t *memTx) CreateOperator(ctx context.Context, op *Operator) error {
	for _, existing := range t.data.operators {
		if existing.Username == op.Username {
			return ErrDuplicateUsername
		}
	}
	t.data.operators[op.OperatorID] = *op
	return nil
}

func (t *memTx) GetOperator(ctx context.Context, operatorID string) (*Operator, error) {
	op, ok := t.data.operators[operatorID]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	return &op, nil
}

func (t *memTx) GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	for _, op := range t.data.operators {
		if op.Username == username {
			cp := op
			return &cp, nil
		}
	}
	return nil, ErrOperatorNotFound
}

// LockOperatorForUpdate is a plain read here; the store mutex already
// serialises whole transactions.
func (t *memTx) LockOperatorForUpdate(ctx context.Context, operatorID string) (*Operator, error) {
	return t.GetOperator(ctx, operatorID)
}

func (t *memTx) UpdateOperator(ctx context.Context, op *Operator) error {
	existing, ok := t.data.operators[op.OperatorID]
	if !ok {
		return ErrOperatorNotFound
	}
	existing.DisplayName = op.DisplayName
	existing.ContactPerson = op.ContactPerson
	existing.ContactPhone = op.ContactPhone
	existing.Email = op.Email
	existing.Tier = op.Tier
	existing.IsActive = op.IsActive
	existing.IsLocked = op.IsLocked
	existing.LockReason = op.LockReason
	existing.LockedAt = op.LockedAt
	existing.UpdatedAt = op.UpdatedAt
	t.data.operators[op.OperatorID] = existing
	return nil
}

func (t *memTx) UpdateOperatorBalance(ctx context.Context, op *Operator) error {
	existing, ok := t.data.operators[op.OperatorID]
	if !ok {
		return ErrOperatorNotFound
	}
	existing.Balance = op.Balance
	existing.TotalRecharged = op.TotalRecharged
	existing.TotalConsumed = op.TotalConsumed
	existing.TotalRefunded = op.TotalRefunded
	existing.UpdatedAt = op.UpdatedAt
	t.data.operators[op.OperatorID] = existing
	return nil
}

func (t *memTx) ListOperators(ctx context.Context, page Page) ([]Operator, int, error) {
	all := make([]Operator, 0, len(t.data.operators))
	for _, op := range t.data.operators {
		all = append(all, op)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].OperatorID < all[j].OperatorID
	})
	lo, hi := pageBounds(len(all), page)
	return all[lo:hi], len(all), nil
}

func (t *memTx) ListOperatorsBelowBalance(ctx context.Context, threshold money.Amount) ([]Operator, error) {
	var out []Operator
	for _, op := range t.data.operators {
		if op.IsActive && op.Balance.LessThan(threshold) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Balance.Equal(out[j].Balance) {
			return out[i].Balance.LessThan(out[j].Balance)
		}
		return out[i].OperatorID < out[j].OperatorID
	})
	return out, nil
}

func (t *memTx) CreateAdmin(ctx context.Context, admin *Admin) error {
	for _, existing := range t.data.admins {
		if existing.Username == admin.Username {
			return ErrDuplicateUsername
		}
	}
	t.data.admins[admin.AdminID] = *admin
	return nil
}

func (t *memTx) GetAdmin(ctx context.Context, adminID string) (*Admin, error) {
	a, ok := t.data.admins[adminID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memTx) GetAdminByUsername(ctx context.Context, username string) (*Admin, error) {
	for _, a := range t.data.admins {
		if a.Username == username {
			cp := a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateApplication(ctx context.Context, app *Application) error {
	for _, existing := range t.data.applications {
		if existing.AppCode == app.AppCode {
			return ErrDuplicateAppCode
		}
	}
	t.data.applications[app.ApplicationID] = *app
	return nil
}

func (t *memTx) GetApplication(ctx context.Context, applicationID string) (*Application, error) {
	app, ok := t.data.applications[applicationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

func (t *memTx) GetApplicationByCode(ctx context.Context, appCode string) (*Application, error) {
	for _, app := range t.data.applications {
		if app.AppCode == appCode {
			cp := app
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateApplication(ctx context.Context, app *Application) error {
	existing, ok := t.data.applications[app.ApplicationID]
	if !ok {
		return ErrNotFound
	}
	existing.AppName = app.AppName
	existing.Description = app.Description
	existing.UnitPrice = app.UnitPrice
	existing.MinPlayers = app.MinPlayers
	existing.MaxPlayers = app.MaxPlayers
	existing.IsActive = app.IsActive
	existing.UpdatedAt = app.UpdatedAt
	t.data.applications[app.ApplicationID] = existing
	return nil
}

func (t *memTx) ListApplications(ctx context.Context, onlyActive bool, page Page) ([]Application, int, error) {
	var all []Application
	for _, app := range t.data.applications {
		if onlyActive && !app.IsActive {
			continue
		}
		all = append(all, app)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ApplicationID < all[j].ApplicationID
	})
	lo, hi := pageBounds(len(all), page)
	return all[lo:hi], len(all), nil
}

func (t *memTx) UpsertAuthorization(ctx context.Context, grant *Authorization) error {
	t.data.authorizations[authorizationKey(grant.OperatorID, grant.ApplicationID)] = *grant
	return nil
}

func (t *memTx) GetAuthorization(ctx context.Context, operatorID, applicationID string) (*Authorization, error) {
	g, ok := t.data.authorizations[authorizationKey(operatorID, applicationID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (t *memTx) ListAuthorizedApplications(ctx context.Context, operatorID string) ([]Application, error) {
	var apps []Application
	for _, g := range t.data.authorizations {
		if g.OperatorID != operatorID {
			continue
		}
		if app, ok := t.data.applications[g.ApplicationID]; ok {
			apps = append(apps, app)
		}
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].AppName < apps[j].AppName })
	return apps, nil
}

func (t *memTx) CreateApplicationRequest(ctx context.Context, req *ApplicationRequest) error {
	t.data.appRequests[req.RequestID] = *req
	return nil
}

func (t *memTx) GetApplicationRequest(ctx context.Context, requestID string) (*ApplicationRequest, error) {
	req, ok := t.data.appRequests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

func (t *memTx) UpdateApplicationRequest(ctx context.Context, req *ApplicationRequest) error {
	existing, ok := t.data.appRequests[req.RequestID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = req.Status
	existing.ReviewerID = req.ReviewerID
	existing.AdminNote = req.AdminNote
	existing.ReviewedAt = req.ReviewedAt
	t.data.appRequests[req.RequestID] = existing
	return nil
}

func (t *memTx) ListApplicationRequests(ctx context.Context, filter ApplicationRequestFilter, page Page) ([]ApplicationRequest, int, error) {
	var all []ApplicationRequest
	for _, req := range t.data.appRequests {
		if filter.OperatorID != "" && req.OperatorID != filter.OperatorID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		all = append(all, req)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].RequestID < all[j].RequestID
	})
	lo, hi := pageBounds(len(all), page)
	return all[lo:hi], len(all), nil
}

func (t *memTx) FindPendingApplicationRequest(ctx context.Context, operatorID, applicationID string) (*ApplicationRequest, error) {
	var newest *ApplicationRequest
	for _, req := range t.data.appRequests {
		if req.OperatorID != operatorID || req.ApplicationID != applicationID || req.Status != RequestStatusPending {
			continue
		}
		cp := req
		if newest == nil || cp.CreatedAt.After(newest.CreatedAt) {
			newest = &cp
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

func (t *memTx) CreateSite(ctx context.Context, site *Site) error {
	t.data.sites[site.SiteID] = *site
	return nil
}

func (t *memTx) GetSite(ctx context.Context, siteID string) (*Site, error) {
	site, ok := t.data.sites[siteID]
	if !ok {
		return nil, ErrNotFound
	}
	return &site, nil
}

func (t *memTx) UpdateSite(ctx context.Context, site *Site) error {
	existing, ok := t.data.sites[site.SiteID]
	if !ok || existing.IsDeleted() {
		return ErrNotFound
	}
	existing.Name = site.Name
	existing.Address = site.Address
	existing.ContactPerson = site.ContactPerson
	existing.ContactPhone = site.ContactPhone
	existing.IsActive = site.IsActive
	existing.UpdatedAt = site.UpdatedAt
	t.data.sites[site.SiteID] = existing
	return nil
}

func (t *memTx) SoftDeleteSite(ctx context.Context, siteID string, now time.Time) error {
	existing, ok := t.data.sites[siteID]
	if !ok || existing.IsDeleted() {
		return ErrNotFound
	}
	deleted := now.UTC()
	existing.DeletedAt = &deleted
	existing.UpdatedAt = deleted
	t.data.sites[siteID] = existing
	return nil
}

func (t *memTx) ListSites(ctx context.Context, operatorID string) ([]Site, error) {
	var sites []Site
	for _, site := range t.data.sites {
		if site.OperatorID != operatorID || site.IsDeleted() {
			continue
		}
		sites = append(sites, site)
	}
	sort.Slice(sites, func(i, j int) bool {
		if !sites[i].CreatedAt.Equal(sites[j].CreatedAt) {
			return sites[i].CreatedAt.After(sites[j].CreatedAt)
		}
		return sites[i].SiteID < sites[j].SiteID
	})
	return sites, nil
}
