package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mrgun/server/internal/money"
)

const operatorColumns = `operator_id, username, password_hash, display_name, contact_person,
	contact_phone, email, balance, total_recharged, total_consumed, total_refunded,
	tier, is_active, is_locked, lock_reason, locked_at, created_at, updated_at`

func scanOperator(s scanner) (*Operator, error) {
	var op Operator
	var lockedAt sql.NullTime
	err := s.Scan(
		&op.OperatorID, &op.Username, &op.PasswordHash, &op.DisplayName, &op.ContactPerson,
		&op.ContactPhone, &op.Email, &op.Balance, &op.TotalRecharged, &op.TotalConsumed,
		&op.TotalRefunded, &op.Tier, &op.IsActive, &op.IsLocked, &op.LockReason,
		&lockedAt, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.LockedAt = nullTimePtr(lockedAt)
	return &op, nil
}

// CreateOperator inserts a new operator account.
func (t *pgTx) CreateOperator(ctx context.Context, op *Operator) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO operators (operator_id, username, password_hash, display_name, contact_person,
			contact_phone, email, balance, total_recharged, total_consumed, total_refunded,
			tier, is_active, is_locked, lock_reason, locked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := t.tx.ExecContext(ctx, query,
		op.OperatorID, op.Username, op.PasswordHash, op.DisplayName, op.ContactPerson,
		op.ContactPhone, op.Email, op.Balance, op.TotalRecharged, op.TotalConsumed,
		op.TotalRefunded, op.Tier, op.IsActive, op.IsLocked, op.LockReason,
		nullTime(op.LockedAt), op.CreatedAt.UTC(), op.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("create operator: %w", err)
	}
	return nil
}

// GetOperator retrieves an operator by id.
func (t *pgTx) GetOperator(ctx context.Context, operatorID string) (*Operator, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + operatorColumns + ` FROM operators WHERE operator_id = $1`
	op, err := scanOperator(t.tx.QueryRowContext(ctx, query, operatorID))
	if err == sql.ErrNoRows {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operator: %w", err)
	}
	return op, nil
}

// GetOperatorByUsername retrieves an operator by login name.
func (t *pgTx) GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + operatorColumns + ` FROM operators WHERE username = $1`
	op, err := scanOperator(t.tx.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operator by username: %w", err)
	}
	return op, nil
}

// LockOperatorForUpdate takes the exclusive row lock that serialises all
// balance movements for one operator. Concurrent debits queue here.
func (t *pgTx) LockOperatorForUpdate(ctx context.Context, operatorID string) (*Operator, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + operatorColumns + ` FROM operators WHERE operator_id = $1 FOR UPDATE`
	op, err := scanOperator(t.tx.QueryRowContext(ctx, query, operatorID))
	if err == sql.ErrNoRows {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock operator: %w", err)
	}
	return op, nil
}

// UpdateOperator rewrites the mutable profile and lock fields.
func (t *pgTx) UpdateOperator(ctx context.Context, op *Operator) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE operators
		SET display_name = $2, contact_person = $3, contact_phone = $4, email = $5,
			tier = $6, is_active = $7, is_locked = $8, lock_reason = $9, locked_at = $10,
			updated_at = $11
		WHERE operator_id = $1
	`
	res, err := t.tx.ExecContext(ctx, query,
		op.OperatorID, op.DisplayName, op.ContactPerson, op.ContactPhone, op.Email,
		op.Tier, op.IsActive, op.IsLocked, op.LockReason, nullTime(op.LockedAt),
		op.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update operator: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update operator: %w", err)
	}
	if n == 0 {
		return ErrOperatorNotFound
	}
	return nil
}

// UpdateOperatorBalance writes the balance and running totals. Only valid
// while the caller holds the operator row lock.
func (t *pgTx) UpdateOperatorBalance(ctx context.Context, op *Operator) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE operators
		SET balance = $2, total_recharged = $3, total_consumed = $4, total_refunded = $5,
			updated_at = $6
		WHERE operator_id = $1
	`
	res, err := t.tx.ExecContext(ctx, query,
		op.OperatorID, op.Balance, op.TotalRecharged, op.TotalConsumed, op.TotalRefunded,
		op.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update operator balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update operator balance: %w", err)
	}
	if n == 0 {
		return ErrOperatorNotFound
	}
	return nil
}

// ListOperators returns one page of operators, newest first.
func (t *pgTx) ListOperators(ctx context.Context, page Page) ([]Operator, int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count operators: %w", err)
	}

	query := `SELECT ` + operatorColumns + ` FROM operators ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := t.tx.QueryContext(ctx, query, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var operators []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan operator: %w", err)
		}
		operators = append(operators, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list operators: %w", err)
	}
	return operators, total, nil
}

// ListOperatorsBelowBalance returns active operators whose balance is
// under the threshold, lowest balance first. The low-balance monitor
// drives alerts off this.
func (t *pgTx) ListOperatorsBelowBalance(ctx context.Context, threshold money.Amount) ([]Operator, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + operatorColumns + ` FROM operators
		WHERE balance < $1 AND is_active = TRUE
		ORDER BY balance ASC`
	rows, err := t.tx.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("list operators below balance: %w", err)
	}
	defer rows.Close()

	var operators []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		operators = append(operators, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operators below balance: %w", err)
	}
	return operators, nil
}

const adminColumns = `admin_id, username, password_hash, display_name, role, is_active, created_at, updated_at`

func scanAdmin(s scanner) (*Admin, error) {
	var a Admin
	err := s.Scan(
		&a.AdminID, &a.Username, &a.PasswordHash, &a.DisplayName, &a.Role,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAdmin inserts a back-office account.
func (t *pgTx) CreateAdmin(ctx context.Context, admin *Admin) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO admins (admin_id, username, password_hash, display_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.ExecContext(ctx, query,
		admin.AdminID, admin.Username, admin.PasswordHash, admin.DisplayName, admin.Role,
		admin.IsActive, admin.CreatedAt.UTC(), admin.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

// GetAdmin retrieves an admin account by id.
func (t *pgTx) GetAdmin(ctx context.Context, adminID string) (*Admin, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + adminColumns + ` FROM admins WHERE admin_id = $1`
	a, err := scanAdmin(t.tx.QueryRowContext(ctx, query, adminID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return a, nil
}

// GetAdminByUsername retrieves an admin account by login name.
func (t *pgTx) GetAdminByUsername(ctx context.Context, username string) (*Admin, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + adminColumns + ` FROM admins WHERE username = $1`
	a, err := scanAdmin(t.tx.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin by username: %w", err)
	}
	return a, nil
}

const applicationColumns = `application_id, app_code, app_name, description, unit_price,
	min_players, max_players, is_active, created_at, updated_at`

func scanApplication(s scanner) (*Application, error) {
	var app Application
	err := s.Scan(
		&app.ApplicationID, &app.AppCode, &app.AppName, &app.Description, &app.UnitPrice,
		&app.MinPlayers, &app.MaxPlayers, &app.IsActive, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// CreateApplication inserts a catalog entry.
func (t *pgTx) CreateApplication(ctx context.Context, app *Application) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO applications (application_id, app_code, app_name, description, unit_price,
			min_players, max_players, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.ExecContext(ctx, query,
		app.ApplicationID, app.AppCode, app.AppName, app.Description, app.UnitPrice,
		app.MinPlayers, app.MaxPlayers, app.IsActive, app.CreatedAt.UTC(), app.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateAppCode
	}
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// GetApplication retrieves a catalog entry by id.
func (t *pgTx) GetApplication(ctx context.Context, applicationID string) (*Application, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + applicationColumns + ` FROM applications WHERE application_id = $1`
	app, err := scanApplication(t.tx.QueryRowContext(ctx, query, applicationID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

// GetApplicationByCode retrieves a catalog entry by its headset-facing code.
func (t *pgTx) GetApplicationByCode(ctx context.Context, appCode string) (*Application, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + applicationColumns + ` FROM applications WHERE app_code = $1`
	app, err := scanApplication(t.tx.QueryRowContext(ctx, query, appCode))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application by code: %w", err)
	}
	return app, nil
}

// UpdateApplication rewrites the mutable catalog fields. AppCode is
// immutable and deliberately absent.
func (t *pgTx) UpdateApplication(ctx context.Context, app *Application) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE applications
		SET app_name = $2, description = $3, unit_price = $4, min_players = $5,
			max_players = $6, is_active = $7, updated_at = $8
		WHERE application_id = $1
	`
	res, err := t.tx.ExecContext(ctx, query,
		app.ApplicationID, app.AppName, app.Description, app.UnitPrice, app.MinPlayers,
		app.MaxPlayers, app.IsActive, app.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListApplications returns one catalog page, newest first.
func (t *pgTx) ListApplications(ctx context.Context, onlyActive bool, page Page) ([]Application, int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	where := ""
	if onlyActive {
		where = " WHERE is_active = TRUE"
	}

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}

	query := `SELECT ` + applicationColumns + ` FROM applications` + where +
		` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := t.tx.QueryContext(ctx, query, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	return apps, total, nil
}

// UpsertAuthorization grants or refreshes an operator's access to an
// application. Re-granting replaces the previous grant wholesale.
func (t *pgTx) UpsertAuthorization(ctx context.Context, grant *Authorization) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO app_authorizations (operator_id, application_id, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (operator_id, application_id)
		DO UPDATE SET granted_by = EXCLUDED.granted_by, granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err := t.tx.ExecContext(ctx, query,
		grant.OperatorID, grant.ApplicationID, grant.GrantedBy, grant.GrantedAt.UTC(),
		nullTime(grant.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("upsert authorization: %w", err)
	}
	return nil
}

// GetAuthorization retrieves the grant for an (operator, application) pair.
func (t *pgTx) GetAuthorization(ctx context.Context, operatorID, applicationID string) (*Authorization, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT operator_id, application_id, granted_by, granted_at, expires_at
		FROM app_authorizations
		WHERE operator_id = $1 AND application_id = $2
	`
	var g Authorization
	var expiresAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, query, operatorID, applicationID).Scan(
		&g.OperatorID, &g.ApplicationID, &g.GrantedBy, &g.GrantedAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get authorization: %w", err)
	}
	g.ExpiresAt = nullTimePtr(expiresAt)
	return &g, nil
}

// ListAuthorizedApplications returns the catalog entries an operator holds
// grants for, including grants that have already expired.
func (t *pgTx) ListAuthorizedApplications(ctx context.Context, operatorID string) ([]Application, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT a.application_id, a.app_code, a.app_name, a.description, a.unit_price,
			a.min_players, a.max_players, a.is_active, a.created_at, a.updated_at
		FROM app_authorizations g
		JOIN applications a ON a.application_id = g.application_id
		WHERE g.operator_id = $1
		ORDER BY a.app_name ASC
	`
	rows, err := t.tx.QueryContext(ctx, query, operatorID)
	if err != nil {
		return nil, fmt.Errorf("list authorized applications: %w", err)
	}
	defer rows.Close()

	var apps []Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list authorized applications: %w", err)
	}
	return apps, nil
}

const appRequestColumns = `request_id, operator_id, application_id, reason, status,
	reviewer_id, admin_note, created_at, reviewed_at`

func scanAppRequest(s scanner) (*ApplicationRequest, error) {
	var req ApplicationRequest
	var reviewedAt sql.NullTime
	err := s.Scan(
		&req.RequestID, &req.OperatorID, &req.ApplicationID, &req.Reason, &req.Status,
		&req.ReviewerID, &req.AdminNote, &req.CreatedAt, &reviewedAt,
	)
	if err != nil {
		return nil, err
	}
	req.ReviewedAt = nullTimePtr(reviewedAt)
	return &req, nil
}

// CreateApplicationRequest inserts a pending grant request.
func (t *pgTx) CreateApplicationRequest(ctx context.Context, req *ApplicationRequest) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO app_requests (request_id, operator_id, application_id, reason, status,
			reviewer_id, admin_note, created_at, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.ExecContext(ctx, query,
		req.RequestID, req.OperatorID, req.ApplicationID, req.Reason, req.Status,
		req.ReviewerID, req.AdminNote, req.CreatedAt.UTC(), nullTime(req.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("create application request: %w", err)
	}
	return nil
}

// GetApplicationRequest retrieves a grant request by id.
func (t *pgTx) GetApplicationRequest(ctx context.Context, requestID string) (*ApplicationRequest, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + appRequestColumns + ` FROM app_requests WHERE request_id = $1`
	req, err := scanAppRequest(t.tx.QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application request: %w", err)
	}
	return req, nil
}

// UpdateApplicationRequest rewrites the review fields.
func (t *pgTx) UpdateApplicationRequest(ctx context.Context, req *ApplicationRequest) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE app_requests
		SET status = $2, reviewer_id = $3, admin_note = $4, reviewed_at = $5
		WHERE request_id = $1
	`
	res, err := t.tx.ExecContext(ctx, query,
		req.RequestID, req.Status, req.ReviewerID, req.AdminNote, nullTime(req.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("update application request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application request: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListApplicationRequests returns one page of requests, newest first.
func (t *pgTx) ListApplicationRequests(ctx context.Context, filter ApplicationRequestFilter, page Page) ([]ApplicationRequest, int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var conds []string
	var args []interface{}
	if filter.OperatorID != "" {
		args = append(args, filter.OperatorID)
		conds = append(conds, fmt.Sprintf("operator_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM app_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count application requests: %w", err)
	}

	query := `SELECT ` + appRequestColumns + ` FROM app_requests` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit(), page.Offset())
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list application requests: %w", err)
	}
	defer rows.Close()

	var reqs []ApplicationRequest
	for rows.Next() {
		req, err := scanAppRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan application request: %w", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list application requests: %w", err)
	}
	return reqs, total, nil
}

// FindPendingApplicationRequest returns the open request for a pair, if any.
// Guards against duplicate submissions.
func (t *pgTx) FindPendingApplicationRequest(ctx context.Context, operatorID, applicationID string) (*ApplicationRequest, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + appRequestColumns + ` FROM app_requests
		WHERE operator_id = $1 AND application_id = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1`
	req, err := scanAppRequest(t.tx.QueryRowContext(ctx, query, operatorID, applicationID, RequestStatusPending))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find pending application request: %w", err)
	}
	return req, nil
}

const siteColumns = `site_id, operator_id, name, address, contact_person, contact_phone,
	is_active, deleted_at, created_at, updated_at`

func scanSite(s scanner) (*Site, error) {
	var site Site
	var deletedAt sql.NullTime
	err := s.Scan(
		&site.SiteID, &site.OperatorID, &site.Name, &site.Address, &site.ContactPerson,
		&site.ContactPhone, &site.IsActive, &deletedAt, &site.CreatedAt, &site.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	site.DeletedAt = nullTimePtr(deletedAt)
	return &site, nil
}

// CreateSite inserts a venue site.
func (t *pgTx) CreateSite(ctx context.Context, site *Site) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO sites (site_id, operator_id, name, address, contact_person, contact_phone,
			is_active, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.ExecContext(ctx, query,
		site.SiteID, site.OperatorID, site.Name, site.Address, site.ContactPerson,
		site.ContactPhone, site.IsActive, nullTime(site.DeletedAt), site.CreatedAt.UTC(),
		site.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create site: %w", err)
	}
	return nil
}

// GetSite retrieves a site by id. Soft-deleted sites are still returned so
// usage history stays resolvable; callers check IsDeleted.
func (t *pgTx) GetSite(ctx context.Context, siteID string) (*Site, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + siteColumns + ` FROM sites WHERE site_id = $1`
	site, err := scanSite(t.tx.QueryRowContext(ctx, query, siteID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// UpdateSite rewrites the mutable site fields.
func (t *pgTx) UpdateSite(ctx context.Context, site *Site) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE sites
		SET name = $2, address = $3, contact_person = $4, contact_phone = $5,
			is_active = $6, updated_at = $7
		WHERE site_id = $1 AND deleted_at IS NULL
	`
	res, err := t.tx.ExecContext(ctx, query,
		site.SiteID, site.Name, site.Address, site.ContactPerson, site.ContactPhone,
		site.IsActive, site.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteSite marks a site deleted. Already-deleted sites return
// ErrNotFound.
func (t *pgTx) SoftDeleteSite(ctx context.Context, siteID string, now time.Time) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `UPDATE sites SET deleted_at = $2, updated_at = $2 WHERE site_id = $1 AND deleted_at IS NULL`
	res, err := t.tx.ExecContext(ctx, query, siteID, now.UTC())
	if err != nil {
		return fmt.Errorf("soft delete site: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete site: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSites returns an operator's live sites, newest first.
func (t *pgTx) ListSites(ctx context.Context, operatorID string) ([]Site, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + siteColumns + ` FROM sites
		WHERE operator_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`
	rows, err := t.tx.QueryContext(ctx, query, operatorID)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, *site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}
