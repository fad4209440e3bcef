package backoffice

import (
	"context"
	"strings"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/storage"
)

// SiteParams carries the fields an operator controls on a venue site.
type SiteParams struct {
	Name          string
	Address       string
	ContactPerson string
	ContactPhone  string
}

// SiteUpdate holds a partial site edit. Nil fields keep their current
// value.
type SiteUpdate struct {
	Name          *string
	Address       *string
	ContactPerson *string
	ContactPhone  *string
	IsActive      *bool
}

// CreateSite registers a venue site under the operator.
func (s *Service) CreateSite(ctx context.Context, operatorID string, p SiteParams) (*storage.Site, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "site name is required").
			WithDetail("field", "name")
	}

	now := s.now()
	site := &storage.Site{
		SiteID:        storage.NewSiteID(),
		OperatorID:    operatorID,
		Name:          name,
		Address:       strings.TrimSpace(p.Address),
		ContactPerson: strings.TrimSpace(p.ContactPerson),
		ContactPhone:  strings.TrimSpace(p.ContactPhone),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.runTx(ctx, "site_create", func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateSite(ctx, site)
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("operator_id", operatorID).
		Str("site_id", site.SiteID).
		Msg("site_create.created")
	return site, nil
}

// UpdateSite applies a partial edit to a site the operator owns.
// Another operator's site surfaces as site_not_owned; a deleted site
// as site_not_found.
func (s *Service) UpdateSite(ctx context.Context, operatorID, siteID string, u SiteUpdate) (*storage.Site, error) {
	var site *storage.Site
	err := s.runTx(ctx, "site_update", func(ctx context.Context, tx storage.Tx) error {
		var err error
		site, err = loadOwnedSite(ctx, tx, operatorID, siteID)
		if err != nil {
			return err
		}

		if u.Name != nil {
			name := strings.TrimSpace(*u.Name)
			if name == "" {
				return errors.New(errors.ErrCodeInvalidField, "site name cannot be empty").
					WithDetail("field", "name")
			}
			site.Name = name
		}
		if u.Address != nil {
			site.Address = strings.TrimSpace(*u.Address)
		}
		if u.ContactPerson != nil {
			site.ContactPerson = strings.TrimSpace(*u.ContactPerson)
		}
		if u.ContactPhone != nil {
			site.ContactPhone = strings.TrimSpace(*u.ContactPhone)
		}
		if u.IsActive != nil {
			site.IsActive = *u.IsActive
		}
		site.UpdatedAt = s.now()
		return tx.UpdateSite(ctx, site)
	})
	if err != nil {
		return nil, err
	}
	return site, nil
}

// DeleteSite soft-deletes a site the operator owns. Usage records keep
// referencing the row; it just stops hosting new sessions and drops out
// of listings.
func (s *Service) DeleteSite(ctx context.Context, operatorID, siteID string) error {
	err := s.runTx(ctx, "site_delete", func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadOwnedSite(ctx, tx, operatorID, siteID); err != nil {
			return err
		}
		return tx.SoftDeleteSite(ctx, siteID, s.now())
	})
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("operator_id", operatorID).
		Str("site_id", siteID).
		Msg("site_delete.applied")
	return nil
}

// ListSites returns the operator's live sites, newest first.
func (s *Service) ListSites(ctx context.Context, operatorID string) ([]storage.Site, error) {
	var sites []storage.Site
	err := s.readTx(ctx, "site_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		sites, err = tx.ListSites(ctx, operatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sites, nil
}

// loadOwnedSite fetches a site and verifies it belongs to the operator
// and has not been deleted.
func loadOwnedSite(ctx context.Context, tx storage.Tx, operatorID, siteID string) (*storage.Site, error) {
	site, err := tx.GetSite(ctx, siteID)
	if err == storage.ErrNotFound {
		return nil, errors.New(errors.ErrCodeSiteNotFound, "site not found")
	}
	if err != nil {
		return nil, err
	}
	if site.OperatorID != operatorID {
		return nil, errors.New(errors.ErrCodeSiteNotOwned, "site belongs to a different operator")
	}
	if site.IsDeleted() {
		return nil, errors.New(errors.ErrCodeSiteNotFound, "site not found")
	}
	return site, nil
}
