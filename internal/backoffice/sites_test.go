package backoffice

import (
	"context"
	"strings"
	"testing"

	"github.com/mrgun/server/internal/errors"
)

func TestCreateSite(t *testing.T) {
	svc, store := newService(t)
	seedOperator(t, store, "op_1", "50.00")
	ctx := context.Background()

	site, err := svc.CreateSite(ctx, "op_1", SiteParams{
		Name:    "  North Hall  ",
		Address: "12 Jianguo Road",
	})
	if err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}
	if !strings.HasPrefix(site.SiteID, "site_") {
		t.Errorf("site id = %s, want site_ prefix", site.SiteID)
	}
	if site.Name != "North Hall" {
		t.Errorf("name = %q, want trimmed", site.Name)
	}
	if !site.IsActive {
		t.Error("new site not active")
	}

	sites, err := svc.ListSites(ctx, "op_1")
	if err != nil {
		t.Fatalf("ListSites failed: %v", err)
	}
	if len(sites) != 1 || sites[0].SiteID != site.SiteID {
		t.Errorf("listing = %+v", sites)
	}
}

func TestCreateSiteRequiresName(t *testing.T) {
	svc, store := newService(t)
	seedOperator(t, store, "op_1", "50.00")

	_, err := svc.CreateSite(context.Background(), "op_1", SiteParams{Name: "   "})
	if !errors.Is(err, errors.ErrCodeMissingField) {
		t.Errorf("error = %v, want missing_field", err)
	}
}

func TestUpdateSite(t *testing.T) {
	svc, store := newService(t)
	seedOperator(t, store, "op_1", "50.00")
	ctx := context.Background()

	site, err := svc.CreateSite(ctx, "op_1", SiteParams{Name: "North Hall"})
	if err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}

	name := "North Hall Rebuilt"
	inactive := false
	updated, err := svc.UpdateSite(ctx, "op_1", site.SiteID, SiteUpdate{
		Name:     &name,
		IsActive: &inactive,
	})
	if err != nil {
		t.Fatalf("UpdateSite failed: %v", err)
	}
	if updated.Name != "North Hall Rebuilt" {
		t.Errorf("name = %q", updated.Name)
	}
	if updated.IsActive {
		t.Error("IsActive = true after disabling")
	}
	// Untouched fields survive a partial update.
	if updated.Address != site.Address {
		t.Errorf("address changed: %q -> %q", site.Address, updated.Address)
	}
}

func TestUpdateSiteOwnership(t *testing.T) {
	svc, store := newService(t)
	seedOperator(t, store, "op_1", "50.00")
	seedOperator(t, store, "op_2", "50.00")
	ctx := context.Background()

	site, err := svc.CreateSite(ctx, "op_1", SiteParams{Name: "North Hall"})
	if err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}

	name := "hijacked"
	_, err = svc.UpdateSite(ctx, "op_2", site.SiteID, SiteUpdate{Name: &name})
	if !errors.Is(err, errors.ErrCodeSiteNotOwned) {
		t.Errorf("error = %v, want site_not_owned", err)
	}

	_, err = svc.UpdateSite(ctx, "op_1", "site_00000000-0000-0000-0000-000000000000", SiteUpdate{Name: &name})
	if !errors.Is(err, errors.ErrCodeSiteNotFound) {
		t.Errorf("error = %v, want site_not_found", err)
	}
}

func TestDeleteSite(t *testing.T) {
	svc, store := newService(t)
	seedOperator(t, store, "op_1", "50.00")
	ctx := context.Background()

	site, err := svc.CreateSite(ctx, "op_1", SiteParams{Name: "North Hall"})
	if err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}
	if err := svc.DeleteSite(ctx, "op_1", site.SiteID); err != nil {
		t.Fatalf("DeleteSite failed: %v", err)
	}

	sites, err := svc.ListSites(ctx, "op_1")
	if err != nil {
		t.Fatalf("ListSites failed: %v", err)
	}
	if len(sites) != 0 {
		t.Errorf("deleted site still listed: %+v", sites)
	}

	// Deleted sites are gone from the operator's point of view.
	if err := svc.DeleteSite(ctx, "op_1", site.SiteID); !errors.Is(err, errors.ErrCodeSiteNotFound) {
		t.Errorf("second delete error = %v, want site_not_found", err)
	}
	name := "back from the dead"
	if _, err := svc.UpdateSite(ctx, "op_1", site.SiteID, SiteUpdate{Name: &name}); !errors.Is(err, errors.ErrCodeSiteNotFound) {
		t.Errorf("update after delete error = %v, want site_not_found", err)
	}
}

func TestDeleteSiteOwnership(t *testing.T) {
	svc, store := newService(t)
	seedOperator(t, store, "op_1", "50.00")
	seedOperator(t, store, "op_2", "50.00")
	ctx := context.Background()

	site, err := svc.CreateSite(ctx, "op_1", SiteParams{Name: "North Hall"})
	if err != nil {
		t.Fatalf("CreateSite failed: %v", err)
	}
	if err := svc.DeleteSite(ctx, "op_2", site.SiteID); !errors.Is(err, errors.ErrCodeSiteNotOwned) {
		t.Errorf("error = %v, want site_not_owned", err)
	}
}
