package storage

import "time"

// Site is a physical venue location owned by an operator. Sites referenced
// by usage records are soft-deleted only, so history stays resolvable.
type Site struct {
	SiteID        string
	OperatorID    string
	Name          string
	Address       string
	ContactPerson string
	ContactPhone  string
	IsActive      bool
	DeletedAt     *time.Time // soft delete marker
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsDeleted reports whether the site has been soft-deleted.
func (s *Site) IsDeleted() bool {
	return s.DeletedAt != nil
}

// Usable reports whether the site may host new game sessions.
func (s *Site) Usable() bool {
	return s.IsActive && !s.IsDeleted()
}
