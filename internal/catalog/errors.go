package catalog

import "errors"

// Domain errors for the catalog package.
var (
	// ErrCatalogLoad wraps any failure reading the template store.
	// The previous snapshot stays active when a reload fails.
	ErrCatalogLoad = errors.New("catalog: load failed")

	// ErrNotFound is returned when a group ID is not in the current snapshot.
	ErrNotFound = errors.New("catalog: group not found")

	// ErrInvalidGroup is returned when a descriptor is structurally wrong.
	ErrInvalidGroup = errors.New("catalog: invalid group")

	// ErrInvalidStep is returned when a single step fails validation.
	ErrInvalidStep = errors.New("catalog: invalid step")

	// ErrUnknownAccount is returned when no step of a group is tagged for an account.
	ErrUnknownAccount = errors.New("catalog: no steps for account")

	// ErrRegionTooSmall is returned when a search region cannot hold its template.
	ErrRegionTooSmall = errors.New("catalog: region smaller than template")

	// ErrTemplateMissing is returned when a step references an image that doesn't exist.
	ErrTemplateMissing = errors.New("catalog: template image missing")
)
