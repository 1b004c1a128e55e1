package service

import (
	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/storage"
)

// StoreError translates a storage or domain error into a ServiceError.
// resource and id describe the row for not-found responses.
func StoreError(resource, id string, err error) error {
	if err == nil {
		return nil
	}
	if se := errors.GetServiceError(err); se != nil {
		return se
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return errors.NotFound(resource, id)
	case errors.Is(err, storage.ErrConflict):
		return errors.Conflict(resource + " already exists")
	case errors.Is(err, domain.ErrInvalidTransition):
		return errors.Conflict(err.Error())
	case domain.IsValidation(err):
		return errors.Validation(err)
	}
	return errors.Internal("", err)
}
