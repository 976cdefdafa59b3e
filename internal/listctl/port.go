// Package listctl implements the generic list controller shared by every
// entity screen: paginated fetch, mutation pass-through and reconciliation of
// the displayed list with the remote collection.
package listctl

import (
	"context"
	"errors"
	"fmt"
)

// PageRequest selects a 1-indexed page of a collection.
type PageRequest struct {
	Page     int
	PageSize int
}

// Page is one page of a remote collection plus the collection's total size.
type Page[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

// Port is the remote data-access contract of one entity type. T is the
// entity, C the create payload and P the partial update payload. Every call
// is scoped to tenantID; an id owned by another tenant behaves as absent.
type Port[T, C, P any] interface {
	FindAll(ctx context.Context, tenantID string, req PageRequest) (Page[T], error)
	// FindByID reports absence with found == false and a nil error.
	FindByID(ctx context.Context, tenantID, id string) (entity T, found bool, err error)
	Create(ctx context.Context, tenantID string, data C) (T, error)
	Update(ctx context.Context, tenantID, id string, patch P) (T, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// TenantSource exposes the active tenant. Absence means "no data".
type TenantSource interface {
	Tenant(ctx context.Context) (string, bool)
}

// TenantFunc adapts a function to TenantSource.
type TenantFunc func(ctx context.Context) (string, bool)

// Tenant implements TenantSource.
func (f TenantFunc) Tenant(ctx context.Context) (string, bool) { return f(ctx) }

// StaticTenant always reports the given tenant; an empty id reports absence.
func StaticTenant(id string) TenantSource {
	return TenantFunc(func(context.Context) (string, bool) { return id, id != "" })
}

// RemoteError is a failed remote call carrying a message that can be shown
// to the user.
type RemoteError struct {
	Op      string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// UserMessage implements shared.UserMessager.
func (e *RemoteError) UserMessage() string { return e.Message }

// asRemote keeps an existing RemoteError and wraps anything else.
func asRemote(op, fallback string, err error) error {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return err
	}
	return &RemoteError{Op: op, Message: fallback, Err: err}
}
