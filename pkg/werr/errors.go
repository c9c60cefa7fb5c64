// Package werr defines the error taxonomy shared by every vectorshard
// component: collection, shard, transfer and consensus code all return
// these types (or wrap them with %w) instead of ad-hoc strings, so callers
// can branch on kind with errors.As/errors.Is.
package werr

import "fmt"

// NotFound means a resource (collection, shard, point, snapshot) is absent.
type NotFound struct {
	Resource string
}

func (e *NotFound) Error() string { return fmt.Sprintf("not found: %s", e.Resource) }

// PointNotFound means a bulk operation referenced an unknown point id. It
// always carries the first offending id.
type PointNotFound struct {
	PointID uint64
}

func (e *PointNotFound) Error() string { return fmt.Sprintf("point not found: %d", e.PointID) }

// BadRequest is a client-visible input error.
type BadRequest struct {
	Description string
}

func (e *BadRequest) Error() string { return fmt.Sprintf("bad request: %s", e.Description) }

// InconsistentShardFailure means a fan-out operation partially failed. The
// dataset is now divergent across shards and callers must surface this
// distinctly rather than retry silently.
type InconsistentShardFailure struct {
	Total    int
	Failed   int
	FirstErr error
}

func (e *InconsistentShardFailure) Error() string {
	return fmt.Sprintf("inconsistent shard failure: %d/%d shards failed: %v", e.Failed, e.Total, e.FirstErr)
}

func (e *InconsistentShardFailure) Unwrap() error { return e.FirstErr }

// ServiceError is internal/transient and safe to retry.
type ServiceError struct {
	Description string
}

func (e *ServiceError) Error() string { return fmt.Sprintf("service error: %s", e.Description) }

// Cancelled means the operation was cooperatively cancelled.
type Cancelled struct {
	Description string
}

func (e *Cancelled) Error() string { return fmt.Sprintf("cancelled: %s", e.Description) }

// Timeout means a deadline expired.
type Timeout struct {
	Description string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout: %s", e.Description) }

// Convenience constructors, mirroring the fmt.Errorf("...: %w", err) wrapping
// style used throughout the rest of the module.

func NewNotFound(resource string) error { return &NotFound{Resource: resource} }

func NewPointNotFound(id uint64) error { return &PointNotFound{PointID: id} }

func NewBadRequest(format string, args ...interface{}) error {
	return &BadRequest{Description: fmt.Sprintf(format, args...)}
}

func NewServiceError(format string, args ...interface{}) error {
	return &ServiceError{Description: fmt.Sprintf(format, args...)}
}

func NewInconsistentShardFailure(total, failed int, firstErr error) error {
	return &InconsistentShardFailure{Total: total, Failed: failed, FirstErr: firstErr}
}

func NewCancelled(format string, args ...interface{}) error {
	return &Cancelled{Description: fmt.Sprintf(format, args...)}
}

func NewTimeoutError(format string, args ...interface{}) error {
	return &Timeout{Description: fmt.Sprintf(format, args...)}
}
