package repositories

import (
	"context"
	"errors"

	"obgateway/internal/apperr"
)

// AsAppError maps store sentinels onto the service error taxonomy.
func AsAppError(op, what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(op, "%s not found", what)
	case errors.Is(err, ErrVersionConflict):
		return apperr.Conflict(op, "%s was modified concurrently, retry the request", what)
	case errors.Is(err, ErrDuplicate):
		return apperr.Conflict(op, "%s already exists", what)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(op, err)
}

// Lock keys shared by every process.
func ConsentKey(id string) string   { return "consent:" + id }
func ScheduleKey(id string) string  { return "schedule:" + id }
func ExecutionKey(id string) string { return "execution:" + id }
func PaymentKey(id string) string   { return "payment:" + id }

// WithLock runs fn while key is held.
func WithLock(ctx context.Context, l Locker, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return apperr.Internal("lock "+key, err)
	}
	defer unlock()
	return fn()
}
