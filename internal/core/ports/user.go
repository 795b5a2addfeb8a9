package ports

import (
	"SelamBot/internal/core/domain"
	"context"
	"time"
)

// UserRepository defines the persistence operations for Users.
type UserRepository interface {
	// Create saves a new user to the database.
	Create(ctx context.Context, user *domain.User) error

	// GetByTelegramID finds a user by their unique Telegram ID.
	// Returns (nil, nil) when no such user exists.
	GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)

	// GetByPhoneHash finds the user who registered a phone number, looked
	// up by its deterministic hash. Returns (nil, nil) when unclaimed.
	GetByPhoneHash(ctx context.Context, phoneHash string) (*domain.User, error)

	// GetByPaymentReference finds the user whose pending payment session
	// carries the given reference. Returns (nil, nil) when none matches.
	GetByPaymentReference(ctx context.Context, reference string) (*domain.User, error)

	// Update persists the user with an optimistic-concurrency check.
	// Returns domain.ErrStorageConflict if the row changed since it was
	// read, and domain.ErrPhoneInUse on a phone_hash uniqueness violation.
	Update(ctx context.Context, user *domain.User) error

	// ListStalePaymentSessions returns users whose pending payment session
	// started before the cutoff.
	ListStalePaymentSessions(ctx context.Context, cutoff time.Time) ([]*domain.User, error)

	// BulkResetDailyCounters zeroes trial and subscription daily counters
	// for rows whose reset date predates today. Returns the affected row
	// counts. Lazy per-user rollover makes this proactive, not required.
	BulkResetDailyCounters(ctx context.Context, today time.Time) (trialReset int64, dailyReset int64, err error)
}
