package postgres

import (
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// uniqueViolation is the Postgres error code for a unique-index conflict.
const uniqueViolation = "23505"

type userRepository struct {
	db     *DB
	secSvc ports.SecurityPort // We need this to encrypt/decrypt
	log    zerolog.Logger
}

var _ ports.UserRepository = (*userRepository)(nil) // Ensure compliance

// NewUserRepository creates a new repository for user operations.
func NewUserRepository(db *DB, secSvc ports.SecurityPort, baseLogger *zerolog.Logger) ports.UserRepository {
	return &userRepository{
		db:     db,
		secSvc: secSvc,
		log:    baseLogger.With().Str("component", "user_repo").Logger(),
	}
}

// encryptField seals a plaintext field and base64-encodes it for a text
// column. A nil input stays nil.
func (r *userRepository) encryptField(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	encBytes, err := r.secSvc.Encrypt([]byte(*value))
	if err != nil {
		return nil, err
	}
	encStr := base64.StdEncoding.EncodeToString(encBytes)
	return &encStr, nil
}

// decryptField reverses encryptField.
func (r *userRepository) decryptField(stored *string) (*string, error) {
	if stored == nil {
		return nil, nil
	}
	decBytes, err := base64.StdEncoding.DecodeString(*stored)
	if err != nil {
		return nil, err
	}
	dec, err := r.secSvc.Decrypt(decBytes)
	if err != nil {
		return nil, err
	}
	decStr := string(dec)
	return &decStr, nil
}

// phoneHash is the deterministic lookup key for the trial-reuse check.
// It is derived here so every write keeps the column in sync with the
// encrypted phone.
func (r *userRepository) phoneHash(phone *string) *string {
	if phone == nil {
		return nil
	}
	h := r.secSvc.Hash(*phone)
	return &h
}

// Create encrypts sensitive data and saves a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	encPhone, err := r.encryptField(user.PhoneNumber)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encrypt phone number")
		return err
	}
	encPayPhone, err := r.encryptField(user.PaymentPhoneNumber)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encrypt payment phone number")
		return err
	}

	query := `
		INSERT INTO users (
			id, telegram_id, stage, phone_number, phone_hash, payment_phone_number,
			consent_given_at, has_used_trial, trial_messages_used_today, trial_reset_date,
			daily_message_count, daily_count_reset_date, selected_plan_type,
			payment_plan_type, payment_amount, payment_reference, payment_started_at, payment_status,
			sub_plan_type, sub_amount, sub_start_date, sub_expiry_date, sub_status,
			version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
	`
	args := append(
		[]any{user.ID, user.TelegramID, user.Stage, encPhone, r.phoneHash(user.PhoneNumber), encPayPhone},
		r.stateColumns(user)...,
	)
	_, err = r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrPhoneInUse
		}
		r.log.Error().Err(err).Int64("telegram_id", user.TelegramID).Msg("Failed to insert new user")
	}
	return err
}

// stateColumns lists the non-identity column values shared by Create and
// Update, in schema order starting at consent_given_at.
func (r *userRepository) stateColumns(user *domain.User) []any {
	var payPlan, payRef, payStatus *string
	var payAmount *int64
	var payStarted *time.Time
	if s := user.PendingPayment; s != nil {
		plan := string(s.PlanType)
		status := string(s.Status)
		payPlan, payRef, payStatus = &plan, &s.Reference, &status
		payAmount = &s.Amount
		started := s.StartedAt
		payStarted = &started
	}

	var subPlan, subStatus *string
	var subAmount *int64
	var subStart, subExpiry *time.Time
	if user.Subscription.Status != "" {
		plan := string(user.Subscription.PlanType)
		status := string(user.Subscription.Status)
		subPlan, subStatus = &plan, &status
		subAmount = &user.Subscription.Amount
		start, expiry := user.Subscription.StartDate, user.Subscription.ExpiryDate
		subStart, subExpiry = &start, &expiry
	}

	return []any{
		user.ConsentGivenAt,
		user.HasUsedTrial,
		user.TrialMessagesUsedToday,
		user.TrialResetDate,
		user.DailyMessageCount,
		user.DailyCountResetDate,
		user.SelectedPlanType,
		payPlan, payAmount, payRef, payStarted, payStatus,
		subPlan, subAmount, subStart, subExpiry, subStatus,
		user.Version,
	}
}

// sharedQuery is the list of columns for scanning
const userQueryCols = `
	id, telegram_id, stage, phone_number, payment_phone_number,
	consent_given_at, has_used_trial, trial_messages_used_today, trial_reset_date,
	daily_message_count, daily_count_reset_date, selected_plan_type,
	payment_plan_type, payment_amount, payment_reference, payment_started_at, payment_status,
	sub_plan_type, sub_amount, sub_start_date, sub_expiry_date, sub_status,
	version, created_at, updated_at
`

// scanUser is a helper to scan a row into a User struct.
// It handles decryption internally.
func (r *userRepository) scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	var encPhone, encPayPhone *string // Read encrypted data first

	var payPlan, payRef, payStatus *string
	var payAmount *int64
	var payStarted *time.Time

	var subPlan, subStatus *string
	var subAmount *int64
	var subStart, subExpiry *time.Time

	err := row.Scan(
		&user.ID,
		&user.TelegramID,
		&user.Stage,
		&encPhone,
		&encPayPhone,
		&user.ConsentGivenAt,
		&user.HasUsedTrial,
		&user.TrialMessagesUsedToday,
		&user.TrialResetDate,
		&user.DailyMessageCount,
		&user.DailyCountResetDate,
		&user.SelectedPlanType,
		&payPlan, &payAmount, &payRef, &payStarted, &payStatus,
		&subPlan, &subAmount, &subStart, &subExpiry, &subStatus,
		&user.Version,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err // Return specific error
		}
		r.log.Error().Err(err).Msg("Failed to scan user row")
		return nil, err
	}

	if user.PhoneNumber, err = r.decryptField(encPhone); err != nil {
		r.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to decrypt phone number (tampered?)")
		return nil, err
	}
	if user.PaymentPhoneNumber, err = r.decryptField(encPayPhone); err != nil {
		r.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to decrypt payment phone number (tampered?)")
		return nil, err
	}

	if payRef != nil {
		user.PendingPayment = &domain.PaymentSession{
			PlanType:  domain.PlanType(*payPlan),
			Amount:    *payAmount,
			Reference: *payRef,
			StartedAt: *payStarted,
			Status:    domain.PaymentStatus(*payStatus),
		}
	}

	if subStatus != nil {
		user.Subscription = domain.Subscription{
			PlanType:   domain.PlanType(*subPlan),
			Amount:     *subAmount,
			StartDate:  *subStart,
			ExpiryDate: *subExpiry,
			Status:     domain.SubscriptionStatus(*subStatus),
		}
	}

	return &user, nil
}

// GetByTelegramID finds and decrypts a user by their Telegram ID.
func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	query := `SELECT ` + userQueryCols + ` FROM users WHERE telegram_id = $1`

	row := r.db.pool.QueryRow(ctx, query, telegramID)
	user, err := r.scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Return nil, nil for "not found"
		}
		return nil, err
	}
	return user, nil
}

// GetByPhoneHash finds the user who registered a phone, by its hash.
func (r *userRepository) GetByPhoneHash(ctx context.Context, phoneHash string) (*domain.User, error) {
	query := `SELECT ` + userQueryCols + ` FROM users WHERE phone_hash = $1`

	row := r.db.pool.QueryRow(ctx, query, phoneHash)
	user, err := r.scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetByPaymentReference finds the user holding the pending session with
// the given reference.
func (r *userRepository) GetByPaymentReference(ctx context.Context, reference string) (*domain.User, error) {
	query := `SELECT ` + userQueryCols + ` FROM users WHERE payment_reference = $1`

	row := r.db.pool.QueryRow(ctx, query, reference)
	user, err := r.scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// Update persists the user guarded by the version column. A row that
// changed since it was read yields domain.ErrStorageConflict; a
// phone_hash collision yields domain.ErrPhoneInUse. On success the
// in-memory version is bumped to match the row.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	encPhone, err := r.encryptField(user.PhoneNumber)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encrypt phone number")
		return err
	}
	encPayPhone, err := r.encryptField(user.PaymentPhoneNumber)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encrypt payment phone number")
		return err
	}

	query := `
		UPDATE users SET
			stage = $1, phone_number = $2, phone_hash = $3, payment_phone_number = $4,
			consent_given_at = $5, has_used_trial = $6, trial_messages_used_today = $7, trial_reset_date = $8,
			daily_message_count = $9, daily_count_reset_date = $10, selected_plan_type = $11,
			payment_plan_type = $12, payment_amount = $13, payment_reference = $14, payment_started_at = $15, payment_status = $16,
			sub_plan_type = $17, sub_amount = $18, sub_start_date = $19, sub_expiry_date = $20, sub_status = $21,
			version = version + 1, updated_at = NOW()
		WHERE id = $22 AND version = $23
	`
	state := r.stateColumns(user)
	// stateColumns ends with the version, which here belongs in the WHERE.
	state = state[:len(state)-1]

	args := append([]any{user.Stage, encPhone, r.phoneHash(user.PhoneNumber), encPayPhone}, state...)
	args = append(args, user.ID, user.Version)

	tag, err := r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrPhoneInUse
		}
		r.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to update user")
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStorageConflict
	}

	user.Version++
	return nil
}

// ListStalePaymentSessions returns users whose pending session started
// before the cutoff and was never answered by the provider.
func (r *userRepository) ListStalePaymentSessions(ctx context.Context, cutoff time.Time) ([]*domain.User, error) {
	query := `SELECT ` + userQueryCols + `
		FROM users
		WHERE payment_reference IS NOT NULL
		  AND payment_status = $1
		  AND payment_started_at < $2`

	rows, err := r.db.pool.Query(ctx, query, domain.PaymentPending, cutoff)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to query stale payment sessions")
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// BulkResetDailyCounters zeroes yesterday's counters in two set-based
// updates. The lazy per-user rollover covers anything this misses.
// The version bump makes any concurrent in-flight write conflict rather
// than resurrect the old counter.
func (r *userRepository) BulkResetDailyCounters(ctx context.Context, today time.Time) (int64, int64, error) {
	trialTag, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET trial_messages_used_today = 0, trial_reset_date = $1,
		    version = version + 1, updated_at = NOW()
		WHERE trial_reset_date < $1 AND trial_messages_used_today > 0`, today)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to bulk-reset trial counters")
		return 0, 0, err
	}

	dailyTag, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET daily_message_count = 0, daily_count_reset_date = $1,
		    version = version + 1, updated_at = NOW()
		WHERE daily_count_reset_date < $1 AND daily_message_count > 0`, today)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to bulk-reset subscription counters")
		return trialTag.RowsAffected(), 0, err
	}

	return trialTag.RowsAffected(), dailyTag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
