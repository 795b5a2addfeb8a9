package postgres

import (
	"SelamBot/internal/core/domain"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestUserRepository_Create_GetByTelegramID_Roundtrip(t *testing.T) {
	// 1. Setup
	nopLogger := zerolog.Nop()
	repo := NewUserRepository(testDB, testSecSvc, &nopLogger)
	ctx := context.Background()

	phone := "0921234567"
	payPhone := "0712345678"
	plan := domain.PlanWeekly
	now := time.Now().Truncate(time.Second)

	user := &domain.User{
		ID:                     uuid.New(),
		TelegramID:             time.Now().UnixNano(),
		Stage:                  domain.StageAwaitingPayment,
		PhoneNumber:            &phone,
		PaymentPhoneNumber:     &payPhone,
		ConsentGivenAt:         &now,
		HasUsedTrial:           true,
		TrialMessagesUsedToday: 2,
		TrialResetDate:         now.Truncate(24 * time.Hour),
		SelectedPlanType:       &plan,
		PendingPayment: &domain.PaymentSession{
			PlanType:  domain.PlanWeekly,
			Amount:    10000,
			Reference: "SB-test-roundtrip",
			StartedAt: now,
			Status:    domain.PaymentPending,
		},
	}

	// 2. Run Create
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	defer cleanupTestUser(t, user.ID)

	// 3. Run GetByTelegramID
	foundUser, err := repo.GetByTelegramID(ctx, user.TelegramID)
	if err != nil {
		t.Fatalf("Failed to get user by telegram ID: %v", err)
	}
	if foundUser == nil {
		t.Fatalf("GetByTelegramID: user not found, but should exist")
	}

	// 4. Verify
	if foundUser.ID != user.ID {
		t.Errorf("ID mismatch: got %v, want %v", foundUser.ID, user.ID)
	}
	if foundUser.Stage != user.Stage {
		t.Errorf("Stage mismatch: got %s, want %s", foundUser.Stage, user.Stage)
	}
	if *foundUser.PhoneNumber != phone {
		t.Errorf("PhoneNumber mismatch (decryption failed?): got %s, want %s", *foundUser.PhoneNumber, phone)
	}
	if *foundUser.PaymentPhoneNumber != payPhone {
		t.Errorf("PaymentPhoneNumber mismatch (decryption failed?): got %s, want %s", *foundUser.PaymentPhoneNumber, payPhone)
	}
	if !foundUser.HasUsedTrial {
		t.Error("HasUsedTrial not persisted")
	}
	if foundUser.TrialMessagesUsedToday != 2 {
		t.Errorf("TrialMessagesUsedToday mismatch: got %d, want 2", foundUser.TrialMessagesUsedToday)
	}
	if foundUser.SelectedPlanType == nil || *foundUser.SelectedPlanType != plan {
		t.Errorf("SelectedPlanType mismatch: got %v, want %s", foundUser.SelectedPlanType, plan)
	}
	if foundUser.PendingPayment == nil {
		t.Fatal("PendingPayment not persisted")
	}
	if foundUser.PendingPayment.Reference != "SB-test-roundtrip" {
		t.Errorf("PendingPayment.Reference mismatch: got %s", foundUser.PendingPayment.Reference)
	}
	if foundUser.PendingPayment.Amount != 10000 {
		t.Errorf("PendingPayment.Amount mismatch: got %d", foundUser.PendingPayment.Amount)
	}
}

func TestUserRepository_GetByTelegramID_NotFound(t *testing.T) {
	nopLogger := zerolog.Nop()
	repo := NewUserRepository(testDB, testSecSvc, &nopLogger)

	found, err := repo.GetByTelegramID(context.Background(), -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != nil {
		t.Errorf("expected nil user for unknown telegram ID, got %v", found.ID)
	}
}

func TestUserRepository_GetByPhoneHash(t *testing.T) {
	nopLogger := zerolog.Nop()
	repo := NewUserRepository(testDB, testSecSvc, &nopLogger)
	ctx := context.Background()

	user := createTestUser(t, repo)
	phone := "0911111111"
	user.PhoneNumber = &phone
	user.Stage = domain.StageTrial
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("Failed to set phone: %v", err)
	}

	found, err := repo.GetByPhoneHash(ctx, testSecSvc.Hash(phone))
	if err != nil {
		t.Fatalf("GetByPhoneHash failed: %v", err)
	}
	if found == nil || found.ID != user.ID {
		t.Fatalf("GetByPhoneHash: wrong or missing user")
	}

	found, err = repo.GetByPhoneHash(ctx, testSecSvc.Hash("0999999999"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != nil {
		t.Error("expected nil for unclaimed phone hash")
	}
}

func TestUserRepository_Update_PhoneUniqueness(t *testing.T) {
	nopLogger := zerolog.Nop()
	repo := NewUserRepository(testDB, testSecSvc, &nopLogger)
	ctx := context.Background()

	phone := "0922222222"

	first := createTestUser(t, repo)
	first.PhoneNumber = &phone
	if err := repo.Update(ctx, first); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}

	second := createTestUser(t, repo)
	second.PhoneNumber = &phone
	err := repo.Update(ctx, second)
	if !errors.Is(err, domain.ErrPhoneInUse) {
		t.Fatalf("expected ErrPhoneInUse, got %v", err)
	}
}

func TestUserRepository_Update_VersionConflict(t *testing.T) {
	nopLogger := zerolog.Nop()
	repo := NewUserRepository(testDB, testSecSvc, &nopLogger)
	ctx := context.Background()

	user := createTestUser(t, repo)

	// Two copies of the same row. The second writer must lose.
	stale, err := repo.GetByTelegramID(ctx, user.TelegramID)
	if err != nil || stale == nil {
		t.Fatalf("failed to re-read user: %v", err)
	}

	user.TrialMessagesUsedToday = 1
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	stale.TrialMessagesUsedToday = 9
	err = repo.Update(ctx, stale)
	if !errors.Is(err, domain.ErrStorageConflict) {
		t.Fatalf("expected ErrStorageConflict, got %v", err)
	}

	// The winner can keep writing: its version tracked the row.
	user.TrialMessagesUsedToday = 2
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("follow-up update by winner failed: %v", err)
	}
}

func TestUserRepository_GetByPaymentReference(t *testing.T) {
	nopLogger := zerolog.Nop()
	repo := NewUserRepository(testDB, testSecSvc, &nopLogger)
	ctx := context.Background()

	user := createTestUser(t, repo)
	user.Stage = domain.StageAwaitingPayment
	user.PendingPayment = &domain.PaymentSession{
		PlanType:  domain.PlanMonthly,
		Amount:    35000,
		Reference: "SB-test-lookup",
		StartedAt: time.Now(),
		Status:    domain.PaymentPending,
	}
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}

	found, err := repo.GetByPaymentReference(ctx, "SB-test-lookup")
	if err != nil {
		t.Fatalf("GetByPaymentReference failed: %v", err)
	}
	if found == nil || found.ID != user.ID {
		t.Fatal("GetByPaymentReference: wrong or missing user")
	}

	found, err = repo.GetByPaymentReference(ctx, "SB-no-such-ref")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != nil {
		t.Error("expected nil for unknown reference")
	}
}

func TestUserRepository_ListStalePaymentSessions(t *testing.T) {
	nopLogger := zerolog.Nop()
	repo := NewUserRepository(testDB, testSecSvc, &nopLogger)
	ctx := context.Background()

	stale := createTestUser(t, repo)
	stale.Stage = domain.StageAwaitingPayment
	stale.PendingPayment = &domain.PaymentSession{
		PlanType:  domain.PlanWeekly,
		Amount:    10000,
		Reference: "SB-test-stale",
		StartedAt: time.Now().Add(-time.Hour),
		Status:    domain.PaymentPending,
	}
	if err := repo.Update(ctx, stale); err != nil {
		t.Fatalf("Failed to open stale session: %v", err)
	}

	fresh := createTestUser(t, repo)
	fresh.Stage = domain.StageAwaitingPayment
	fresh.PendingPayment = &domain.PaymentSession{
		PlanType:  domain.PlanWeekly,
		Amount:    10000,
		Reference: "SB-test-fresh",
		StartedAt: time.Now(),
		Status:    domain.PaymentPending,
	}
	if err := repo.Update(ctx, fresh); err != nil {
		t.Fatalf("Failed to open fresh session: %v", err)
	}

	users, err := repo.ListStalePaymentSessions(ctx, time.Now().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("ListStalePaymentSessions failed: %v", err)
	}

	var sawStale, sawFresh bool
	for _, u := range users {
		switch u.ID {
		case stale.ID:
			sawStale = true
		case fresh.ID:
			sawFresh = true
		}
	}
	if !sawStale {
		t.Error("stale session not listed")
	}
	if sawFresh {
		t.Error("fresh session listed as stale")
	}
}

func TestUserRepository_BulkResetDailyCounters(t *testing.T) {
	nopLogger := zerolog.Nop()
	repo := NewUserRepository(testDB, testSecSvc, &nopLogger)
	ctx := context.Background()

	user := createTestUser(t, repo)
	user.TrialMessagesUsedToday = 3
	user.TrialResetDate = time.Now().AddDate(0, 0, -1)
	user.DailyMessageCount = 10
	user.DailyCountResetDate = time.Now().AddDate(0, 0, -1)
	if err := repo.Update(ctx, user); err != nil {
		t.Fatalf("Failed to seed counters: %v", err)
	}

	trialReset, dailyReset, err := repo.BulkResetDailyCounters(ctx, time.Now())
	if err != nil {
		t.Fatalf("BulkResetDailyCounters failed: %v", err)
	}
	if trialReset < 1 || dailyReset < 1 {
		t.Errorf("expected at least one row reset, got trial=%d daily=%d", trialReset, dailyReset)
	}

	found, err := repo.GetByTelegramID(ctx, user.TelegramID)
	if err != nil || found == nil {
		t.Fatalf("re-read failed: %v", err)
	}
	if found.TrialMessagesUsedToday != 0 || found.DailyMessageCount != 0 {
		t.Errorf("counters not zeroed: trial=%d daily=%d", found.TrialMessagesUsedToday, found.DailyMessageCount)
	}
}
