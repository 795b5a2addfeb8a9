package postgres

import (
	"SelamBot/internal/adapters/security"
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"context"
	"encoding/hex"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	testDB     *DB
	testSecSvc ports.SecurityPort
)

// TestMain sets up a connection to the test database. Without a
// DATABASE_URL these integration tests are skipped entirely.
func TestMain(m *testing.M) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Println("DATABASE_URL not set, skipping postgres integration tests")
		os.Exit(0)
	}

	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		// Any 32-byte key works against a scratch database.
		key = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	}

	nopLogger := zerolog.Nop()

	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		log.Fatalf("TestMain: invalid ENCRYPTION_KEY: %v", err)
	}
	testSecSvc, err = security.NewAESService(keyBytes, &nopLogger)
	if err != nil {
		log.Fatalf("TestMain: Failed to create security service: %v", err)
	}

	testDB, err = NewDB(context.Background(), dbURL, &nopLogger)
	if err != nil {
		log.Fatalf("TestMain: Failed to connect to test database: %v", err)
	}

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}

// Helper to create a user for testing
func createTestUser(t *testing.T, repo ports.UserRepository) *domain.User {
	t.Helper()
	user := &domain.User{
		ID:         uuid.New(),
		TelegramID: time.Now().UnixNano(),
		Stage:      domain.StageInitial,
	}
	if err := repo.Create(t.Context(), user); err != nil {
		t.Fatalf("createTestUser failed: %v", err)
	}
	t.Cleanup(func() { cleanupTestUser(t, user.ID) })
	return user
}

// Helper to clean up the DB after tests
func cleanupTestUser(t *testing.T, id uuid.UUID) {
	_, err := testDB.pool.Exec(context.Background(), "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		t.Logf("Warning: Failed to cleanup user %s: %v", id, err)
	}
}
