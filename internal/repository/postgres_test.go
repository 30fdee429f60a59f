package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/mmeshcher/packpool-system/internal/model"
)

// Тесты ниже требуют работающего PostgreSQL и пропускаются,
// если DATABASE_URI не задан.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}

func createTestUser(t *testing.T, repo *PostgresRepository) int64 {
	t.Helper()

	email := uuid.NewString() + "@example.com"
	id, err := repo.CreateUser(context.Background(), "Test User", email, "", []byte("hash"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func createTestPack(t *testing.T, repo *PostgresRepository, createdBy int64, totalMembers int) int64 {
	t.Helper()

	contribution := int64(1000000)
	id, err := repo.CreatePack(context.Background(),
		"pack-"+uuid.NewString(), contribution, contribution*int64(totalMembers), totalMembers, createdBy)
	if err != nil {
		t.Fatalf("create pack: %v", err)
	}
	return id
}

func TestAddMember_CapacityLimit(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	creator := createTestUser(t, repo)
	packID := createTestPack(t, repo, creator, 2)

	for want := 1; want <= 2; want++ {
		m, err := repo.AddMember(ctx, packID, createTestUser(t, repo))
		if err != nil {
			t.Fatalf("add member %d: %v", want, err)
		}
		if m.Order != want {
			t.Fatalf("member order = %d, want %d", m.Order, want)
		}
	}

	_, err := repo.AddMember(ctx, packID, createTestUser(t, repo))
	if !errors.Is(err, ErrPackFull) {
		t.Fatalf("expected ErrPackFull, got %v", err)
	}
}

func TestAddMember_Duplicate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	creator := createTestUser(t, repo)
	packID := createTestPack(t, repo, creator, 3)
	userID := createTestUser(t, repo)

	if _, err := repo.AddMember(ctx, packID, userID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	_, err := repo.AddMember(ctx, packID, userID)
	if !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestRemoveMember_DenseOrders(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	creator := createTestUser(t, repo)
	packID := createTestPack(t, repo, creator, 3)

	users := make([]int64, 3)
	for i := range users {
		users[i] = createTestUser(t, repo)
		if _, err := repo.AddMember(ctx, packID, users[i]); err != nil {
			t.Fatalf("add member %d: %v", i+1, err)
		}
	}

	// Выбывает участник из середины очереди.
	if err := repo.RemoveMember(ctx, packID, users[1]); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	members, err := repo.ListMembers(ctx, packID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	for i, m := range members {
		if m.Order != i+1 {
			t.Fatalf("member %d order = %d, want %d", i, m.Order, i+1)
		}
	}
	if members[0].UserID != users[0] || members[1].UserID != users[2] {
		t.Fatalf("unexpected queue after removal: %+v", members)
	}
}

func TestRemoveMember_FreesCapacity(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	creator := createTestUser(t, repo)
	packID := createTestPack(t, repo, creator, 2)

	first := createTestUser(t, repo)
	second := createTestUser(t, repo)
	for _, userID := range []int64{first, second} {
		if _, err := repo.AddMember(ctx, packID, userID); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	if err := repo.RemoveMember(ctx, packID, second); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	m, err := repo.AddMember(ctx, packID, createTestUser(t, repo))
	if err != nil {
		t.Fatalf("rejoin after removal: %v", err)
	}
	if m.Order != 2 {
		t.Fatalf("member order = %d, want 2", m.Order)
	}
}

func TestRemoveMember_KeepsPaymentHistory(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	creator := createTestUser(t, repo)
	packID := createTestPack(t, repo, creator, 2)

	userID := createTestUser(t, repo)
	m, err := repo.AddMember(ctx, packID, userID)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}

	if _, err := repo.CreatePayment(ctx, m.ID, userID, 1000000, model.PaymentTypeContribution, uuid.NewString()); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	err = repo.RemoveMember(ctx, packID, userID)
	if !errors.Is(err, ErrMemberHasPayments) {
		t.Fatalf("expected ErrMemberHasPayments, got %v", err)
	}

	payments, err := repo.ListPaymentsByUser(ctx, userID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(payments))
	}
}
