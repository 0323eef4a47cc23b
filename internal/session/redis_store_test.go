package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"jaracar/api/internal/store"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	user := store.User{ID: "usr_1", DisplayName: "Mara", Role: "admin", IsApproved: true}
	if err := s.SaveRefreshSession(ctx, "hash1", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LookupRefreshSession(ctx, "hash1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "usr_1" || got.DisplayName != "Mara" || got.Role != "admin" || !got.IsApproved {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestLookupUnknownToken(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.LookupRefreshSession(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLookupDefaultsRole(t *testing.T) {
	s, mr := newTestStore(t)

	mr.Set("refresh:legacy", `{"user_id":"usr_2","display_name":"Old"}`)

	got, err := s.LookupRefreshSession(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Role != "resident" {
		t.Fatalf("want default role resident, got %q", got.Role)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	user := store.User{ID: "usr_3", DisplayName: "Jo", Role: "resident"}
	if err := s.SaveRefreshSession(ctx, "hash3", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.RevokeRefreshSession(ctx, "hash3"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "hash3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after revoke, got %v", err)
	}
}

func TestSessionExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	user := store.User{ID: "usr_4", DisplayName: "Eli", Role: "resident"}
	if err := s.SaveRefreshSession(ctx, "hash4", user, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := s.LookupRefreshSession(ctx, "hash4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after expiry, got %v", err)
	}
}

func TestSaveExpiredTokenRejected(t *testing.T) {
	s, _ := newTestStore(t)

	user := store.User{ID: "usr_5", DisplayName: "Noa"}
	err := s.SaveRefreshSession(context.Background(), "hash5", user, time.Now().Add(-time.Second))
	if err == nil {
		t.Fatal("want error for already expired token")
	}
}
