package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"jaracar/api/internal/store"
)

type fakeUserStore struct {
	usersByEmail map[string]store.User
	created      []store.User
	resets       map[string]string
	verifyErr    error
	resetsUsed   []string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		usersByEmail: map[string]store.User{},
		resets:       map[string]string{},
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	u, ok := f.usersByEmail[email]
	if !ok {
		return store.User{}, errors.New("not found")
	}
	return u, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	for _, u := range f.usersByEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return store.User{}, errors.New("not found")
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.created = append(f.created, user)
	f.usersByEmail[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, _ string) error {
	return f.verifyErr
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	for email, u := range f.usersByEmail {
		if u.ID == userID {
			u.PasswordHash = hash
			f.usersByEmail[email] = u
		}
	}
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	id, ok := f.resets[token]
	if !ok {
		return "", errors.New("not found")
	}
	return id, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.resetsUsed = append(f.resetsUsed, token)
	return nil
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func TestSignUpCreatesUnapprovedResident(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "  New@Example.COM ",
		Password:    "supersecret",
		DisplayName: "  New Resident ",
		Phone:       "123",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if resp.VerificationToken == "" {
		t.Fatal("expected verification token")
	}
	if len(fs.created) != 1 {
		t.Fatalf("want 1 created user, got %d", len(fs.created))
	}
	u := fs.created[0]
	if u.Email != "new@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.DisplayName != "New Resident" {
		t.Fatalf("display name not trimmed: %q", u.DisplayName)
	}
	if u.Role != "resident" || u.IsApproved || u.IsEmailVerified {
		t.Fatalf("bad defaults: %+v", u)
	}
	if !strings.HasPrefix(u.ID, "usr_") {
		t.Fatalf("unexpected id %q", u.ID)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "a@b.c", Password: "short", DisplayName: "A",
	})
	if err == nil {
		t.Fatal("want error for short password")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := newFakeUserStore()
	fs.usersByEmail["a@b.c"] = store.User{ID: "usr_x", Email: "a@b.c"}
	svc := NewService(fs)

	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "A@B.C", Password: "supersecret", DisplayName: "A",
	})
	if err == nil {
		t.Fatal("want error for duplicate email")
	}
}

func TestSignInGates(t *testing.T) {
	hash := mustHash(t, "supersecret")
	cases := []struct {
		name         string
		user         store.User
		wantVerify   bool
		wantApproval bool
	}{
		{
			name:       "unverified",
			user:       store.User{Email: "u@b.c", PasswordHash: hash},
			wantVerify: true,
		},
		{
			name:         "verified but unapproved",
			user:         store.User{Email: "u@b.c", PasswordHash: hash, IsEmailVerified: true},
			wantApproval: true,
		},
		{
			name: "verified and approved",
			user: store.User{Email: "u@b.c", PasswordHash: hash, IsEmailVerified: true, IsApproved: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeUserStore()
			fs.usersByEmail["u@b.c"] = tc.user
			svc := NewService(fs)

			resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "u@b.c", Password: "supersecret"})
			if err != nil {
				t.Fatalf("sign in: %v", err)
			}
			if resp.RequiresVerify != tc.wantVerify || resp.RequiresApproval != tc.wantApproval {
				t.Fatalf("gates verify=%v approval=%v, want %v/%v",
					resp.RequiresVerify, resp.RequiresApproval, tc.wantVerify, tc.wantApproval)
			}
		})
	}
}

func TestSignInWrongPassword(t *testing.T) {
	fs := newFakeUserStore()
	fs.usersByEmail["u@b.c"] = store.User{Email: "u@b.c", PasswordHash: mustHash(t, "supersecret"), IsEmailVerified: true}
	svc := NewService(fs)

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "u@b.c", Password: "wrong"}); err == nil {
		t.Fatal("want error for wrong password")
	}
}

func TestSignInWrongPasswordBeforeVerifyGate(t *testing.T) {
	// An unverified account with a wrong password must look identical to an
	// unknown account.
	fs := newFakeUserStore()
	fs.usersByEmail["u@b.c"] = store.User{Email: "u@b.c", PasswordHash: mustHash(t, "supersecret")}
	svc := NewService(fs)

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "u@b.c", Password: "wrong"}); err == nil {
		t.Fatal("want error, not verify gate, for wrong password")
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@b.c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must not produce a token")
	}
}

func TestResetPasswordFlow(t *testing.T) {
	fs := newFakeUserStore()
	fs.usersByEmail["u@b.c"] = store.User{ID: "usr_1", Email: "u@b.c", PasswordHash: mustHash(t, "oldpassword"), IsEmailVerified: true, IsApproved: true}
	svc := NewService(fs)

	token, err := svc.RequestPasswordReset(context.Background(), "u@b.c")
	if err != nil || token == "" {
		t.Fatalf("request reset: token=%q err=%v", token, err)
	}

	if err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: token, NewPassword: "newpassword"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(fs.resetsUsed) != 1 || fs.resetsUsed[0] != token {
		t.Fatalf("token not marked used: %v", fs.resetsUsed)
	}

	resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "u@b.c", Password: "newpassword"})
	if err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}
	if resp.RequiresVerify || resp.RequiresApproval {
		t.Fatalf("unexpected gates: %+v", resp)
	}
}

func TestResetPasswordBadToken(t *testing.T) {
	svc := NewService(newFakeUserStore())
	err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: "bogus", NewPassword: "newpassword"})
	if err == nil {
		t.Fatal("want error for unknown token")
	}
}

func TestVerifyEmail(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	if err := svc.VerifyEmail(context.Background(), "tok"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	fs.verifyErr = errors.New("expired")
	if err := svc.VerifyEmail(context.Background(), "tok"); err == nil {
		t.Fatal("want error for expired token")
	}
	if err := svc.VerifyEmail(context.Background(), ""); err == nil {
		t.Fatal("want error for empty token")
	}
}
