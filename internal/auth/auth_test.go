package auth

import (
	"context"
	"errors"
	"testing"
)

// memCredStore is an in-memory CredentialStore.
type memCredStore struct {
	creds map[string]UserCredentials
}

func newMemCredStore() *memCredStore {
	return &memCredStore{creds: make(map[string]UserCredentials)}
}

func (s *memCredStore) UpsertCredentials(credentials UserCredentials) error {
	s.creds[credentials.ID] = credentials
	return nil
}

func (s *memCredStore) ListCredentials() ([]UserCredentials, error) {
	var out []UserCredentials
	for _, c := range s.creds {
		out = append(out, c)
	}
	return out, nil
}

func TestAuthService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemCredStore()
	svc, err := NewService(ctx, Config{}, store)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	user, err := svc.AddUser("alice", "Alice", "correct horse", false)
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	if user.ID == "" {
		t.Error("expected generated user ID")
	}
	if _, ok := store.creds[user.ID]; !ok {
		t.Error("expected credentials persisted")
	}

	if _, err := svc.AddUser("alice", "Alice II", "pw", false); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}

	t.Run("Login", func(t *testing.T) {
		resp, userID := svc.Login(LoginRequest{Username: "alice", Password: "correct horse"})
		if !resp.Success {
			t.Fatalf("expected successful login, got %+v", resp)
		}
		if userID != user.ID {
			t.Errorf("expected user ID %s, got %s", user.ID, userID)
		}
		if resp.Token == "" {
			t.Fatal("expected a token")
		}

		got, err := svc.GetUserID(resp.Token)
		if err != nil {
			t.Fatalf("GetUserID failed: %v", err)
		}
		if got != user.ID {
			t.Errorf("token resolved to %s, want %s", got, user.ID)
		}

		if err := svc.Logoff(resp.Token); err != nil {
			t.Fatalf("Logoff failed: %v", err)
		}
		if _, err := svc.GetUserID(resp.Token); err == nil {
			t.Error("expected token invalid after logoff")
		}
	})

	t.Run("LoginFailures", func(t *testing.T) {
		resp, _ := svc.Login(LoginRequest{Username: "alice", Password: "wrong"})
		if resp.Success {
			t.Error("expected login failure for wrong password")
		}
		resp, _ = svc.Login(LoginRequest{Username: "nobody", Password: "x"})
		if resp.Success {
			t.Error("expected login failure for unknown user")
		}
		// Same message either way, no user enumeration.
		if resp.Message != loginFailedMessage {
			t.Errorf("unexpected failure message: %s", resp.Message)
		}
	})

	t.Run("Admin", func(t *testing.T) {
		root, err := svc.AddUser("root", "Root", "pw", true)
		if err != nil {
			t.Fatal(err)
		}
		if !svc.IsAdmin(root.ID) {
			t.Error("expected root to be admin")
		}
		if svc.IsAdmin(user.ID) {
			t.Error("expected alice not to be admin")
		}
		if svc.IsAdmin("missing") {
			t.Error("expected unknown user not to be admin")
		}
	})

	t.Run("Reload", func(t *testing.T) {
		// A fresh service over the same store sees the users.
		svc2, err := NewService(ctx, Config{}, store)
		if err != nil {
			t.Fatal(err)
		}
		if got, ok := svc2.GetUser(user.ID); !ok || got.UserName != "alice" {
			t.Errorf("expected alice after reload, got %+v (%v)", got, ok)
		}
		resp, _ := svc2.Login(LoginRequest{Username: "alice", Password: "correct horse"})
		if !resp.Success {
			t.Error("expected login after reload")
		}
	})

	t.Run("ListUsers", func(t *testing.T) {
		users := svc.ListUsers()
		if len(users) != 2 {
			t.Fatalf("expected 2 users, got %d", len(users))
		}
		// Sorted by display name.
		if users[0].DisplayName != "Alice" || users[1].DisplayName != "Root" {
			t.Errorf("unexpected order: %s, %s", users[0].DisplayName, users[1].DisplayName)
		}
	})
}
