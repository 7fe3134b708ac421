package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func mustCreateUser(t *testing.T, s *GormStore, id string) User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), User{ID: id, Name: id})
	if err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
	return u
}

// TestCreateUserDefaults verifies that new users get the default preferences
// and that they can be found by their login key.
func TestCreateUserDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, User{ID: "u1", Name: "alice", Email: strPtr("alice@example.com")})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Theme != DefaultTheme || created.Language != DefaultLanguage {
		t.Errorf("expected default preferences, got theme=%q language=%q", created.Theme, created.Language)
	}

	found, err := s.FindUserByIdentifier(ctx, ChannelEmail, "alice@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if found.ID != "u1" {
		t.Errorf("expected u1, got %s", found.ID)
	}
	if found.LastSeen != nil {
		t.Errorf("expected nil last seen for a fresh user, got %v", found.LastSeen)
	}
}

// TestUniqueEmailAndPhone verifies the uniqueness constraints on login keys
// while still allowing many users without an email or phone.
func TestUniqueEmailAndPhone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, User{ID: "u1", Name: "a", Email: strPtr("a@example.com")}); err != nil {
		t.Fatalf("create u1: %v", err)
	}
	_, err := s.CreateUser(ctx, User{ID: "u2", Name: "b", Email: strPtr("a@example.com")})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate email, got %v", err)
	}

	if _, err := s.CreateUser(ctx, User{ID: "u3", Name: "c", Phone: strPtr("+60123")}); err != nil {
		t.Fatalf("create u3: %v", err)
	}
	_, err = s.CreateUser(ctx, User{ID: "u4", Name: "d", Phone: strPtr("+60123")})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate phone, got %v", err)
	}

	mustCreateUser(t, s, "u5")
	mustCreateUser(t, s, "u6")
}

// TestFindUserMissing verifies lookup misses and invalid channels.
func TestFindUserMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.FindUserByIdentifier(ctx, ChannelPhone, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindUserByIdentifier(ctx, Channel("fax"), "x"); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
}

// TestUserUpdates verifies network address, presence, location and preference writes.
func TestUserUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1")

	if err := s.UpdateUserNetworkAddress(ctx, "u1", "10.0.0.7"); err != nil {
		t.Fatalf("update address: %v", err)
	}
	byIP, err := s.FindUserByIdentifier(ctx, ChannelIP, "10.0.0.7")
	if err != nil || byIP.ID != "u1" {
		t.Fatalf("expected u1 by ip, got %v %v", byIP.ID, err)
	}

	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.UpdatePresence(ctx, "u1", "offline", seen); err != nil {
		t.Fatalf("update presence: %v", err)
	}
	if err := s.UpdateLocation(ctx, "u1", 3.139, 101.6869); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if err := s.UpdatePreferences(ctx, "u1", "dark", ""); err != nil {
		t.Fatalf("update preferences: %v", err)
	}

	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != "offline" || u.LastSeen == nil || !u.LastSeen.Equal(seen) {
		t.Errorf("unexpected presence: status=%q lastSeen=%v", u.Status, u.LastSeen)
	}
	if u.Latitude == nil || *u.Latitude != 3.139 {
		t.Errorf("unexpected latitude: %v", u.Latitude)
	}
	if u.Theme != "dark" || u.Language != DefaultLanguage {
		t.Errorf("unexpected preferences: %q %q", u.Theme, u.Language)
	}

	located, err := s.ListUsersWithLocation(ctx)
	if err != nil || len(located) != 1 {
		t.Errorf("expected one located user, got %d (%v)", len(located), err)
	}

	if err := s.UpdateLastSeen(ctx, "ghost", seen); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

// TestSaveUserUpserts verifies that SaveUser inserts and then updates in place.
func TestSaveUserUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveUser(ctx, User{ID: "u1", Name: "first"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveUser(ctx, User{ID: "u1", Name: "second", Avatar: "https://a/b.png"}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].Name != "second" || users[0].Avatar != "https://a/b.png" {
		t.Errorf("unexpected users after upsert: %+v", users)
	}
}

// TestInsertMessageDestination verifies the exactly-one-destination invariant
// and that the sender must reference a known user.
func TestInsertMessageDestination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1")

	_, err := s.InsertMessage(ctx, Message{ID: "m1", SenderID: "u1", Content: "hi", Type: KindText})
	if !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("expected ErrInvalidDestination with no destination, got %v", err)
	}
	_, err = s.InsertMessage(ctx, Message{ID: "m2", SenderID: "u1", ReceiverID: strPtr("u2"), GroupID: strPtr("g1"), Content: "hi", Type: KindText})
	if !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("expected ErrInvalidDestination with two destinations, got %v", err)
	}
	_, err = s.InsertMessage(ctx, Message{ID: "m3", SenderID: "ghost", ReceiverID: strPtr("u1"), Content: "hi", Type: KindText})
	if !errors.Is(err, ErrUnknownSender) {
		t.Errorf("expected ErrUnknownSender, got %v", err)
	}

	m, err := s.InsertMessage(ctx, Message{ID: "m4", SenderID: "u1", ReceiverID: strPtr("u2"), Content: "hi", Type: KindText})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if m.Timestamp.IsZero() || m.IsRead {
		t.Errorf("expected server timestamp and unread flag, got %+v", m)
	}
	if _, err := s.InsertMessage(ctx, Message{ID: "m4", SenderID: "u1", ReceiverID: strPtr("u2"), Content: "again", Type: KindText}); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate message id, got %v", err)
	}
}

// TestListMessagesBetween verifies history covers both directions, excludes
// other conversations and group messages, and is ordered oldest first.
func TestListMessagesBetween(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1")
	mustCreateUser(t, s, "u2")
	mustCreateUser(t, s, "u3")

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inserts := []Message{
		{ID: "b", SenderID: "u2", ReceiverID: strPtr("u1"), Content: "second", Timestamp: base.Add(2 * time.Second)},
		{ID: "a", SenderID: "u1", ReceiverID: strPtr("u2"), Content: "first", Timestamp: base.Add(time.Second)},
		{ID: "c", SenderID: "u1", ReceiverID: strPtr("u3"), Content: "other", Timestamp: base},
		{ID: "d", SenderID: "u1", GroupID: strPtr("g1"), Content: "group", Timestamp: base},
		{ID: "e", SenderID: "u1", ReceiverID: strPtr("u2"), Content: "third", Timestamp: base.Add(3 * time.Second)},
	}
	for _, m := range inserts {
		m.Type = KindText
		if _, err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert %s: %v", m.ID, err)
		}
	}

	history, err := s.ListMessagesBetween(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []string{"a", "b", "e"}
	if len(history) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(history))
	}
	for i, id := range want {
		if history[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, history[i].ID)
		}
	}

	group, err := s.ListGroupMessages(ctx, "g1")
	if err != nil || len(group) != 1 || group[0].ID != "d" {
		t.Errorf("unexpected group history: %+v (%v)", group, err)
	}
}

// TestMarkMessageRead verifies the read flag is the one mutable message field.
func TestMarkMessageRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1")

	if _, err := s.InsertMessage(ctx, Message{ID: "m1", SenderID: "u1", ReceiverID: strPtr("u2"), Content: "hi", Type: KindText}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.MarkMessageRead(ctx, "m1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	history, err := s.ListMessagesBetween(ctx, "u1", "u2")
	if err != nil || len(history) != 1 || !history[0].IsRead {
		t.Errorf("expected read message, got %+v (%v)", history, err)
	}
	if err := s.MarkMessageRead(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestGroupMembership verifies the composite membership key and fresh reads.
func TestGroupMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateGroup(ctx, Group{ID: "g1", Name: "friends"}, []string{"u1", "u2", "u2"}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.AddGroupMember(ctx, "g1", "u3"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := s.AddGroupMember(ctx, "g1", "u3"); err != nil {
		t.Fatalf("adding an existing member should be a no-op: %v", err)
	}
	if err := s.AddGroupMember(ctx, "missing", "u3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown group, got %v", err)
	}

	members, err := s.ListGroupMembers(ctx, "g1")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	want := []string{"u1", "u2", "u3"}
	if len(members) != len(want) {
		t.Fatalf("expected %v, got %v", want, members)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Errorf("expected %v, got %v", want, members)
			break
		}
	}
}

// TestConcurrentInserts verifies the store is safe under concurrent writers.
func TestConcurrentInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u1")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.InsertMessage(ctx, Message{
				ID:         fmt.Sprintf("m%d", i),
				SenderID:   "u1",
				ReceiverID: strPtr("u2"),
				Content:    "hi",
				Type:       KindText,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent insert: %v", err)
		}
	}

	history, err := s.ListMessagesBetween(ctx, "u1", "u2")
	if err != nil || len(history) != n {
		t.Errorf("expected %d messages, got %d (%v)", n, len(history), err)
	}
}
