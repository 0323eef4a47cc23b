package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"jaracar/api/internal/config"
	"jaracar/api/internal/messaging"
	"jaracar/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn           func(context.Context, string) (store.User, error)
	listContactsFn          func(context.Context, string) ([]store.User, error)
	approveUserFn           func(context.Context, string) (bool, error)
	listMessagesForViewerFn func(context.Context, string, bool) ([]store.Message, error)
	insertMessageFn         func(context.Context, store.Message) error
	markThreadReadFn        func(context.Context, string, bool, string) (int64, error)
	deleteThreadMessagesFn  func(context.Context, string, bool, string) (int64, error)
	getRoomFn               func(context.Context, string) (store.Room, error)
	assignRoomFn            func(context.Context, string, string, string) error
	listActiveAssignmentsFn func(context.Context) ([]store.RoomAssignment, error)
	absenceOverlapsFn       func(context.Context, string, time.Time, time.Time) (bool, error)
	insertAbsenceFn         func(context.Context, store.Absence) error
	getAbsenceFn            func(context.Context, string) (store.Absence, error)
	decideAbsenceFn         func(context.Context, string, string, string) (bool, error)
	deleteAbsenceFn         func(context.Context, string, string) (bool, error)
	insertTaskFn            func(context.Context, store.Task) error
	setTaskDoneFn           func(context.Context, string, string, bool) (bool, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "User " + userID, Role: "resident", IsApproved: true}, nil
}
func (f *fakeStore) UpdateProfile(context.Context, string, string, string, string) error { return nil }
func (f *fakeStore) UpdateAvatar(context.Context, string, string) error                  { return nil }
func (f *fakeStore) ListContacts(ctx context.Context, viewerID string) ([]store.User, error) {
	if f.listContactsFn != nil {
		return f.listContactsFn(ctx, viewerID)
	}
	return nil, nil
}
func (f *fakeStore) ListResidents(context.Context) ([]store.User, error) { return nil, nil }
func (f *fakeStore) ApproveUser(ctx context.Context, userID string) (bool, error) {
	if f.approveUserFn != nil {
		return f.approveUserFn(ctx, userID)
	}
	return true, nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }

func (f *fakeStore) ListMessagesForViewer(ctx context.Context, viewerID string, admin bool) ([]store.Message, error) {
	if f.listMessagesForViewerFn != nil {
		return f.listMessagesForViewerFn(ctx, viewerID, admin)
	}
	return nil, nil
}
func (f *fakeStore) InsertMessage(ctx context.Context, message store.Message) error {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, message)
	}
	return nil
}
func (f *fakeStore) MarkThreadRead(ctx context.Context, viewerID string, admin bool, key string) (int64, error) {
	if f.markThreadReadFn != nil {
		return f.markThreadReadFn(ctx, viewerID, admin, key)
	}
	return 0, nil
}
func (f *fakeStore) DeleteThreadMessages(ctx context.Context, viewerID string, admin bool, key string) (int64, error) {
	if f.deleteThreadMessagesFn != nil {
		return f.deleteThreadMessagesFn(ctx, viewerID, admin, key)
	}
	return 0, nil
}

func (f *fakeStore) ListRooms(context.Context) ([]store.Room, error) { return nil, nil }
func (f *fakeStore) GetRoom(ctx context.Context, roomID string) (store.Room, error) {
	if f.getRoomFn != nil {
		return f.getRoomFn(ctx, roomID)
	}
	return store.Room{}, sql.ErrNoRows
}
func (f *fakeStore) InsertRoom(context.Context, store.Room) error         { return nil }
func (f *fakeStore) UpdateRoom(context.Context, store.Room) (bool, error) { return true, nil }
func (f *fakeStore) DeleteRoom(context.Context, string) error             { return nil }
func (f *fakeStore) AssignRoom(ctx context.Context, assignmentID, roomID, userID string) error {
	if f.assignRoomFn != nil {
		return f.assignRoomFn(ctx, assignmentID, roomID, userID)
	}
	return nil
}
func (f *fakeStore) ListActiveAssignments(ctx context.Context) ([]store.RoomAssignment, error) {
	if f.listActiveAssignmentsFn != nil {
		return f.listActiveAssignmentsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) GetActiveAssignment(context.Context, string) (*store.RoomAssignment, error) {
	return nil, nil
}

func (f *fakeStore) AbsenceOverlaps(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	if f.absenceOverlapsFn != nil {
		return f.absenceOverlapsFn(ctx, userID, start, end)
	}
	return false, nil
}
func (f *fakeStore) InsertAbsence(ctx context.Context, absence store.Absence) error {
	if f.insertAbsenceFn != nil {
		return f.insertAbsenceFn(ctx, absence)
	}
	return nil
}
func (f *fakeStore) ListAbsences(context.Context, string) ([]store.Absence, error) { return nil, nil }
func (f *fakeStore) ListAllAbsences(context.Context) ([]store.Absence, error)      { return nil, nil }
func (f *fakeStore) GetAbsence(ctx context.Context, absenceID string) (store.Absence, error) {
	if f.getAbsenceFn != nil {
		return f.getAbsenceFn(ctx, absenceID)
	}
	return store.Absence{}, sql.ErrNoRows
}
func (f *fakeStore) DecideAbsence(ctx context.Context, absenceID, status, decidedBy string) (bool, error) {
	if f.decideAbsenceFn != nil {
		return f.decideAbsenceFn(ctx, absenceID, status, decidedBy)
	}
	return true, nil
}
func (f *fakeStore) DeleteAbsence(ctx context.Context, absenceID, userID string) (bool, error) {
	if f.deleteAbsenceFn != nil {
		return f.deleteAbsenceFn(ctx, absenceID, userID)
	}
	return true, nil
}

func (f *fakeStore) ListTasks(context.Context, string) ([]store.Task, error) { return nil, nil }
func (f *fakeStore) InsertTask(ctx context.Context, task store.Task) error {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, task)
	}
	return nil
}
func (f *fakeStore) SetTaskDone(ctx context.Context, taskID, userID string, done bool) (bool, error) {
	if f.setTaskDoneFn != nil {
		return f.setTaskDoneFn(ctx, taskID, userID, done)
	}
	return true, nil
}
func (f *fakeStore) DeleteTask(context.Context, string, string) (bool, error) { return true, nil }

func (f *fakeStore) ListSchedules(context.Context) ([]store.Schedule, error)   { return nil, nil }
func (f *fakeStore) UpsertSchedule(context.Context, store.Schedule) error      { return nil }
func (f *fakeStore) DeleteSchedule(context.Context, string) (bool, error)      { return true, nil }
func (f *fakeStore) ListKeyEntries(context.Context) ([]store.KeyEntry, error)  { return nil, nil }
func (f *fakeStore) UpsertKeyEntry(context.Context, store.KeyEntry) error      { return nil }
func (f *fakeStore) DeleteKeyEntry(context.Context, string) (bool, error)      { return true, nil }
func (f *fakeStore) ListInstructions(context.Context) ([]store.Instruction, error) {
	return nil, nil
}
func (f *fakeStore) UpsertInstruction(context.Context, store.Instruction) error { return nil }
func (f *fakeStore) DeleteInstruction(context.Context, string) (bool, error)    { return true, nil }
func (f *fakeStore) InsertGuideDocument(context.Context, store.GuideDocument) error {
	return nil
}
func (f *fakeStore) ListGuideDocuments(context.Context) ([]store.GuideDocument, error) {
	return nil, nil
}
func (f *fakeStore) GetGuideDocument(context.Context, string) (store.GuideDocument, error) {
	return store.GuideDocument{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteGuideDocument(context.Context, string) (bool, error) { return true, nil }

type fakeSessions struct {
	saved map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: map[string]store.User{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.saved[tokenHash] = user
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	user, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, errors.New("not found")
	}
	return user, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.saved, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fs,
		sessions: newFakeSessions(),
	}
}

func residentSession(id string) Session {
	return Session{UserID: id, UserName: "User " + id, Role: "resident", IsApproved: true}
}

func adminSession(id string) Session {
	return Session{UserID: id, UserName: "Admin " + id, Role: "admin", IsApproved: true}
}

func TestSessionRoundTrip(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Mara", Role: "admin", IsApproved: true}, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("parse session: %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.Role != "admin" || !parsed.IsApproved {
		t.Fatalf("unexpected session: %+v", parsed)
	}

	refreshed, err := svc.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.UserID != "usr_1" {
		t.Fatalf("unexpected refreshed session: %+v", refreshed)
	}
	// A rotated refresh token must not work twice.
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("expected error refreshing with rotated token")
	}
}

func globalRow(id, senderID string, at time.Time) store.Message {
	return store.Message{ID: id, Content: "hi", SenderID: senderID, IsGlobal: true, CreatedAt: at, SenderName: "User " + senderID}
}

func TestSendMessageAdminBroadcast(t *testing.T) {
	var inserted *store.Message
	fs := &fakeStore{
		insertMessageFn: func(_ context.Context, m store.Message) error {
			inserted = &m
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.SendMessage(context.Background(), adminSession("adm"), messaging.KeyGlobal, "house meeting tonight", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if inserted == nil {
		t.Fatal("nothing inserted")
	}
	if !inserted.IsGlobal || inserted.ReceiverID != "" {
		t.Fatalf("want broadcast, got %+v", inserted)
	}
	if _, ok := payload["switchKey"]; ok {
		t.Fatal("broadcast must not switch keys")
	}
}

func TestSendMessageRedirectsToLatestSender(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var inserted *store.Message
	fs := &fakeStore{
		listMessagesForViewerFn: func(context.Context, string, bool) ([]store.Message, error) {
			return []store.Message{
				globalRow("m1", "adm_1", base),
				globalRow("m2", "adm_2", base.Add(time.Hour)),
				globalRow("m3", "viewer", base.Add(2*time.Hour)),
			}, nil
		},
		insertMessageFn: func(_ context.Context, m store.Message) error {
			inserted = &m
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.SendMessage(context.Background(), residentSession("viewer"), messaging.KeyGlobal, "question", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if inserted == nil || inserted.IsGlobal {
		t.Fatalf("want direct reply, got %+v", inserted)
	}
	if inserted.ReceiverID != "adm_2" {
		t.Fatalf("want reply to latest foreign sender adm_2, got %q", inserted.ReceiverID)
	}
	if payload["switchKey"] != "adm_2" {
		t.Fatalf("want switchKey adm_2, got %v", payload["switchKey"])
	}
}

func TestSendMessageNoReplyTarget(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		listMessagesForViewerFn: func(context.Context, string, bool) ([]store.Message, error) {
			// Only the viewer's own broadcast-thread messages.
			return []store.Message{globalRow("m1", "viewer", base)}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SendMessage(context.Background(), residentSession("viewer"), messaging.KeyGlobal, "anyone?", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NO_REPLY_TARGET" {
		t.Fatalf("want NO_REPLY_TARGET, got %v", err)
	}
}

func TestSendMessageSupportStaysUndirected(t *testing.T) {
	var inserted *store.Message
	fs := &fakeStore{
		insertMessageFn: func(_ context.Context, m store.Message) error {
			inserted = &m
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.SendMessage(context.Background(), residentSession("viewer"), messaging.KeySupport, "the heating is broken", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if inserted == nil || inserted.IsGlobal || inserted.ReceiverID != "" {
		t.Fatalf("want undirected ticket, got %+v", inserted)
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})
	sess := residentSession("viewer")

	if _, err := svc.SendMessage(context.Background(), sess, "usr_2", "   ", ""); err == nil {
		t.Fatal("want error for blank content")
	}
	if _, err := svc.SendMessage(context.Background(), sess, messaging.KeyUnknown, "hello", ""); err == nil {
		t.Fatal("want error for unknown key")
	}
	long := make([]byte, maxMessageLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := svc.SendMessage(context.Background(), sess, "usr_2", string(long), ""); err == nil {
		t.Fatal("want error for oversized content")
	}
}

func TestDeleteThreadGlobalForbidden(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.DeleteThread(context.Background(), adminSession("adm"), messaging.KeyGlobal)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("want FORBIDDEN, got %v", err)
	}
}

func TestMarkThreadReadReportsCount(t *testing.T) {
	fs := &fakeStore{
		markThreadReadFn: func(_ context.Context, viewerID string, admin bool, key string) (int64, error) {
			if viewerID != "viewer" || admin || key != "usr_2" {
				t.Fatalf("unexpected args: %s %v %s", viewerID, admin, key)
			}
			return 3, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.MarkThreadRead(context.Background(), residentSession("viewer"), "usr_2")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if payload["updated"] != int64(3) {
		t.Fatalf("want 3 updated, got %v", payload["updated"])
	}
}

func TestListThreadsGroupsConversations(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		listMessagesForViewerFn: func(context.Context, string, bool) ([]store.Message, error) {
			return []store.Message{
				globalRow("m1", "adm_1", base),
				{ID: "m2", Content: "hi", SenderID: "usr_2", ReceiverID: "viewer", CreatedAt: base.Add(time.Hour), SenderName: "Noa"},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ListThreads(context.Background(), residentSession("viewer"))
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	threads, ok := payload["threads"].([]messaging.Thread)
	if !ok {
		t.Fatalf("unexpected threads payload %T", payload["threads"])
	}
	if len(threads) != 2 {
		t.Fatalf("want 2 threads, got %d", len(threads))
	}
	// Newest thread first.
	if threads[0].Key != "usr_2" || threads[1].Key != messaging.KeyGlobal {
		t.Fatalf("unexpected order: %s, %s", threads[0].Key, threads[1].Key)
	}
}

func TestRequestAbsenceOverlapConflict(t *testing.T) {
	fs := &fakeStore{
		absenceOverlapsFn: func(context.Context, string, time.Time, time.Time) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.RequestAbsence(context.Background(), residentSession("viewer"), "2026-04-01", "2026-04-07", "trip")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "ABSENCE_OVERLAP" {
		t.Fatalf("want ABSENCE_OVERLAP, got %v", err)
	}
}

func TestRequestAbsenceValidatesDates(t *testing.T) {
	svc := newTestService(&fakeStore{})
	sess := residentSession("viewer")

	if _, err := svc.RequestAbsence(context.Background(), sess, "not-a-date", "2026-04-07", ""); err == nil {
		t.Fatal("want error for bad start date")
	}
	if _, err := svc.RequestAbsence(context.Background(), sess, "2026-04-07", "2026-04-01", ""); err == nil {
		t.Fatal("want error for inverted range")
	}
}

func TestDecideAbsenceAlreadyDecided(t *testing.T) {
	fs := &fakeStore{
		decideAbsenceFn: func(context.Context, string, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.DecideAbsence(context.Background(), adminSession("adm"), "abs_1", true, "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "ALREADY_DECIDED" {
		t.Fatalf("want ALREADY_DECIDED, got %v", err)
	}
}

func TestCreateTaskForOtherRequiresStaff(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateTask(context.Background(), residentSession("viewer"), "usr_2", "clean kitchen")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("want FORBIDDEN, got %v", err)
	}

	if _, err := svc.CreateTask(context.Background(), adminSession("adm"), "usr_2", "clean kitchen"); err != nil {
		t.Fatalf("staff should create tasks for residents: %v", err)
	}
}

func TestApproveResidentNotFound(t *testing.T) {
	fs := &fakeStore{
		approveUserFn: func(context.Context, string) (bool, error) { return false, nil },
	}
	svc := newTestService(fs)

	err := svc.ApproveResident(context.Background(), "usr_missing")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("want NOT_FOUND, got %v", err)
	}
}

func TestAssignRoomAtCapacity(t *testing.T) {
	fs := &fakeStore{
		getRoomFn: func(_ context.Context, roomID string) (store.Room, error) {
			return store.Room{ID: roomID, Number: "101", Capacity: 1}, nil
		},
		listActiveAssignmentsFn: func(context.Context) ([]store.RoomAssignment, error) {
			return []store.RoomAssignment{{RoomID: "room_1", UserID: "usr_other"}}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AssignRoom(context.Background(), "room_1", "usr_new")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "ROOM_FULL" {
		t.Fatalf("want ROOM_FULL, got %v", err)
	}
}

func TestUploadAvatarWithoutStorage(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.UploadAvatar(context.Background(), residentSession("viewer"), "me.png", "image/png", 4, nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "STORAGE_UNAVAILABLE" {
		t.Fatalf("want STORAGE_UNAVAILABLE, got %v", err)
	}
}

func TestAssignRoomReassignSameUserAllowed(t *testing.T) {
	// A resident already in the room does not count against capacity when
	// re-assigned to it.
	fs := &fakeStore{
		getRoomFn: func(_ context.Context, roomID string) (store.Room, error) {
			return store.Room{ID: roomID, Number: "101", Capacity: 1}, nil
		},
		listActiveAssignmentsFn: func(context.Context) ([]store.RoomAssignment, error) {
			return []store.RoomAssignment{{RoomID: "room_1", UserID: "usr_1"}}, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.AssignRoom(context.Background(), "room_1", "usr_1"); err != nil {
		t.Fatalf("reassign: %v", err)
	}
}
