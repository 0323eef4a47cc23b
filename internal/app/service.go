package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"jaracar/api/internal/auth"
	"jaracar/api/internal/authpw"
	"jaracar/api/internal/config"
	"jaracar/api/internal/email"
	"jaracar/api/internal/messaging"
	"jaracar/api/internal/rbac"
	"jaracar/api/internal/search"
	"jaracar/api/internal/session"
	"jaracar/api/internal/storage"
	"jaracar/api/internal/store"
	"jaracar/api/internal/util"
)

const maxMessageLen = 4000

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	IsApproved   bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	UpdateProfile(ctx context.Context, userID, displayName, phone, avatarURL string) error
	UpdateAvatar(ctx context.Context, userID, avatarURL string) error
	ListContacts(context.Context, string) ([]store.User, error)
	ListResidents(context.Context) ([]store.User, error)
	ApproveUser(context.Context, string) (bool, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListMessagesForViewer(ctx context.Context, viewerID string, viewerIsAdmin bool) ([]store.Message, error)
	InsertMessage(context.Context, store.Message) error
	MarkThreadRead(ctx context.Context, viewerID string, viewerIsAdmin bool, key string) (int64, error)
	DeleteThreadMessages(ctx context.Context, viewerID string, viewerIsAdmin bool, key string) (int64, error)

	ListRooms(context.Context) ([]store.Room, error)
	GetRoom(context.Context, string) (store.Room, error)
	InsertRoom(context.Context, store.Room) error
	UpdateRoom(context.Context, store.Room) (bool, error)
	DeleteRoom(context.Context, string) error
	AssignRoom(ctx context.Context, assignmentID, roomID, userID string) error
	ListActiveAssignments(context.Context) ([]store.RoomAssignment, error)
	GetActiveAssignment(context.Context, string) (*store.RoomAssignment, error)

	AbsenceOverlaps(ctx context.Context, userID string, start, end time.Time) (bool, error)
	InsertAbsence(context.Context, store.Absence) error
	ListAbsences(context.Context, string) ([]store.Absence, error)
	ListAllAbsences(context.Context) ([]store.Absence, error)
	GetAbsence(context.Context, string) (store.Absence, error)
	DecideAbsence(ctx context.Context, absenceID, status, decidedBy string) (bool, error)
	DeleteAbsence(ctx context.Context, absenceID, userID string) (bool, error)

	ListTasks(context.Context, string) ([]store.Task, error)
	InsertTask(context.Context, store.Task) error
	SetTaskDone(ctx context.Context, taskID, userID string, done bool) (bool, error)
	DeleteTask(ctx context.Context, taskID, userID string) (bool, error)

	ListSchedules(context.Context) ([]store.Schedule, error)
	UpsertSchedule(context.Context, store.Schedule) error
	DeleteSchedule(context.Context, string) (bool, error)
	ListKeyEntries(context.Context) ([]store.KeyEntry, error)
	UpsertKeyEntry(context.Context, store.KeyEntry) error
	DeleteKeyEntry(context.Context, string) (bool, error)
	ListInstructions(context.Context) ([]store.Instruction, error)
	UpsertInstruction(context.Context, store.Instruction) error
	DeleteInstruction(context.Context, string) (bool, error)
	InsertGuideDocument(context.Context, store.GuideDocument) error
	ListGuideDocuments(context.Context) ([]store.GuideDocument, error)
	GetGuideDocument(context.Context, string) (store.GuideDocument, error)
	DeleteGuideDocument(context.Context, string) (bool, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedGet(ctx context.Context, key, filename string) (string, error)
	PresignedView(ctx context.Context, key string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexGuide(g search.GuideRecord)
	IndexMessage(m search.MessageRecord)
	DeleteGuide(id string)
	DeleteMessage(id string)
}

type mailer interface {
	IsConfigured() bool
	SendEmail(to []string, subject, body string) error
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendAbsenceDecisionEmail(to, userName, startDate, endDate string, approved bool, comment string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	objects  objectStore
	search   searcher
	mail     mailer
	authpw   *authpw.Service
}

// New wires the service. objects, searchSvc, and mail may be nil; the
// features that need them degrade instead of failing boot.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, objects *storage.Minio, searchSvc *search.Service, mail *email.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authpw.NewService(dataStore),
	}
	if objects != nil {
		s.objects = objects
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if mail != nil {
		s.mail = mail
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthPasswordService exposes the email/password flows to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// SendVerificationMail emails the verification link, fire-and-forget.
func (s *Service) SendVerificationMail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.appURL("/verify-email?token=" + token)
	go func() {
		if err := s.mail.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("email: verification to %s: %v", to, err)
		}
	}()
}

// SendPasswordResetMail emails the reset link, fire-and-forget.
func (s *Service) SendPasswordResetMail(to, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.appURL("/reset-password?token=" + token)
	go func() {
		if err := s.mail.SendPasswordResetEmail(to, "there", url); err != nil {
			log.Printf("email: password reset to %s: %v", to, err)
		}
	}()
}

// appURL builds a frontend link. The CORS origin doubles as the app's base
// URL; a wildcard falls back to the local dev frontend.
func (s *Service) appURL(path string) string {
	base := strings.TrimSuffix(s.cfg.CORSOrigin, "/")
	if base == "" || base == "*" {
		base = "http://localhost:5173"
	}
	return base + path
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues access and refresh tokens for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked and a fresh pair
// is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		IsApproved:   user.IsApproved,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:      token,
		UserID:     user.ID,
		UserName:   user.DisplayName,
		Role:       user.Role,
		IsApproved: user.IsApproved,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- profiles ----

func (s *Service) GetProfile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) UpdateProfile(ctx context.Context, sess Session, displayName, phone, avatarURL string) (map[string]any, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, errValidation("display name is required")
	}
	if err := s.store.UpdateProfile(ctx, sess.UserID, displayName, strings.TrimSpace(phone), strings.TrimSpace(avatarURL)); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, sess.UserID)
}

// UploadAvatar stores the image and rewrites the profile's avatar URL to a
// presigned link on the new object.
func (s *Service) UploadAvatar(ctx context.Context, sess Session, filename, contentType string, size int64, r io.Reader) (map[string]any, error) {
	if s.objects == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, errValidation("avatar must be an image")
	}

	key := fmt.Sprintf("avatars/%s/%s", sess.UserID, util.Slug(filename))
	if err := s.objects.Put(ctx, key, r, size, contentType); err != nil {
		return nil, err
	}
	url, err := s.objects.PresignedView(ctx, key, storage.AvatarTTL)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAvatar(ctx, sess.UserID, url); err != nil {
		return nil, err
	}
	return map[string]any{"avatarUrl": url}, nil
}

func (s *Service) ListResidents(ctx context.Context) ([]map[string]any, error) {
	residents, err := s.store.ListResidents(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(residents))
	for _, user := range residents {
		items = append(items, userPayload(user))
	}
	return items, nil
}

func (s *Service) ApproveResident(ctx context.Context, userID string) error {
	ok, err := s.store.ApproveUser(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("no pending resident with that id")
	}
	return nil
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"phone":       user.Phone,
		"avatarUrl":   user.AvatarURL,
		"role":        user.Role,
		"isApproved":  user.IsApproved,
	}
}

// ---- messaging ----

// viewerIsAdmin reports whether the session gets the staff-side view of
// conversations.
func viewerIsAdmin(sess Session) bool {
	return rbac.IsAdmin(sess.Role)
}

// ListThreads reconstructs the viewer's conversation list from flat rows.
func (s *Service) ListThreads(ctx context.Context, sess Session) (map[string]any, error) {
	msgs, contacts, err := s.loadConversations(ctx, sess)
	if err != nil {
		return nil, err
	}

	if malformed := messaging.Malformed(msgs); malformed > 0 {
		log.Printf("messaging: %d malformed rows routed to support for viewer %s", malformed, sess.UserID)
	}

	threads := messaging.Reconstruct(msgs, sess.UserID, viewerIsAdmin(sess), contacts)
	return map[string]any{
		"threads":  threads,
		"contacts": contacts,
	}, nil
}

// SendMessage resolves the target for the conversation key and appends a new
// message. The response carries the key the sender's view should switch to
// when the reply was redirected.
func (s *Service) SendMessage(ctx context.Context, sess Session, key, content, parentID string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errValidation("message content is required")
	}
	if len(content) > maxMessageLen {
		return nil, errValidation(fmt.Sprintf("message exceeds %d characters", maxMessageLen))
	}
	if key == "" || key == messaging.KeyUnknown {
		return nil, errValidation("unknown conversation")
	}

	msgs, _, err := s.loadConversations(ctx, sess)
	if err != nil {
		return nil, err
	}
	admin := viewerIsAdmin(sess)

	thread := make([]messaging.Message, 0)
	for _, m := range msgs {
		if messaging.Belongs(m, key, sess.UserID, admin) {
			thread = append(thread, m)
		}
	}

	target, err := messaging.ResolveSendTarget(key, thread, sess.UserID, admin)
	if errors.Is(err, messaging.ErrNoReplyTarget) {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_REPLY_TARGET", "No one to reply to in this conversation yet", nil)
	}
	if err != nil {
		return nil, err
	}

	var receiver store.User
	if target.ReceiverID != "" {
		receiver, err = s.store.GetUserByID(ctx, target.ReceiverID)
		if err != nil {
			return nil, errNotFound("recipient not found")
		}
	}

	message := store.Message{
		ID:         util.NewID("msg"),
		Content:    content,
		SenderID:   sess.UserID,
		ReceiverID: target.ReceiverID,
		IsGlobal:   target.IsGlobal,
		ParentID:   parentID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexMessage(search.MessageRecord{
			ID:         message.ID,
			Content:    message.Content,
			SenderID:   message.SenderID,
			ReceiverID: message.ReceiverID,
			SenderName: sess.UserName,
			IsGlobal:   message.IsGlobal,
		})
	}

	if target.ReceiverID != "" && s.SMTPConfigured() && receiver.Email != "" {
		go s.notifyNewMessage(receiver, sess.UserName, content)
	}

	payload := map[string]any{
		"message": map[string]any{
			"id":         message.ID,
			"content":    message.Content,
			"senderId":   message.SenderID,
			"receiverId": message.ReceiverID,
			"isGlobal":   message.IsGlobal,
			"createdAt":  message.CreatedAt,
		},
	}
	if target.SwitchKey != "" {
		payload["switchKey"] = target.SwitchKey
	}
	return payload, nil
}

func (s *Service) notifyNewMessage(receiver store.User, senderName, content string) {
	snippet := content
	if r := []rune(snippet); len(r) > 120 {
		snippet = string(r[:120]) + "..."
	}
	body := fmt.Sprintf("%s sent you a message:\n\n%s\n\nOpen the app to reply.", senderName, snippet)
	if err := s.mail.SendEmail([]string{receiver.Email}, "New message from "+senderName, body); err != nil {
		log.Printf("email: notify new message to %s: %v", receiver.ID, err)
	}
}

// MarkThreadRead flips every unread foreign message in the conversation.
func (s *Service) MarkThreadRead(ctx context.Context, sess Session, key string) (map[string]any, error) {
	if key == "" || key == messaging.KeyUnknown {
		return nil, errValidation("unknown conversation")
	}
	updated, err := s.store.MarkThreadRead(ctx, sess.UserID, viewerIsAdmin(sess), key)
	if err != nil {
		return nil, err
	}
	return map[string]any{"updated": updated}, nil
}

// DeleteThread removes every message of one conversation for good. The
// announcement thread is shared and cannot be deleted.
func (s *Service) DeleteThread(ctx context.Context, sess Session, key string) (map[string]any, error) {
	if key == "" || key == messaging.KeyUnknown {
		return nil, errValidation("unknown conversation")
	}
	if key == messaging.KeyGlobal {
		return nil, errForbidden("the announcement thread cannot be deleted")
	}

	var staleIDs []string
	if s.search != nil {
		msgs, _, err := s.loadConversations(ctx, sess)
		if err != nil {
			return nil, err
		}
		admin := viewerIsAdmin(sess)
		for _, m := range msgs {
			if messaging.Belongs(m, key, sess.UserID, admin) {
				staleIDs = append(staleIDs, m.ID)
			}
		}
	}

	deleted, err := s.store.DeleteThreadMessages(ctx, sess.UserID, viewerIsAdmin(sess), key)
	if err != nil {
		return nil, err
	}
	for _, id := range staleIDs {
		s.search.DeleteMessage(id)
	}
	return map[string]any{"deleted": deleted}, nil
}

func (s *Service) ListContacts(ctx context.Context, sess Session) ([]messaging.Contact, error) {
	_, contacts, err := s.loadConversationMeta(ctx, sess)
	return contacts, err
}

func (s *Service) loadConversations(ctx context.Context, sess Session) ([]messaging.Message, []messaging.Contact, error) {
	rows, err := s.store.ListMessagesForViewer(ctx, sess.UserID, viewerIsAdmin(sess))
	if err != nil {
		return nil, nil, err
	}
	msgs := make([]messaging.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, toMessagingMessage(row))
	}
	_, contacts, err := s.loadConversationMeta(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	return msgs, contacts, nil
}

func (s *Service) loadConversationMeta(ctx context.Context, sess Session) ([]store.User, []messaging.Contact, error) {
	users, err := s.store.ListContacts(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	contacts := make([]messaging.Contact, 0, len(users))
	for _, user := range users {
		contacts = append(contacts, messaging.Contact{
			ID:        user.ID,
			Name:      user.DisplayName,
			AvatarURL: user.AvatarURL,
			Role:      user.Role,
		})
	}
	return users, contacts, nil
}

func toMessagingMessage(row store.Message) messaging.Message {
	m := messaging.Message{
		ID:         row.ID,
		Content:    row.Content,
		CreatedAt:  row.CreatedAt,
		SenderID:   row.SenderID,
		ReceiverID: row.ReceiverID,
		IsGlobal:   row.IsGlobal,
		IsRead:     row.IsRead,
		ParentID:   row.ParentID,
	}
	if row.SenderID != "" {
		m.Sender = &messaging.Profile{ID: row.SenderID, Name: row.SenderName, AvatarURL: row.SenderAvatar}
	}
	if row.ReceiverID != "" {
		m.Receiver = &messaging.Profile{ID: row.ReceiverID, Name: row.ReceiverName, AvatarURL: row.ReceiverAvatar}
	}
	return m
}
