package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jaracar/api/internal/messaging"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

const userColumns = `id, display_name, email, COALESCE(password_hash, ''), COALESCE(phone, ''), COALESCE(avatar_url, ''), role, is_approved, is_email_verified, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Email,
		&user.PasswordHash,
		&user.Phone,
		&user.AvatarURL,
		&user.Role,
		&user.IsApproved,
		&user.IsEmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, phone, avatar_url, role, is_approved, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, LOWER($3), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, NULLIF($10, ''), $11)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Phone, user.AvatarURL, user.Role, user.IsApproved, user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, userID, displayName, phone, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET display_name=$2, phone=NULLIF($3, ''), avatar_url=NULLIF($4, ''), updated_at=NOW()
		WHERE id=$1
	`, userID, displayName, phone, avatarURL)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAvatar(ctx context.Context, userID, avatarURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET avatar_url=NULLIF($2, ''), updated_at=NOW() WHERE id=$1
	`, userID, avatarURL)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

// ListContacts returns approved users other than the viewer, the candidate
// targets for a new conversation.
func (s *PostgresStore) ListContacts(ctx context.Context, viewerID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, COALESCE(avatar_url, ''), role
		FROM users
		WHERE is_approved AND id <> $1
		ORDER BY display_name ASC
	`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.AvatarURL, &item.Role); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListResidents(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, COALESCE(phone, ''), COALESCE(avatar_url, ''), role, is_approved, created_at
		FROM users
		ORDER BY is_approved ASC, display_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email, &item.Phone, &item.AvatarURL, &item.Role, &item.IsApproved, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resident: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate residents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ApproveUser(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_approved=true, updated_at=NOW()
		WHERE id=$1 AND NOT is_approved
	`, userID)
	if err != nil {
		return false, fmt.Errorf("approve user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve user rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=true, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- messages ----

// ListMessagesForViewer returns every message the viewer is entitled to see:
// messages to or from them, global broadcasts, and, for admins, all
// undirected legacy tickets.
func (s *PostgresStore) ListMessagesForViewer(ctx context.Context, viewerID string, viewerIsAdmin bool) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, COALESCE(m.sender_id, ''), COALESCE(m.receiver_id, ''), m.is_global, m.is_read, COALESCE(m.parent_id, ''), m.created_at,
			COALESCE(snd.display_name, ''), COALESCE(snd.avatar_url, ''),
			COALESCE(rcv.display_name, ''), COALESCE(rcv.avatar_url, '')
		FROM messages m
		LEFT JOIN users snd ON snd.id = m.sender_id
		LEFT JOIN users rcv ON rcv.id = m.receiver_id
		WHERE m.is_global
			OR m.sender_id = $1
			OR m.receiver_id = $1
			OR ($2::boolean AND m.receiver_id IS NULL)
		ORDER BY m.created_at ASC, m.id ASC
	`, viewerID, viewerIsAdmin)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(
			&item.ID,
			&item.Content,
			&item.SenderID,
			&item.ReceiverID,
			&item.IsGlobal,
			&item.IsRead,
			&item.ParentID,
			&item.CreatedAt,
			&item.SenderName,
			&item.SenderAvatar,
			&item.ReceiverName,
			&item.ReceiverAvatar,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, content, sender_id, receiver_id, is_global, is_read, parent_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, false, NULLIF($6, ''))
	`, message.ID, message.Content, message.SenderID, message.ReceiverID, message.IsGlobal, message.ParentID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MarkThreadRead flips is_read on every unread message in the key's thread
// that the viewer did not send. The WHERE clauses mirror messaging.Classify
// so read state cannot diverge from thread membership.
func (s *PostgresStore) MarkThreadRead(ctx context.Context, viewerID string, viewerIsAdmin bool, key string) (int64, error) {
	var result sql.Result
	var err error
	switch key {
	case messaging.KeyGlobal:
		result, err = s.db.ExecContext(ctx, `
			UPDATE messages SET is_read=true
			WHERE is_global AND NOT is_read
				AND (sender_id IS NULL OR sender_id <> $1)
		`, viewerID)
	case messaging.KeySupport:
		if !viewerIsAdmin {
			// The author's collapsed support thread only holds their own
			// messages, which are never unread for them.
			return 0, nil
		}
		result, err = s.db.ExecContext(ctx, `
			UPDATE messages SET is_read=true
			WHERE NOT is_global AND NOT is_read
				AND sender_id IS NULL AND receiver_id IS NULL
		`)
	default:
		if viewerIsAdmin {
			result, err = s.db.ExecContext(ctx, `
				UPDATE messages SET is_read=true
				WHERE NOT is_global AND NOT is_read AND sender_id = $2
					AND (receiver_id = $1 OR receiver_id IS NULL)
			`, viewerID, key)
		} else {
			result, err = s.db.ExecContext(ctx, `
				UPDATE messages SET is_read=true
				WHERE NOT is_global AND NOT is_read
					AND sender_id = $2 AND receiver_id = $1
			`, viewerID, key)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("mark thread read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark thread read rows: %w", err)
	}
	return affected, nil
}

// DeleteThreadMessages bulk-deletes all messages resolving to the key for
// this viewer. Global threads are rejected upstream and never reach here.
func (s *PostgresStore) DeleteThreadMessages(ctx context.Context, viewerID string, viewerIsAdmin bool, key string) (int64, error) {
	var result sql.Result
	var err error
	switch key {
	case messaging.KeyGlobal:
		return 0, errors.New("global thread is not deletable")
	case messaging.KeySupport:
		if viewerIsAdmin {
			result, err = s.db.ExecContext(ctx, `
				DELETE FROM messages
				WHERE NOT is_global AND sender_id IS NULL AND receiver_id IS NULL
			`)
		} else {
			result, err = s.db.ExecContext(ctx, `
				DELETE FROM messages
				WHERE NOT is_global AND receiver_id IS NULL AND sender_id = $1
			`, viewerID)
		}
	default:
		if viewerIsAdmin {
			result, err = s.db.ExecContext(ctx, `
				DELETE FROM messages
				WHERE NOT is_global AND (
					(sender_id = $2 AND (receiver_id = $1 OR receiver_id IS NULL))
					OR (sender_id = $1 AND receiver_id = $2)
				)
			`, viewerID, key)
		} else {
			result, err = s.db.ExecContext(ctx, `
				DELETE FROM messages
				WHERE NOT is_global AND (
					(sender_id = $2 AND receiver_id = $1)
					OR (sender_id = $1 AND receiver_id = $2)
				)
			`, viewerID, key)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("delete thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete thread rows: %w", err)
	}
	return affected, nil
}

// ---- rooms ----

func (s *PostgresStore) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, floor, capacity, COALESCE(notes, '')
		FROM rooms
		ORDER BY floor ASC, number ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	items := make([]Room, 0)
	for rows.Next() {
		var item Room
		if err := rows.Scan(&item.ID, &item.Number, &item.Floor, &item.Capacity, &item.Notes); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var item Room
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, floor, capacity, COALESCE(notes, '')
		FROM rooms WHERE id=$1
	`, roomID).Scan(&item.ID, &item.Number, &item.Floor, &item.Capacity, &item.Notes)
	if err != nil {
		return Room{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertRoom(ctx context.Context, room Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, number, floor, capacity, notes)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, room.ID, room.Number, room.Floor, room.Capacity, room.Notes)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRoom(ctx context.Context, room Room) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET number=$2, floor=$3, capacity=$4, notes=NULLIF($5, '')
		WHERE id=$1
	`, room.ID, room.Number, room.Floor, room.Capacity, room.Notes)
	if err != nil {
		return false, fmt.Errorf("update room: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update room rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, roomID string) error {
	var occupants int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM room_assignments WHERE room_id=$1 AND ended_at IS NULL
	`, roomID).Scan(&occupants); err != nil {
		return fmt.Errorf("count room occupants: %w", err)
	}
	if occupants > 0 {
		return fmt.Errorf("room has %d active occupants", occupants)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1`, roomID)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// AssignRoom ends any active assignment for the resident, then opens a new
// one, in a single transaction.
func (s *PostgresStore) AssignRoom(ctx context.Context, assignmentID, roomID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign room: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE room_assignments SET ended_at=NOW()
		WHERE user_id=$1 AND ended_at IS NULL
	`, userID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("end previous assignment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO room_assignments (id, room_id, user_id)
		VALUES ($1, $2, $3)
	`, assignmentID, roomID, userID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert assignment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assign room: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveAssignments(ctx context.Context) ([]RoomAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ra.id, ra.room_id, ra.user_id, u.display_name, ra.started_at
		FROM room_assignments ra
		JOIN users u ON u.id = ra.user_id
		WHERE ra.ended_at IS NULL
		ORDER BY ra.started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	items := make([]RoomAssignment, 0)
	for rows.Next() {
		var item RoomAssignment
		if err := rows.Scan(&item.ID, &item.RoomID, &item.UserID, &item.UserName, &item.StartedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetActiveAssignment(ctx context.Context, userID string) (*RoomAssignment, error) {
	var item RoomAssignment
	err := s.db.QueryRowContext(ctx, `
		SELECT ra.id, ra.room_id, ra.user_id, u.display_name, ra.started_at
		FROM room_assignments ra
		JOIN users u ON u.id = ra.user_id
		WHERE ra.user_id=$1 AND ra.ended_at IS NULL
	`, userID).Scan(&item.ID, &item.RoomID, &item.UserID, &item.UserName, &item.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active assignment: %w", err)
	}
	return &item, nil
}

// ---- absences ----

// AbsenceOverlaps reports whether the range collides with an existing
// non-rejected absence of the same user.
func (s *PostgresStore) AbsenceOverlaps(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	var overlaps bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM absences
			WHERE user_id=$1 AND status <> 'REJECTED'
				AND start_date <= $3 AND end_date >= $2
		)
	`, userID, start, end).Scan(&overlaps)
	if err != nil {
		return false, fmt.Errorf("check absence overlap: %w", err)
	}
	return overlaps, nil
}

func (s *PostgresStore) InsertAbsence(ctx context.Context, absence Absence) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO absences (id, user_id, start_date, end_date, reason, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), 'PENDING')
	`, absence.ID, absence.UserID, absence.StartDate, absence.EndDate, absence.Reason)
	if err != nil {
		return fmt.Errorf("insert absence: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAbsences(ctx context.Context, userID string) ([]Absence, error) {
	return s.queryAbsences(ctx, `
		SELECT a.id, a.user_id, u.display_name, a.start_date, a.end_date, COALESCE(a.reason, ''), a.status, COALESCE(a.decided_by_name, ''), a.decided_at, a.created_at
		FROM absences a
		JOIN users u ON u.id = a.user_id
		WHERE a.user_id=$1
		ORDER BY a.start_date DESC
	`, userID)
}

func (s *PostgresStore) ListAllAbsences(ctx context.Context) ([]Absence, error) {
	return s.queryAbsences(ctx, `
		SELECT a.id, a.user_id, u.display_name, a.start_date, a.end_date, COALESCE(a.reason, ''), a.status, COALESCE(a.decided_by_name, ''), a.decided_at, a.created_at
		FROM absences a
		JOIN users u ON u.id = a.user_id
		ORDER BY a.status = 'PENDING' DESC, a.start_date DESC
	`)
}

func (s *PostgresStore) queryAbsences(ctx context.Context, query string, args ...any) ([]Absence, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list absences: %w", err)
	}
	defer rows.Close()

	items := make([]Absence, 0)
	for rows.Next() {
		var item Absence
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.UserName,
			&item.StartDate,
			&item.EndDate,
			&item.Reason,
			&item.Status,
			&item.DecidedBy,
			&item.DecidedAt,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan absence: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate absences: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAbsence(ctx context.Context, absenceID string) (Absence, error) {
	var item Absence
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.user_id, u.display_name, a.start_date, a.end_date, COALESCE(a.reason, ''), a.status, COALESCE(a.decided_by_name, ''), a.decided_at, a.created_at
		FROM absences a
		JOIN users u ON u.id = a.user_id
		WHERE a.id=$1
	`, absenceID).Scan(
		&item.ID,
		&item.UserID,
		&item.UserName,
		&item.StartDate,
		&item.EndDate,
		&item.Reason,
		&item.Status,
		&item.DecidedBy,
		&item.DecidedAt,
		&item.CreatedAt,
	)
	if err != nil {
		return Absence{}, err
	}
	return item, nil
}

func (s *PostgresStore) DecideAbsence(ctx context.Context, absenceID, status, decidedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE absences SET status=$2, decided_by_name=$3, decided_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, absenceID, status, decidedBy)
	if err != nil {
		return false, fmt.Errorf("decide absence: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide absence rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteAbsence(ctx context.Context, absenceID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM absences WHERE id=$1 AND user_id=$2 AND status='PENDING'
	`, absenceID, userID)
	if err != nil {
		return false, fmt.Errorf("delete absence: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete absence rows: %w", err)
	}
	return affected > 0, nil
}

// ---- tasks ----

func (s *PostgresStore) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, done, created_by_name, created_at, done_at
		FROM tasks
		WHERE user_id=$1
		ORDER BY done ASC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &item.Done, &item.CreatedBy, &item.CreatedAt, &item.DoneAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, created_by_name)
		VALUES ($1, $2, $3, $4)
	`, task.ID, task.UserID, task.Title, task.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTaskDone(ctx context.Context, taskID, userID string, done bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET done=$3, done_at=CASE WHEN $3 THEN NOW() ELSE NULL END
		WHERE id=$1 AND user_id=$2
	`, taskID, userID, done)
	if err != nil {
		return false, fmt.Errorf("set task done: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set task done rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1 AND user_id=$2`, taskID, userID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete task rows: %w", err)
	}
	return affected > 0, nil
}

// ---- house guide ----

func (s *PostgresStore) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, weekday, start_time, end_time, COALESCE(location, ''), updated_by_name, updated_at
		FROM schedules
		ORDER BY weekday ASC, start_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	items := make([]Schedule, 0)
	for rows.Next() {
		var item Schedule
		if err := rows.Scan(&item.ID, &item.Title, &item.Weekday, &item.StartTime, &item.EndTime, &item.Location, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertSchedule(ctx context.Context, schedule Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, title, weekday, start_time, end_time, location, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (id) DO UPDATE
		SET title=EXCLUDED.title, weekday=EXCLUDED.weekday, start_time=EXCLUDED.start_time,
			end_time=EXCLUDED.end_time, location=EXCLUDED.location,
			updated_by_name=EXCLUDED.updated_by_name, updated_at=NOW()
	`, schedule.ID, schedule.Title, schedule.Weekday, schedule.StartTime, schedule.EndTime, schedule.Location, schedule.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSchedule(ctx context.Context, scheduleID string) (bool, error) {
	return s.deleteByID(ctx, "schedules", scheduleID)
}

func (s *PostgresStore) ListKeyEntries(ctx context.Context) ([]KeyEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, location, COALESCE(notes, ''), updated_by_name, updated_at
		FROM key_entries
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list key entries: %w", err)
	}
	defer rows.Close()

	items := make([]KeyEntry, 0)
	for rows.Next() {
		var item KeyEntry
		if err := rows.Scan(&item.ID, &item.Name, &item.Location, &item.Notes, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan key entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertKeyEntry(ctx context.Context, entry KeyEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO key_entries (id, name, location, notes, updated_by_name)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, location=EXCLUDED.location, notes=EXCLUDED.notes,
			updated_by_name=EXCLUDED.updated_by_name, updated_at=NOW()
	`, entry.ID, entry.Name, entry.Location, entry.Notes, entry.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert key entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteKeyEntry(ctx context.Context, entryID string) (bool, error) {
	return s.deleteByID(ctx, "key_entries", entryID)
}

func (s *PostgresStore) ListInstructions(ctx context.Context) ([]Instruction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body, COALESCE(category, ''), updated_by_name, updated_at
		FROM instructions
		ORDER BY category ASC, title ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list instructions: %w", err)
	}
	defer rows.Close()

	items := make([]Instruction, 0)
	for rows.Next() {
		var item Instruction
		if err := rows.Scan(&item.ID, &item.Title, &item.Body, &item.Category, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instructions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertInstruction(ctx context.Context, instruction Instruction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instructions (id, title, body, category, updated_by_name)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (id) DO UPDATE
		SET title=EXCLUDED.title, body=EXCLUDED.body, category=EXCLUDED.category,
			updated_by_name=EXCLUDED.updated_by_name, updated_at=NOW()
	`, instruction.ID, instruction.Title, instruction.Body, instruction.Category, instruction.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert instruction: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteInstruction(ctx context.Context, instructionID string) (bool, error) {
	return s.deleteByID(ctx, "instructions", instructionID)
}

func (s *PostgresStore) InsertGuideDocument(ctx context.Context, doc GuideDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guide_documents (id, title, object_key, content_type, size_bytes, uploaded_by_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, doc.Title, doc.ObjectKey, doc.ContentType, doc.SizeBytes, doc.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert guide document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGuideDocuments(ctx context.Context) ([]GuideDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, object_key, content_type, size_bytes, uploaded_by_name, created_at
		FROM guide_documents
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list guide documents: %w", err)
	}
	defer rows.Close()

	items := make([]GuideDocument, 0)
	for rows.Next() {
		var item GuideDocument
		if err := rows.Scan(&item.ID, &item.Title, &item.ObjectKey, &item.ContentType, &item.SizeBytes, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan guide document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guide documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetGuideDocument(ctx context.Context, docID string) (GuideDocument, error) {
	var item GuideDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, object_key, content_type, size_bytes, uploaded_by_name, created_at
		FROM guide_documents WHERE id=$1
	`, docID).Scan(&item.ID, &item.Title, &item.ObjectKey, &item.ContentType, &item.SizeBytes, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return GuideDocument{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteGuideDocument(ctx context.Context, docID string) (bool, error) {
	return s.deleteByID(ctx, "guide_documents", docID)
}

func (s *PostgresStore) deleteByID(ctx context.Context, table, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete from %s rows: %w", table, err)
	}
	return affected > 0, nil
}
