package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Phone                 string
	AvatarURL             string
	Role                  string
	IsApproved            bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Message is one message row with the joined sender/receiver display
// snippets. Empty SenderID/ReceiverID means the column is NULL.
type Message struct {
	ID             string
	Content        string
	SenderID       string
	ReceiverID     string
	IsGlobal       bool
	IsRead         bool
	ParentID       string
	CreatedAt      time.Time
	SenderName     string
	SenderAvatar   string
	ReceiverName   string
	ReceiverAvatar string
}

type Room struct {
	ID       string
	Number   string
	Floor    int
	Capacity int
	Notes    string
}

type RoomAssignment struct {
	ID        string
	RoomID    string
	UserID    string
	UserName  string
	StartedAt time.Time
	EndedAt   *time.Time
}

type Absence struct {
	ID        string
	UserID    string
	UserName  string
	StartDate time.Time
	EndDate   time.Time
	Reason    string
	Status    string
	DecidedBy string
	DecidedAt *time.Time
	CreatedAt time.Time
}

type Task struct {
	ID        string
	UserID    string
	Title     string
	Done      bool
	CreatedBy string
	CreatedAt time.Time
	DoneAt    *time.Time
}

type Schedule struct {
	ID        string
	Title     string
	Weekday   int
	StartTime string
	EndTime   string
	Location  string
	UpdatedBy string
	UpdatedAt time.Time
}

type KeyEntry struct {
	ID        string
	Name      string
	Location  string
	Notes     string
	UpdatedBy string
	UpdatedAt time.Time
}

type Instruction struct {
	ID        string
	Title     string
	Body      string
	Category  string
	UpdatedBy string
	UpdatedAt time.Time
}

type GuideDocument struct {
	ID          string
	Title       string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}
