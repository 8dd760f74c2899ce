package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	AvatarURL             string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

type Category struct {
	ID          string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
}

type Tag struct {
	ID   string
	Name string
	Slug string
}

type Course struct {
	ID         string
	Code       string
	Title      string
	Slug       string
	Department string
}

type Resource struct {
	ID       string
	CourseID string
	Title    string
	Type     string
	URL      string
}

type Thread struct {
	ID         string
	CategoryID string
	AuthorID   string
	AuthorName string
	CourseID   string
	Title      string
	Body       string
	IsLocked   bool
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ThreadSummary is a listing row: thread plus its aggregate counts.
type ThreadSummary struct {
	Thread
	LikeCount  int
	ReplyCount int
	Tags       []Tag
}

type Reply struct {
	ID         string
	ThreadID   string
	AuthorID   string
	AuthorName string
	Body       string
	IsDeleted  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReplySummary is a listing row: reply plus like count and the viewer's
// own like state.
type ReplySummary struct {
	Reply
	LikeCount   int
	ViewerLiked bool
}

type Report struct {
	ID           string
	ReporterID   string
	ReporterName string
	ThreadID     string
	ReplyID      string
	Reason       string
	Status       string
	CreatedAt    time.Time
}

type Mention struct {
	ID              string
	MentionedUserID string
	ThreadID        string
	ReplyID         string
	CreatedAt       time.Time
}
