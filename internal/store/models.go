package store

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	Fullname     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Folder struct {
	ID        string
	Name      string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Tag struct {
	ID        string
	Name      string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Note.FolderID is a weak reference: nil means the note is unfiled. Tags
// holds the tag records for the note, populated on reads.
type Note struct {
	ID        string
	Title     string
	Content   string
	FolderID  *string
	UserID    string
	Tags      []Tag
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteFilter narrows a note listing. All fields are optional and combinable.
type NoteFilter struct {
	SearchTerm string
	FolderID   string
	TagID      string
}
