package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"noteful/api/internal/auth"
	"noteful/api/internal/config"
	"noteful/api/internal/store"
	"noteful/api/internal/util"
)

// Identity is the authenticated caller, resolved from a bearer token
// before any store is touched.
type Identity struct {
	UserID   string
	Username string
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByUsername(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)

	ListFolders(context.Context, string) ([]store.Folder, error)
	GetFolder(context.Context, string) (store.Folder, error)
	InsertFolder(context.Context, store.Folder) error
	UpdateFolder(context.Context, string, string) (store.Folder, error)
	DeleteFolder(context.Context, string) error

	ListTags(context.Context, string) ([]store.Tag, error)
	GetTag(context.Context, string) (store.Tag, error)
	InsertTag(context.Context, store.Tag) error
	UpdateTag(context.Context, string, string) (store.Tag, error)
	DeleteTag(context.Context, string) error

	ListNotes(context.Context, string, store.NoteFilter) ([]store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	InsertNote(context.Context, store.Note, []string) error
	UpdateNote(context.Context, store.Note, []string) error
	DeleteNote(context.Context, string) error

	Ping(context.Context) error
}

type Service struct {
	cfg   config.Config
	store dataStore
	log   zerolog.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, logger zerolog.Logger) *Service {
	return &Service{cfg: cfg, store: dataStore, log: logger}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Users

func (s *Service) Register(ctx context.Context, input RegisterInput) (map[string]any, error) {
	if err := validateRegister(input); err != nil {
		return nil, err
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(*input.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID(),
		Username:     *input.Username,
		PasswordHash: string(digest),
		Fullname:     input.Fullname,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflictError("The username already exists")
		}
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items, nil
}

// Sessions

func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", unauthorizedError()
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", unauthorizedError()
	}
	return s.issueToken(user.ID, user.Username)
}

// Refresh exchanges a still-valid bearer for a fresh token with a new
// expiry. The gate has already verified the presented token.
func (s *Service) Refresh(identity Identity) (string, error) {
	return s.issueToken(identity.UserID, identity.Username)
}

func (s *Service) IdentityFromToken(token string) (Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UID, Username: claims.Sub}, nil
}

func (s *Service) issueToken(userID, username string) (string, error) {
	return auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub: username,
		UID: userID,
		Exp: time.Now().Add(s.cfg.TokenTTL).Unix(),
	})
}

// authorizeOwner is the single ownership predicate shared by all three
// resource stores. A caller who does not own a record gets the same
// outward signal as a record that does not exist; the denial itself is
// still visible in the logs.
func (s *Service) authorizeOwner(resource, resourceID, ownerID string, identity Identity) error {
	if ownerID == identity.UserID {
		return nil
	}
	s.log.Debug().
		Str("resource", resource).
		Str("id", resourceID).
		Str("owner", ownerID).
		Str("caller", identity.UserID).
		Msg("ownership mismatch")
	return notFoundError()
}

// Folders

func (s *Service) ListFolders(ctx context.Context, identity Identity) ([]map[string]any, error) {
	folders, err := s.store.ListFolders(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(folders))
	for _, folder := range folders {
		items = append(items, folderPayload(folder))
	}
	return items, nil
}

func (s *Service) GetFolder(ctx context.Context, identity Identity, folderID string) (map[string]any, error) {
	if err := validateEntityID(folderID); err != nil {
		return nil, err
	}
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner("folder", folder.ID, folder.UserID, identity); err != nil {
		return nil, err
	}
	return folderPayload(folder), nil
}

func (s *Service) CreateFolder(ctx context.Context, identity Identity, name string) (map[string]any, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	folder := store.Folder{
		ID:     util.NewID(),
		Name:   name,
		UserID: identity.UserID,
	}
	if err := s.store.InsertFolder(ctx, folder); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflictError("Folder name already exists")
		}
		return nil, err
	}
	return folderPayload(folder), nil
}

func (s *Service) UpdateFolder(ctx context.Context, identity Identity, folderID, name string) (map[string]any, error) {
	if err := validateEntityID(folderID); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner("folder", folder.ID, folder.UserID, identity); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateFolder(ctx, folderID, name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflictError("Folder name already exists")
		}
		return nil, err
	}
	return folderPayload(updated), nil
}

func (s *Service) DeleteFolder(ctx context.Context, identity Identity, folderID string) error {
	if err := validateEntityID(folderID); err != nil {
		return err
	}
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if err := s.authorizeOwner("folder", folder.ID, folder.UserID, identity); err != nil {
		return err
	}
	return s.store.DeleteFolder(ctx, folderID)
}

// Tags

func (s *Service) ListTags(ctx context.Context, identity Identity) ([]map[string]any, error) {
	tags, err := s.store.ListTags(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tags))
	for _, tag := range tags {
		items = append(items, tagPayload(tag))
	}
	return items, nil
}

func (s *Service) GetTag(ctx context.Context, identity Identity, tagID string) (map[string]any, error) {
	if err := validateEntityID(tagID); err != nil {
		return nil, err
	}
	tag, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner("tag", tag.ID, tag.UserID, identity); err != nil {
		return nil, err
	}
	return tagPayload(tag), nil
}

func (s *Service) CreateTag(ctx context.Context, identity Identity, name string) (map[string]any, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	tag := store.Tag{
		ID:     util.NewID(),
		Name:   name,
		UserID: identity.UserID,
	}
	if err := s.store.InsertTag(ctx, tag); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflictError("Tag name already exists")
		}
		return nil, err
	}
	return tagPayload(tag), nil
}

func (s *Service) UpdateTag(ctx context.Context, identity Identity, tagID, name string) (map[string]any, error) {
	if err := validateEntityID(tagID); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	tag, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner("tag", tag.ID, tag.UserID, identity); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateTag(ctx, tagID, name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, conflictError("Tag name already exists")
		}
		return nil, err
	}
	return tagPayload(updated), nil
}

func (s *Service) DeleteTag(ctx context.Context, identity Identity, tagID string) error {
	if err := validateEntityID(tagID); err != nil {
		return err
	}
	tag, err := s.store.GetTag(ctx, tagID)
	if err != nil {
		return err
	}
	if err := s.authorizeOwner("tag", tag.ID, tag.UserID, identity); err != nil {
		return err
	}
	return s.store.DeleteTag(ctx, tagID)
}

// Notes

func (s *Service) ListNotes(ctx context.Context, identity Identity, filter store.NoteFilter) ([]map[string]any, error) {
	if filter.FolderID != "" && !util.ValidID(filter.FolderID) {
		return nil, validationError("The `folderId` is not valid")
	}
	if filter.TagID != "" && !util.ValidID(filter.TagID) {
		return nil, validationError("The `tagId` is not valid")
	}
	notes, err := s.store.ListNotes(ctx, identity.UserID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		items = append(items, notePayload(note))
	}
	return items, nil
}

func (s *Service) GetNote(ctx context.Context, identity Identity, noteID string) (map[string]any, error) {
	if err := validateEntityID(noteID); err != nil {
		return nil, err
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner("note", note.ID, note.UserID, identity); err != nil {
		return nil, err
	}
	return notePayload(note), nil
}

func (s *Service) CreateNote(ctx context.Context, identity Identity, input NoteInput) (map[string]any, error) {
	if input.Title == nil || *input.Title == "" {
		return nil, validationError("Missing `title` in request body")
	}
	tagIDs := []string{}
	if input.Tags != nil {
		tagIDs = *input.Tags
	}
	if err := validateNoteRefs(input.FolderID, tagIDs); err != nil {
		return nil, err
	}

	note := store.Note{
		ID:     util.NewID(),
		Title:  *input.Title,
		UserID: identity.UserID,
	}
	if input.Content != nil {
		note.Content = *input.Content
	}
	if input.FolderID != nil && *input.FolderID != "" {
		note.FolderID = input.FolderID
	}

	if err := s.store.InsertNote(ctx, note, tagIDs); err != nil {
		return nil, err
	}
	created, err := s.store.GetNote(ctx, note.ID)
	if err != nil {
		return nil, err
	}
	return notePayload(created), nil
}

func (s *Service) UpdateNote(ctx context.Context, identity Identity, noteID string, input NoteInput) (map[string]any, error) {
	if err := validateEntityID(noteID); err != nil {
		return nil, err
	}
	if input.Title != nil && *input.Title == "" {
		return nil, validationError("Missing `title` in request body")
	}
	var inputTags []string
	if input.Tags != nil {
		inputTags = *input.Tags
	}
	if err := validateNoteRefs(input.FolderID, inputTags); err != nil {
		return nil, err
	}

	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner("note", note.ID, note.UserID, identity); err != nil {
		return nil, err
	}

	if input.Title != nil {
		note.Title = *input.Title
	}
	if input.Content != nil {
		note.Content = *input.Content
	}
	if input.FolderID != nil {
		if *input.FolderID == "" {
			note.FolderID = nil
		} else {
			note.FolderID = input.FolderID
		}
	}
	tagIDs := noteTagIDs(note)
	if input.Tags != nil {
		tagIDs = *input.Tags
	}

	if err := s.store.UpdateNote(ctx, note, tagIDs); err != nil {
		return nil, err
	}
	updated, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return notePayload(updated), nil
}

func (s *Service) DeleteNote(ctx context.Context, identity Identity, noteID string) error {
	if err := validateEntityID(noteID); err != nil {
		return err
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	if err := s.authorizeOwner("note", note.ID, note.UserID, identity); err != nil {
		return err
	}
	return s.store.DeleteNote(ctx, noteID)
}

// Payloads

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"fullname": user.Fullname,
	}
}

func folderPayload(folder store.Folder) map[string]any {
	return map[string]any{
		"id":     folder.ID,
		"name":   folder.Name,
		"userId": folder.UserID,
	}
}

func tagPayload(tag store.Tag) map[string]any {
	return map[string]any{
		"id":     tag.ID,
		"name":   tag.Name,
		"userId": tag.UserID,
	}
}

func notePayload(note store.Note) map[string]any {
	tags := make([]map[string]any, 0, len(note.Tags))
	for _, tag := range note.Tags {
		tags = append(tags, tagPayload(tag))
	}
	payload := map[string]any{
		"id":        note.ID,
		"title":     note.Title,
		"content":   note.Content,
		"tags":      tags,
		"userId":    note.UserID,
		"createdAt": note.CreatedAt,
		"updatedAt": note.UpdatedAt,
	}
	// folderId is omitted entirely when the note is unfiled.
	if note.FolderID != nil {
		payload["folderId"] = *note.FolderID
	}
	return payload
}

func noteTagIDs(note store.Note) []string {
	ids := make([]string, 0, len(note.Tags))
	for _, tag := range note.Tags {
		ids = append(ids, tag.ID)
	}
	return ids
}
