package app

import (
	"fmt"
	"strings"

	"noteful/api/internal/util"
)

const (
	passwordMinLength = 8
	passwordMaxLength = 72
)

// RegisterInput is the registration body. Pointer fields distinguish a
// missing field from an empty one.
type RegisterInput struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Fullname string  `json:"fullname"`
}

// NoteInput is the note create/update body. Absent fields are left
// unchanged on update; a present-but-empty folderId clears the reference.
type NoteInput struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	FolderID *string   `json:"folderId"`
	Tags     *[]string `json:"tags"`
}

// validateRegister returns the first violation only, in a fixed order, so
// error messages are deterministic.
func validateRegister(input RegisterInput) *DomainError {
	fields := []struct {
		name  string
		value *string
	}{
		{"username", input.Username},
		{"password", input.Password},
	}

	for _, field := range fields {
		if field.value == nil {
			return registrationError(fmt.Sprintf("Missing %s in request body", field.name))
		}
	}
	for _, field := range fields {
		if *field.value != strings.TrimSpace(*field.value) {
			return registrationError(fmt.Sprintf("%s should not have trailing or leading spaces", field.name))
		}
	}
	if len(*input.Username) < 1 {
		return registrationError("name must be at least 1 character long")
	}
	if n := len(*input.Password); n < passwordMinLength || n > passwordMaxLength {
		return registrationError("password must be a minimum of 8 and max of 72 characters")
	}
	return nil
}

func validateEntityID(id string) *DomainError {
	if !util.ValidID(id) {
		return validationError("The `id` is not valid")
	}
	return nil
}

func validateName(name string) *DomainError {
	if name == "" {
		return validationError("Missing `name` in request body")
	}
	return nil
}

func validateNoteRefs(folderID *string, tagIDs []string) *DomainError {
	if folderID != nil && *folderID != "" && !util.ValidID(*folderID) {
		return validationError("The `folderId` is not valid")
	}
	for _, tagID := range tagIDs {
		if !util.ValidID(tagID) {
			return validationError("The tags `id` is not valid")
		}
	}
	return nil
}
