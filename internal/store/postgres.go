package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, fullname)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.PasswordHash, user.Fullname)
	if err != nil {
		return fmt.Errorf("insert user: %w", translateConstraint(err))
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, fullname
		FROM users
		WHERE username=$1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Fullname)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, fullname
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Username, &item.Fullname); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// Folders

func (s *PostgresStore) ListFolders(ctx context.Context, userID string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, user_id, created_at, updated_at
		FROM folders
		WHERE user_id=$1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var item Folder
		if err := rows.Scan(&item.ID, &item.Name, &item.UserID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

// GetFolder fetches by id alone; comparing the owner is the caller's job.
func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var item Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, user_id, created_at, updated_at
		FROM folders
		WHERE id=$1
	`, folderID).Scan(&item.ID, &item.Name, &item.UserID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Folder{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertFolder(ctx context.Context, item Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, name, user_id)
		VALUES ($1, $2, $3)
	`, item.ID, item.Name, item.UserID)
	if err != nil {
		return fmt.Errorf("insert folder: %w", translateConstraint(err))
	}
	return nil
}

func (s *PostgresStore) UpdateFolder(ctx context.Context, folderID, name string) (Folder, error) {
	var item Folder
	err := s.db.QueryRowContext(ctx, `
		UPDATE folders
		SET name=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, user_id, created_at, updated_at
	`, folderID, name).Scan(&item.ID, &item.Name, &item.UserID, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return Folder{}, err
	}
	if err != nil {
		return Folder{}, fmt.Errorf("update folder: %w", translateConstraint(err))
	}
	return item, nil
}

// DeleteFolder removes the folder and unfiles every note that referenced it,
// in a single transaction. The note rewrite is idempotent.
func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete folder: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, folderID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete folder: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE notes SET folder_id=NULL WHERE folder_id=$1`, folderID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("unfile notes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete folder: %w", err)
	}
	return nil
}

// Tags

func (s *PostgresStore) ListTags(ctx context.Context, userID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, user_id, created_at, updated_at
		FROM tags
		WHERE user_id=$1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var item Tag
		if err := rows.Scan(&item.ID, &item.Name, &item.UserID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTag(ctx context.Context, tagID string) (Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, user_id, created_at, updated_at
		FROM tags
		WHERE id=$1
	`, tagID).Scan(&item.ID, &item.Name, &item.UserID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Tag{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertTag(ctx context.Context, item Tag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name, user_id)
		VALUES ($1, $2, $3)
	`, item.ID, item.Name, item.UserID)
	if err != nil {
		return fmt.Errorf("insert tag: %w", translateConstraint(err))
	}
	return nil
}

func (s *PostgresStore) UpdateTag(ctx context.Context, tagID, name string) (Tag, error) {
	var item Tag
	err := s.db.QueryRowContext(ctx, `
		UPDATE tags
		SET name=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, user_id, created_at, updated_at
	`, tagID, name).Scan(&item.ID, &item.Name, &item.UserID, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return Tag{}, err
	}
	if err != nil {
		return Tag{}, fmt.Errorf("update tag: %w", translateConstraint(err))
	}
	return item, nil
}

// DeleteTag removes the tag and pulls it out of every note's tag set, in a
// single transaction.
func (s *PostgresStore) DeleteTag(ctx context.Context, tagID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tag: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id=$1`, tagID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete tag: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE tag_id=$1`, tagID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("untag notes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tag: %w", err)
	}
	return nil
}

// Notes

func (s *PostgresStore) ListNotes(ctx context.Context, userID string, filter NoteFilter) ([]Note, error) {
	query := `
		SELECT id, title, content, folder_id, user_id, created_at, updated_at
		FROM notes
		WHERE user_id=$1`
	args := []any{userID}

	if filter.SearchTerm != "" {
		args = append(args, "%"+escapeSearchTerm(filter.SearchTerm)+"%")
		query += fmt.Sprintf(" AND (title ILIKE $%d OR content ILIKE $%d)", len(args), len(args))
	}
	if filter.FolderID != "" {
		args = append(args, filter.FolderID)
		query += fmt.Sprintf(" AND folder_id=$%d", len(args))
	}
	if filter.TagID != "" {
		args = append(args, filter.TagID)
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM note_tags nt WHERE nt.note_id=notes.id AND nt.tag_id=$%d)", len(args))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}

	for i := range items {
		tags, err := s.listNoteTags(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Tags = tags
	}
	return items, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, folder_id, user_id, created_at, updated_at
		FROM notes
		WHERE id=$1
	`, noteID)
	item, err := scanNote(row)
	if err != nil {
		return Note{}, err
	}
	tags, err := s.listNoteTags(ctx, item.ID)
	if err != nil {
		return Note{}, err
	}
	item.Tags = tags
	return item, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note, tagIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert note: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, folder_id, user_id)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Title, item.Content, item.FolderID, item.UserID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert note: %w", translateConstraint(err))
	}
	if err := insertNoteTags(ctx, tx, item.ID, tagIDs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, item Note, tagIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update note: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE notes
		SET title=$2, content=$3, folder_id=$4, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Content, item.FolderID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update note: %w", translateConstraint(err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id=$1`, item.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear note tags: %w", err)
	}
	if err := insertNoteTags(ctx, tx, item.ID, tagIDs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	// note_tags rows go with the note via ON DELETE CASCADE.
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

func (s *PostgresStore) listNoteTags(ctx context.Context, noteID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.user_id, t.created_at, t.updated_at
		FROM note_tags nt
		JOIN tags t ON t.id = nt.tag_id
		WHERE nt.note_id=$1
		ORDER BY t.name
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list note tags: %w", err)
	}
	defer rows.Close()

	tags := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.UserID, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note tags: %w", err)
	}
	return tags, nil
}

func insertNoteTags(ctx context.Context, tx *sql.Tx, noteID string, tagIDs []string) error {
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO note_tags (note_id, tag_id)
			VALUES ($1, $2)
			ON CONFLICT (note_id, tag_id) DO NOTHING
		`, noteID, tagID); err != nil {
			return fmt.Errorf("insert note tag: %w", err)
		}
	}
	return nil
}

// escapeSearchTerm neutralizes ILIKE metacharacters so a search term is
// matched as a literal substring. Backslash is the default escape character.
func escapeSearchTerm(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var item Note
	var folderID sql.NullString
	if err := row.Scan(&item.ID, &item.Title, &item.Content, &folderID, &item.UserID, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Note{}, err
	}
	if folderID.Valid {
		item.FolderID = &folderID.String
	}
	return item, nil
}
