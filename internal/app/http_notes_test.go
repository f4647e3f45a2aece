package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"noteful/api/internal/store"
)

const (
	folderID = "4bc033c8-33fd-4a52-b9ca-a2f00f5cdb7f"
	tagID    = "3a5f9d4e-6f6c-4a3e-9a44-32a1f1d3ce10"
)

func TestCreateNoteRequiresTitle(t *testing.T) {
	rr := doJSON(t, newTestServer(&fakeStore{}), http.MethodPost, "/api/notes", `{"content":"body"}`, testToken(t))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["error"] != "Missing `title` in request body" {
		t.Fatalf("unexpected message: %v", payload["error"])
	}
}

func TestCreateNoteRejectsMalformedReferences(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad folderId", `{"title":"T","folderId":"nope"}`, "The `folderId` is not valid"},
		{"bad tag id", `{"title":"T","tags":["nope"]}`, "The tags `id` is not valid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, newTestServer(&fakeStore{}), http.MethodPost, "/api/notes", tc.body, testToken(t))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
			}
			payload := parseBody(t, rr)
			if payload["error"] != tc.want {
				t.Fatalf("expected message %q, got %v", tc.want, payload["error"])
			}
		})
	}
}

func TestCreateNoteReturnsPopulatedPayload(t *testing.T) {
	var insertedTags []string
	fs := &fakeStore{
		insertNoteFn: func(_ context.Context, note store.Note, tagIDs []string) error {
			insertedTags = tagIDs
			return nil
		},
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			filed := folderID
			return store.Note{
				ID:       noteID,
				Title:    "Groceries",
				Content:  "milk",
				FolderID: &filed,
				UserID:   ownerID,
				Tags:     []store.Tag{{ID: tagID, Name: "errands", UserID: ownerID}},
			}, nil
		},
	}
	body := `{"title":"Groceries","content":"milk","folderId":"` + folderID + `","tags":["` + tagID + `"]}`
	rr := doJSON(t, newTestServer(fs), http.MethodPost, "/api/notes", body, testToken(t))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(insertedTags) != 1 || insertedTags[0] != tagID {
		t.Fatalf("expected tag links %v, got %v", []string{tagID}, insertedTags)
	}
	payload := parseBody(t, rr)
	if payload["folderId"] != folderID {
		t.Fatalf("expected folderId in payload, got %v", payload["folderId"])
	}
	tags, _ := payload["tags"].([]any)
	if len(tags) != 1 {
		t.Fatalf("expected populated tags, got %v", payload["tags"])
	}
	first, _ := tags[0].(map[string]any)
	if first["name"] != "errands" {
		t.Fatalf("expected tag name errands, got %v", first)
	}
}

func TestListNotesPassesFilterToStore(t *testing.T) {
	var captured store.NoteFilter
	fs := &fakeStore{
		listNotesFn: func(_ context.Context, userID string, filter store.NoteFilter) ([]store.Note, error) {
			if userID != ownerID {
				t.Fatalf("expected listing scoped to %s, got %s", ownerID, userID)
			}
			captured = filter
			return nil, nil
		},
	}
	path := "/api/notes?searchTerm=milk&folderId=" + folderID + "&tagId=" + tagID
	rr := doJSON(t, newTestServer(fs), http.MethodGet, path, "", testToken(t))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if captured.SearchTerm != "milk" || captured.FolderID != folderID || captured.TagID != tagID {
		t.Fatalf("unexpected filter: %+v", captured)
	}
}

func TestUnfiledNotePayloadOmitsFolderID(t *testing.T) {
	fs := &fakeStore{
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, Title: "Loose", UserID: ownerID}, nil
		},
	}
	rr := doJSON(t, newTestServer(fs), http.MethodGet, "/api/notes/"+recordID, "", testToken(t))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if _, present := payload["folderId"]; present {
		t.Fatalf("expected folderId key absent for unfiled note")
	}
	if _, present := payload["tags"]; !present {
		t.Fatalf("expected tags key even when empty")
	}
}

func TestForeignNoteLooksMissing(t *testing.T) {
	fs := &fakeStore{
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, Title: "Secret", UserID: strangerID}, nil
		},
	}
	server := newTestServer(fs)
	token := testToken(t)

	for _, tc := range []struct {
		method string
		body   string
	}{
		{http.MethodGet, ""},
		{http.MethodPut, `{"title":"Hijack"}`},
		{http.MethodDelete, ""},
	} {
		rr := doJSON(t, server, tc.method, "/api/notes/"+recordID, tc.body, token)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 for foreign note, got %d body=%s", tc.method, rr.Code, rr.Body.String())
		}
	}
}

func TestDeleteGoneNoteReturnsNotFound(t *testing.T) {
	rr := doJSON(t, newTestServer(&fakeStore{}), http.MethodDelete, "/api/notes/"+recordID, "", testToken(t))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestDeleteNoteReturnsNoContent(t *testing.T) {
	var deletedID string
	fs := &fakeStore{
		getNoteFn: func(_ context.Context, noteID string) (store.Note, error) {
			return store.Note{ID: noteID, Title: "Done", UserID: ownerID}, nil
		},
		deleteNoteFn: func(_ context.Context, noteID string) error {
			deletedID = noteID
			return nil
		},
	}
	rr := doJSON(t, newTestServer(fs), http.MethodDelete, "/api/notes/"+recordID, "", testToken(t))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d body=%s", rr.Code, rr.Body.String())
	}
	if deletedID != recordID {
		t.Fatalf("expected delete of %s, got %q", recordID, deletedID)
	}
}
