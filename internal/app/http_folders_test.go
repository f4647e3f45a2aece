package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"noteful/api/internal/store"
)

func TestListFoldersScopedToCaller(t *testing.T) {
	var requestedOwner string
	fs := &fakeStore{
		listFoldersFn: func(_ context.Context, userID string) ([]store.Folder, error) {
			requestedOwner = userID
			return []store.Folder{
				{ID: recordID, Name: "Archive", UserID: userID},
			}, nil
		},
	}
	rr := doJSON(t, newTestServer(fs), http.MethodGet, "/api/folders", "", testToken(t))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if requestedOwner != ownerID {
		t.Fatalf("expected listing scoped to %s, got %s", ownerID, requestedOwner)
	}
	var items []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(items) != 1 || items[0]["name"] != "Archive" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestCreateFolderReturnsCreatedWithLocation(t *testing.T) {
	var inserted store.Folder
	fs := &fakeStore{
		insertFolderFn: func(_ context.Context, folder store.Folder) error {
			inserted = folder
			return nil
		},
	}
	rr := doJSON(t, newTestServer(fs), http.MethodPost, "/api/folders", `{"name":"Work"}`, testToken(t))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	id, _ := payload["id"].(string)
	if id == "" {
		t.Fatalf("expected generated id")
	}
	if got := rr.Header().Get("Location"); got != "/api/folders/"+id {
		t.Fatalf("expected Location /api/folders/%s, got %q", id, got)
	}
	if inserted.UserID != ownerID {
		t.Fatalf("expected folder owned by caller, got %s", inserted.UserID)
	}
}

func TestCreateFolderRequiresName(t *testing.T) {
	rr := doJSON(t, newTestServer(&fakeStore{}), http.MethodPost, "/api/folders", `{}`, testToken(t))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["error"] != "Missing `name` in request body" {
		t.Fatalf("unexpected message: %v", payload["error"])
	}
}

func TestFolderMalformedIDRejected(t *testing.T) {
	// The URN form parses as a uuid but is not valid database input; it must
	// stop at validation like any other malformed id.
	for _, id := range []string{"not-a-uuid", "urn:uuid:4bc033c8-33fd-4a52-b9ca-a2f00f5cdb7f"} {
		rr := doJSON(t, newTestServer(&fakeStore{}), http.MethodGet, "/api/folders/"+id, "", testToken(t))

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("id %q: expected status 400, got %d body=%s", id, rr.Code, rr.Body.String())
		}
		payload := parseBody(t, rr)
		if payload["error"] != "The `id` is not valid" {
			t.Fatalf("id %q: unexpected message %v", id, payload["error"])
		}
	}
}

func TestForeignFolderLooksMissingOnEveryVerb(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, Name: "Private", UserID: strangerID}, nil
		},
	}
	server := newTestServer(fs)
	token := testToken(t)

	cases := []struct {
		method string
		body   string
	}{
		{http.MethodGet, ""},
		{http.MethodPut, `{"name":"Renamed"}`},
		{http.MethodDelete, ""},
	}
	for _, tc := range cases {
		rr := doJSON(t, server, tc.method, "/api/folders/"+recordID, tc.body, token)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 for foreign folder, got %d body=%s", tc.method, rr.Code, rr.Body.String())
		}
	}
}

func TestUpdateFolderDuplicateName(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, Name: "Work", UserID: ownerID}, nil
		},
		updateFolderFn: func(context.Context, string, string) (store.Folder, error) {
			return store.Folder{}, store.ErrDuplicate
		},
	}
	rr := doJSON(t, newTestServer(fs), http.MethodPut, "/api/folders/"+recordID, `{"name":"Archive"}`, testToken(t))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["error"] != "Folder name already exists" {
		t.Fatalf("unexpected message: %v", payload["error"])
	}
}

func TestDeleteGoneFolderReturnsNotFound(t *testing.T) {
	// Default fake fetch reports no row, as after a prior delete.
	rr := doJSON(t, newTestServer(&fakeStore{}), http.MethodDelete, "/api/folders/"+recordID, "", testToken(t))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected code NOT_FOUND, got %v", payload["code"])
	}
}

func TestDeleteFolderReturnsNoContent(t *testing.T) {
	var deletedID string
	fs := &fakeStore{
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, Name: "Work", UserID: ownerID}, nil
		},
		deleteFolderFn: func(_ context.Context, folderID string) error {
			deletedID = folderID
			return nil
		},
	}
	rr := doJSON(t, newTestServer(fs), http.MethodDelete, "/api/folders/"+recordID, "", testToken(t))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d body=%s", rr.Code, rr.Body.String())
	}
	if deletedID != recordID {
		t.Fatalf("expected delete of %s, got %q", recordID, deletedID)
	}
}
