package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"cospace/internal/models"
	"cospace/internal/testhelpers"
)

func newStore(t *testing.T) *GormStore {
	t.Helper()
	return NewGormStore(testhelpers.SetupTestDB(t), zap.NewNop())
}

func strptr(s string) *string { return &s }

func TestGormStore_CreateRoomGeneratesKey(t *testing.T) {
	s := newStore(t)

	room, err := s.CreateRoom(models.CreateRoomRequest{Name: "standup"})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	if room.ID == uuid.Nil {
		t.Fatalf("expected room ID to be set")
	}
	if len(room.RoomKey) != roomKeyLength {
		t.Fatalf("expected %d-char key, got %q", roomKeyLength, room.RoomKey)
	}
	if room.RoomKey != strings.ToUpper(room.RoomKey) {
		t.Fatalf("expected uppercase key, got %q", room.RoomKey)
	}
	if room.IsPasswordProtected {
		t.Fatalf("room without password should not be protected")
	}
}

func TestGormStore_CreateRoomHashesPassword(t *testing.T) {
	s := newStore(t)

	room, err := s.CreateRoom(models.CreateRoomRequest{Name: "private", Password: "hunter2"})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	if !room.IsPasswordProtected {
		t.Fatalf("expected password protection")
	}
	if room.PasswordHash == "hunter2" || room.PasswordHash == "" {
		t.Fatalf("password must be stored hashed, got %q", room.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte("hunter2")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}

func TestGormStore_CreateRoomCustomKey(t *testing.T) {
	s := newStore(t)

	room, err := s.CreateRoom(models.CreateRoomRequest{Name: "a", RoomKey: "abc123"})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	if room.RoomKey != "ABC123" {
		t.Fatalf("expected normalized key ABC123, got %q", room.RoomKey)
	}

	if _, err := s.CreateRoom(models.CreateRoomRequest{Name: "b", RoomKey: "ABC123"}); !errors.Is(err, ErrRoomKeyTaken) {
		t.Fatalf("expected ErrRoomKeyTaken, got %v", err)
	}
}

func TestGormStore_GetRoomByKeyCaseInsensitive(t *testing.T) {
	s := newStore(t)
	room, err := s.CreateRoom(models.CreateRoomRequest{Name: "lookup", RoomKey: "XYZ789"})
	if err != nil {
		t.Fatalf("failed to seed room: %v", err)
	}

	t.Run("lowercase", func(t *testing.T) {
		got, err := s.GetRoomByKey("xyz789")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != room.ID {
			t.Fatalf("wrong room returned")
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := s.GetRoomByKey("NOPE99"); !errors.Is(err, ErrRoomNotFound) {
			t.Fatalf("expected ErrRoomNotFound, got %v", err)
		}
	})
}

func TestGormStore_GetUserRooms(t *testing.T) {
	s := newStore(t)
	owner := uuid.New()

	for _, name := range []string{"one", "two"} {
		if _, err := s.CreateRoom(models.CreateRoomRequest{Name: name, CreatedBy: &owner}); err != nil {
			t.Fatalf("failed to seed room: %v", err)
		}
	}
	if _, err := s.CreateRoom(models.CreateRoomRequest{Name: "other"}); err != nil {
		t.Fatalf("failed to seed room: %v", err)
	}

	rooms, err := s.GetUserRooms(owner)
	if err != nil {
		t.Fatalf("GetUserRooms returned error: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
}

func TestGormStore_DocumentLifecycle(t *testing.T) {
	s := newStore(t)
	room, err := s.CreateRoom(models.CreateRoomRequest{Name: "docs"})
	if err != nil {
		t.Fatalf("failed to seed room: %v", err)
	}

	doc, err := s.CreateDocument(room.ID, models.CreateDocumentRequest{
		Name: "notes", Type: models.DocWord, Content: "first draft",
	})
	if err != nil {
		t.Fatalf("CreateDocument returned error: %v", err)
	}
	if doc.ID == uuid.Nil {
		t.Fatalf("expected document ID to be set")
	}

	t.Run("list", func(t *testing.T) {
		docs, err := s.GetDocuments(room.ID)
		if err != nil {
			t.Fatalf("GetDocuments returned error: %v", err)
		}
		if len(docs) != 1 || docs[0].Content != "first draft" {
			t.Fatalf("unexpected documents: %#v", docs)
		}
	})

	t.Run("count", func(t *testing.T) {
		count, err := s.CountDocuments(room.ID)
		if err != nil || count != 1 {
			t.Fatalf("expected count 1, got %d (err %v)", count, err)
		}
	})

	t.Run("update content", func(t *testing.T) {
		updated, err := s.UpdateDocument(doc.ID, models.UpdateDocumentRequest{
			Content: strptr("second draft"),
		})
		if err != nil {
			t.Fatalf("UpdateDocument returned error: %v", err)
		}
		if updated.Content != "second draft" {
			t.Fatalf("expected new content, got %q", updated.Content)
		}
	})

	t.Run("rename", func(t *testing.T) {
		updated, err := s.UpdateDocument(doc.ID, models.UpdateDocumentRequest{
			Name: strptr("meeting notes"),
		})
		if err != nil {
			t.Fatalf("UpdateDocument returned error: %v", err)
		}
		if updated.Name != "meeting notes" {
			t.Fatalf("expected renamed document, got %q", updated.Name)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.DeleteDocument(doc.ID); err != nil {
			t.Fatalf("DeleteDocument returned error: %v", err)
		}
		if _, err := s.GetDocument(doc.ID); !errors.Is(err, ErrDocumentNotFound) {
			t.Fatalf("expected ErrDocumentNotFound, got %v", err)
		}
		if err := s.DeleteDocument(doc.ID); !errors.Is(err, ErrDocumentNotFound) {
			t.Fatalf("expected ErrDocumentNotFound on double delete, got %v", err)
		}
	})
}

func TestGormStore_UpdateRecordsRevision(t *testing.T) {
	s := newStore(t)
	room, _ := s.CreateRoom(models.CreateRoomRequest{Name: "rev"})
	doc, err := s.CreateDocument(room.ID, models.CreateDocumentRequest{
		Name: "essay", Type: models.DocWord, Content: "v1",
	})
	if err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}

	if _, err := s.UpdateDocument(doc.ID, models.UpdateDocumentRequest{Content: strptr("v2")}); err != nil {
		t.Fatalf("UpdateDocument returned error: %v", err)
	}
	if _, err := s.UpdateDocument(doc.ID, models.UpdateDocumentRequest{Content: strptr("v3")}); err != nil {
		t.Fatalf("UpdateDocument returned error: %v", err)
	}
	// Same content again: no new revision.
	if _, err := s.UpdateDocument(doc.ID, models.UpdateDocumentRequest{Content: strptr("v3")}); err != nil {
		t.Fatalf("UpdateDocument returned error: %v", err)
	}

	var revisions []models.DocumentRevision
	if err := s.db.Where("document_id = ?", doc.ID).Order("revision_number").Find(&revisions).Error; err != nil {
		t.Fatalf("load revisions: %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(revisions))
	}
	if revisions[0].ContentDiff != "v1" || revisions[1].ContentDiff != "v2" {
		t.Fatalf("revisions should hold prior content, got %#v", revisions)
	}
	if revisions[1].RevisionNumber != revisions[0].RevisionNumber+1 {
		t.Fatalf("revision numbers should increment, got %#v", revisions)
	}
}

func TestGormStore_BinaryDocuments(t *testing.T) {
	s := newStore(t)
	room, _ := s.CreateRoom(models.CreateRoomRequest{Name: "images"})

	png := []byte{0x89, 0x50, 0x4E, 0x47}
	doc, err := s.CreateDocument(room.ID, models.CreateDocumentRequest{
		Name: "logo", Type: models.DocFreeform, ContentType: "image/png", BinaryContent: png,
	})
	if err != nil {
		t.Fatalf("CreateDocument returned error: %v", err)
	}
	if !doc.HasBinaryContent() {
		t.Fatalf("expected binary document")
	}

	t.Run("list omits payload", func(t *testing.T) {
		docs, err := s.GetDocuments(room.ID)
		if err != nil {
			t.Fatalf("GetDocuments returned error: %v", err)
		}
		if len(docs) != 1 {
			t.Fatalf("expected 1 document, got %d", len(docs))
		}
		if len(docs[0].BinaryContent) != 0 {
			t.Fatalf("binary payload must not be inlined in lists")
		}
		if !docs[0].HasBinaryContent() {
			t.Fatalf("list entry should still flag binary availability")
		}
	})

	t.Run("content endpoint data", func(t *testing.T) {
		data, contentType, err := s.GetDocumentBinary(doc.ID)
		if err != nil {
			t.Fatalf("GetDocumentBinary returned error: %v", err)
		}
		if contentType != "image/png" || string(data) != string(png) {
			t.Fatalf("unexpected binary payload: %q %v", contentType, data)
		}
	})
}

func TestGormStore_DeleteRoomCascades(t *testing.T) {
	s := newStore(t)
	room, _ := s.CreateRoom(models.CreateRoomRequest{Name: "doomed"})
	doc, err := s.CreateDocument(room.ID, models.CreateDocumentRequest{
		Name: "notes", Type: models.DocWord, Content: "v1",
	})
	if err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}
	if _, err := s.UpdateDocument(doc.ID, models.UpdateDocumentRequest{Content: strptr("v2")}); err != nil {
		t.Fatalf("failed to create revision: %v", err)
	}

	if err := s.DeleteRoom(room.ID); err != nil {
		t.Fatalf("DeleteRoom returned error: %v", err)
	}
	if _, err := s.GetRoomByID(room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected room gone, got %v", err)
	}
	if _, err := s.GetDocument(doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected documents gone, got %v", err)
	}
	var revCount int64
	if err := s.db.Model(&models.DocumentRevision{}).Where("document_id = ?", doc.ID).Count(&revCount).Error; err != nil {
		t.Fatalf("count revisions: %v", err)
	}
	if revCount != 0 {
		t.Fatalf("expected revisions gone, got %d", revCount)
	}
}
