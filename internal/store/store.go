package store

import (
	"errors"

	"github.com/google/uuid"

	"cospace/internal/models"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrRoomKeyTaken     = errors.New("room key already in use")
	ErrInvalidDocument  = errors.New("invalid document")
)

// RoomStore is the durable room table. Only persisted data authoritatively
// defines a room's existence; the in-memory registry is a view over it.
type RoomStore interface {
	CreateRoom(req models.CreateRoomRequest) (*models.Room, error)
	GetRoomByID(id uuid.UUID) (*models.Room, error)
	GetRoomByKey(key string) (*models.Room, error)
	GetUserRooms(userID uuid.UUID) ([]models.Room, error)
	DeleteRoom(id uuid.UUID) error
	CountDocuments(roomID uuid.UUID) (int64, error)
}

// DocumentStore owns document durability. Implementations must make each
// write atomic; the sync coordinator serializes writes per document id.
type DocumentStore interface {
	CreateDocument(roomID uuid.UUID, req models.CreateDocumentRequest) (*models.Document, error)
	GetDocuments(roomID uuid.UUID) ([]models.Document, error)
	GetDocument(id uuid.UUID) (*models.Document, error)
	UpdateDocument(id uuid.UUID, req models.UpdateDocumentRequest) (*models.Document, error)
	DeleteDocument(id uuid.UUID) error
	GetDocumentBinary(id uuid.UUID) ([]byte, string, error)
}

// Store is the full persistence surface the sync core depends on.
type Store interface {
	RoomStore
	DocumentStore
}
