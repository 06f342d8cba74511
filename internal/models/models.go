package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentType string

const (
	DocCode         DocumentType = "code"
	DocWord         DocumentType = "word"
	DocSpreadsheet  DocumentType = "spreadsheet"
	DocPresentation DocumentType = "presentation"
	DocFreeform     DocumentType = "freeform"
	DocCustom       DocumentType = "custom"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocCode, DocWord, DocSpreadsheet, DocPresentation, DocFreeform, DocCustom:
		return true
	}
	return false
}

// Room is a named collaboration session, addressed by a human-readable key.
// The key is stored uppercase; lookups are case-insensitive.
type Room struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RoomKey             string     `gorm:"size:10;uniqueIndex;not null" json:"roomKey"`
	Name                string     `gorm:"size:100;not null" json:"name"`
	IsPasswordProtected bool       `gorm:"not null" json:"isPasswordProtected"`
	PasswordHash        string     `json:"-"`
	CreatedBy           *uuid.UUID `gorm:"type:uuid" json:"createdBy,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func (r *Room) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Document is a single editable artifact of one editor type within a room.
// Image payloads live in BinaryContent and are never inlined in list
// responses; clients fetch them by id.
type Document struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID        uuid.UUID    `gorm:"type:uuid;index;not null" json:"roomId"`
	Name          string       `gorm:"size:100;not null" json:"name"`
	Type          DocumentType `gorm:"size:20;not null" json:"type"`
	Content       string       `gorm:"type:text" json:"content"`
	ContentType   string       `gorm:"size:100" json:"contentType,omitempty"`
	BinaryContent []byte       `json:"-"`
	CreatedBy     *uuid.UUID   `gorm:"type:uuid" json:"createdBy,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func (d *Document) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (d *Document) HasBinaryContent() bool {
	return strings.HasPrefix(d.ContentType, "image/")
}

// DocumentRevision keeps the previous text content of a document each time
// an update replaces it.
type DocumentRevision struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID     uuid.UUID `gorm:"type:uuid;index;not null" json:"documentId"`
	RevisionNumber int       `gorm:"not null" json:"revisionNumber"`
	ContentDiff    string    `gorm:"type:text" json:"contentDiff"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (r *DocumentRevision) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RoomState is the cached session-continuity record for a room. Best effort
// only; Document records stay authoritative.
type RoomState struct {
	RoomID         string    `json:"roomId"`
	LastEditorType string    `json:"lastEditorType,omitempty"`
	DocumentCount  int64     `json:"documentCount"`
	LastAccessed   time.Time `json:"lastAccessed"`
}

/*** WebSocket envelope ***/

const (
	TypeJoin             = "JOIN"
	TypeLeave            = "LEAVE"
	TypeConnected        = "CONNECTED"
	TypeUserJoined       = "USER_JOINED"
	TypeUserLeft         = "USER_LEFT"
	TypeDocumentUpdate   = "DOCUMENT_UPDATE"
	TypeDocumentCreate   = "DOCUMENT_CREATE"
	TypeDocumentRename   = "DOCUMENT_RENAME"
	TypeDocumentDelete   = "DOCUMENT_DELETE"
	TypeDocumentPromoted = "DOCUMENT_PROMOTED"
	TypeSave             = "SAVE"
	TypeSyncStatus       = "SYNC_STATUS"
	TypeError            = "ERROR"
)

// Error codes carried on ERROR envelopes.
const (
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeUnknownDocument = "UNKNOWN_DOCUMENT"
	CodeInvalidMessage  = "INVALID_MESSAGE"
)

// Sync status values carried on SYNC_STATUS envelopes.
const (
	SyncPending  = "pending"
	SyncSaved    = "saved"
	SyncRetrying = "retrying"
)

// Envelope is the single wire format for room traffic. Unused fields are
// omitted; a message carrying documentId and content but no type is treated
// as a DOCUMENT_UPDATE.
type Envelope struct {
	Type        string     `json:"type,omitempty"`
	Code        string     `json:"code,omitempty"`
	RoomID      string     `json:"roomId,omitempty"`
	DocumentID  string     `json:"documentId,omitempty"`
	TempID      string     `json:"tempId,omitempty"`
	Name        string     `json:"name,omitempty"`
	DocType     string     `json:"docType,omitempty"`
	Content     string     `json:"content,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	Username    string     `json:"username,omitempty"`
	Password    string     `json:"password,omitempty"`
	Token       string     `json:"token,omitempty"`
	Status      string     `json:"status,omitempty"`
	Message     string     `json:"message,omitempty"`
	Peers       []PeerInfo `json:"peers,omitempty"`
	Documents   []Document `json:"documents,omitempty"`
	Timestamp   int64      `json:"timestamp,omitempty"`
}

// PeerInfo describes one active connection in a room.
type PeerInfo struct {
	ConnectionID string    `json:"connectionId"`
	Username     string    `json:"username"`
	JoinedAt     time.Time `json:"joinedAt"`
}

/*** Document references ***/

// TempIDPrefix marks client-generated placeholder ids for documents that
// have not been persisted yet.
const TempIDPrefix = "temp-"

var ErrInvalidDocumentRef = errors.New("invalid document reference")

// DocumentRef distinguishes client-local temporary ids from server-assigned
// ids, so callers never have to shape-sniff id strings.
type DocumentRef struct {
	tempID string
	id     uuid.UUID
}

func ParseDocumentRef(s string) (DocumentRef, error) {
	if strings.HasPrefix(s, TempIDPrefix) {
		return DocumentRef{tempID: s}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return DocumentRef{}, ErrInvalidDocumentRef
	}
	return DocumentRef{id: id}, nil
}

func TemporaryRef(tempID string) DocumentRef { return DocumentRef{tempID: tempID} }
func PersistedRef(id uuid.UUID) DocumentRef  { return DocumentRef{id: id} }

func (r DocumentRef) IsTemporary() bool { return r.tempID != "" }
func (r DocumentRef) TempID() string    { return r.tempID }
func (r DocumentRef) UUID() uuid.UUID   { return r.id }

func (r DocumentRef) String() string {
	if r.tempID != "" {
		return r.tempID
	}
	return r.id.String()
}

/*** HTTP request/response shapes ***/

type CreateRoomRequest struct {
	Name      string     `json:"name"`
	RoomKey   string     `json:"roomKey,omitempty"`
	Password  string     `json:"password,omitempty"`
	CreatedBy *uuid.UUID `json:"createdById,omitempty"`
}

type JoinRoomRequest struct {
	RoomKey  string `json:"roomKey"`
	Password string `json:"password,omitempty"`
}

// RoomResponse is the public view of a room; it never carries the password
// hash.
type RoomResponse struct {
	ID                  uuid.UUID  `json:"id"`
	RoomKey             string     `json:"roomKey"`
	Name                string     `json:"name"`
	IsPasswordProtected bool       `json:"isPasswordProtected"`
	CreatedBy           *uuid.UUID `json:"createdById,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	DocumentCount       int64      `json:"documentCount"`
}

type CreateDocumentRequest struct {
	Name          string       `json:"name"`
	Type          DocumentType `json:"type"`
	Content       string       `json:"content"`
	ContentType   string       `json:"contentType,omitempty"`
	BinaryContent []byte       `json:"binaryContent,omitempty"`
	CreatedBy     *uuid.UUID   `json:"createdById,omitempty"`
}

type UpdateDocumentRequest struct {
	Name          *string `json:"name,omitempty"`
	Content       *string `json:"content,omitempty"`
	ContentType   string  `json:"contentType,omitempty"`
	BinaryContent []byte  `json:"binaryContent,omitempty"`
}

// DocumentResponse mirrors Document but flags binary payloads instead of
// inlining them.
type DocumentResponse struct {
	ID               uuid.UUID    `json:"id"`
	RoomID           uuid.UUID    `json:"roomId"`
	Name             string       `json:"name"`
	Type             DocumentType `json:"type"`
	Content          string       `json:"content"`
	ContentType      string       `json:"contentType,omitempty"`
	HasBinaryContent bool         `json:"hasBinaryContent"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

func (d *Document) ToResponse() DocumentResponse {
	return DocumentResponse{
		ID:               d.ID,
		RoomID:           d.RoomID,
		Name:             d.Name,
		Type:             d.Type,
		Content:          d.Content,
		ContentType:      d.ContentType,
		HasBinaryContent: d.HasBinaryContent(),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func (r *Room) ToResponse(documentCount int64) RoomResponse {
	return RoomResponse{
		ID:                  r.ID,
		RoomKey:             r.RoomKey,
		Name:                r.Name,
		IsPasswordProtected: r.IsPasswordProtected,
		CreatedBy:           r.CreatedBy,
		CreatedAt:           r.CreatedAt,
		DocumentCount:       documentCount,
	}
}
