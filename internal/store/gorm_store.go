package store

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"cospace/internal/models"
)

const (
	roomKeyLength  = 6
	roomKeyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// documentListColumns excludes binary_content so document lists stay small;
// binary payloads are fetched by id through GetDocumentBinary.
var documentListColumns = []string{
	"id", "room_id", "name", "type", "content", "content_type",
	"created_by", "created_at", "updated_at",
}

// GormStore implements Store on a relational database.
type GormStore struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewGormStore(db *gorm.DB, log *zap.Logger) *GormStore {
	return &GormStore{db: db, log: log}
}

func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Room{}, &models.Document{}, &models.DocumentRevision{})
}

/*** Rooms ***/

func (s *GormStore) CreateRoom(req models.CreateRoomRequest) (*models.Room, error) {
	room := models.Room{
		Name:      req.Name,
		CreatedBy: req.CreatedBy,
	}

	if req.RoomKey != "" {
		key := strings.ToUpper(req.RoomKey)
		var count int64
		if err := s.db.Model(&models.Room{}).Where("room_key = ?", key).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrRoomKeyTaken
		}
		room.RoomKey = key
	} else {
		key, err := s.generateRoomKey()
		if err != nil {
			return nil, err
		}
		room.RoomKey = key
	}

	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash room password: %w", err)
		}
		room.IsPasswordProtected = true
		room.PasswordHash = string(hash)
	}

	if err := s.db.Create(&room).Error; err != nil {
		return nil, err
	}
	s.log.Info("room created",
		zap.String("roomId", room.ID.String()),
		zap.String("roomKey", room.RoomKey),
		zap.Bool("passwordProtected", room.IsPasswordProtected))
	return &room, nil
}

func (s *GormStore) GetRoomByID(id uuid.UUID) (*models.Room, error) {
	var room models.Room
	err := s.db.First(&room, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) GetRoomByKey(key string) (*models.Room, error) {
	var room models.Room
	err := s.db.First(&room, "room_key = ?", strings.ToUpper(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *GormStore) GetUserRooms(userID uuid.UUID) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.
		Where("created_by = ?", userID).
		Order("created_at DESC").
		Find(&rooms).Error
	return rooms, err
}

// DeleteRoom is administrative; documents and revisions go with the room.
func (s *GormStore) DeleteRoom(id uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.First(&room, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}

		var docIDs []uuid.UUID
		if err := tx.Model(&models.Document{}).Where("room_id = ?", id).Pluck("id", &docIDs).Error; err != nil {
			return err
		}
		if len(docIDs) > 0 {
			if err := tx.Delete(&models.DocumentRevision{}, "document_id IN ?", docIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Document{}, "room_id = ?", id).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&room).Error
	})
}

func (s *GormStore) CountDocuments(roomID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.Model(&models.Document{}).Where("room_id = ?", roomID).Count(&count).Error
	return count, err
}

func (s *GormStore) generateRoomKey() (string, error) {
	buf := make([]byte, roomKeyLength)
	for attempt := 0; attempt < 20; attempt++ {
		for i := range buf {
			buf[i] = roomKeyCharset[rand.Intn(len(roomKeyCharset))]
		}
		key := string(buf)

		var count int64
		if err := s.db.Model(&models.Room{}).Where("room_key = ?", key).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return key, nil
		}
	}
	return "", errors.New("could not generate a unique room key")
}

/*** Documents ***/

func (s *GormStore) CreateDocument(roomID uuid.UUID, req models.CreateDocumentRequest) (*models.Document, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidDocument, req.Type)
	}
	if _, err := s.GetRoomByID(roomID); err != nil {
		return nil, err
	}

	doc := models.Document{
		RoomID:    roomID,
		Name:      req.Name,
		Type:      req.Type,
		CreatedBy: req.CreatedBy,
	}
	if strings.HasPrefix(req.ContentType, "image/") {
		doc.ContentType = req.ContentType
		doc.BinaryContent = req.BinaryContent
	} else {
		doc.Content = req.Content
		doc.ContentType = req.ContentType
	}

	if err := s.db.Create(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *GormStore) GetDocuments(roomID uuid.UUID) ([]models.Document, error) {
	if _, err := s.GetRoomByID(roomID); err != nil {
		return nil, err
	}
	var docs []models.Document
	err := s.db.
		Select(documentListColumns).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Find(&docs).Error
	return docs, err
}

func (s *GormStore) GetDocument(id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := s.db.Select(documentListColumns).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *GormStore) UpdateDocument(id uuid.UUID, req models.UpdateDocumentRequest) (*models.Document, error) {
	var doc models.Document
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&doc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDocumentNotFound
			}
			return err
		}

		// A content-changing text update records the prior content as a
		// revision before it is replaced.
		if req.Content != nil && doc.Content != "" && doc.Content != *req.Content {
			if err := s.createRevision(tx, &doc); err != nil {
				return err
			}
		}

		if req.Name != nil {
			doc.Name = *req.Name
		}
		if strings.HasPrefix(req.ContentType, "image/") {
			doc.ContentType = req.ContentType
			doc.BinaryContent = req.BinaryContent
			doc.Content = ""
		} else if req.Content != nil {
			doc.Content = *req.Content
			doc.BinaryContent = nil
			if req.ContentType != "" {
				doc.ContentType = req.ContentType
			}
		}

		return tx.Save(&doc).Error
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *GormStore) DeleteDocument(id uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.Document{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrDocumentNotFound
		}
		return tx.Delete(&models.DocumentRevision{}, "document_id = ?", id).Error
	})
}

func (s *GormStore) GetDocumentBinary(id uuid.UUID) ([]byte, string, error) {
	var doc models.Document
	err := s.db.Select("id", "content_type", "binary_content").First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrDocumentNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return doc.BinaryContent, doc.ContentType, nil
}

func (s *GormStore) createRevision(tx *gorm.DB, doc *models.Document) error {
	var maxRevision int
	err := tx.Model(&models.DocumentRevision{}).
		Where("document_id = ?", doc.ID).
		Select("COALESCE(MAX(revision_number), 0)").
		Scan(&maxRevision).Error
	if err != nil {
		return err
	}

	revision := models.DocumentRevision{
		DocumentID:     doc.ID,
		RevisionNumber: maxRevision + 1,
		ContentDiff:    doc.Content,
	}
	return tx.Create(&revision).Error
}
