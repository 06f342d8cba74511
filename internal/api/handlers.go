package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"cospace/internal/cache"
	"cospace/internal/models"
	"cospace/internal/session"
	"cospace/internal/store"
	"cospace/internal/syncer"
	"cospace/internal/utils"
)

type Handlers struct {
	log      *zap.Logger
	store    store.Store
	state    *cache.RoomStateCache
	registry *session.Registry
	sync     *syncer.Coordinator

	joinGrace time.Duration
	tokenTTL  time.Duration
}

func NewHandlers(log *zap.Logger, st store.Store, state *cache.RoomStateCache,
	registry *session.Registry, sync *syncer.Coordinator,
	joinGrace, tokenTTL time.Duration) *Handlers {
	return &Handlers{
		log:       log,
		store:     st,
		state:     state,
		registry:  registry,
		sync:      sync,
		joinGrace: joinGrace,
		tokenTTL:  tokenTTL,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

/*** Rooms ***/

// joinResponse pairs the room with an access token that stands in for the
// password on later joins.
type joinResponse struct {
	Room  models.RoomResponse `json:"room"`
	Token string              `json:"token,omitempty"`
}

func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "room name required", http.StatusBadRequest)
		return
	}

	room, err := h.store.CreateRoom(req)
	if errors.Is(err, store.ErrRoomKeyTaken) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The creation token is the only proof of ownership for rooms made
	// without an account, so every room gets one.
	userID := ""
	if req.CreatedBy != nil {
		userID = req.CreatedBy.String()
	}
	resp := joinResponse{Room: room.ToResponse(0)}
	if token, err := utils.GenerateRoomToken(room.ID.String(), userID, h.tokenTTL); err == nil {
		resp.Token = token
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, resp)
}

func (h *Handlers) GetRoomByKey(w http.ResponseWriter, r *http.Request) {
	room, err := h.store.GetRoomByKey(chi.URLParam(r, "roomKey"))
	if errors.Is(err, store.ErrRoomNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	count, _ := h.store.CountDocuments(room.ID)
	writeJSON(w, room.ToResponse(count))
}

// JoinRoom admits a caller over HTTP and issues a room token. Two paths in:
// the correct password, or a bearer token previously issued for this room.
func (h *Handlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req models.JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	room, err := h.store.GetRoomByKey(req.RoomKey)
	if errors.Is(err, store.ErrRoomNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	token, _ := utils.ExtractTokenFromHeader(r.Header.Get("Authorization"))
	userID, ok := h.authorizeJoin(room, req.Password, token)
	if !ok {
		http.Error(w, "invalid room password", http.StatusUnauthorized)
		return
	}

	count, _ := h.store.CountDocuments(room.ID)
	resp := joinResponse{Room: room.ToResponse(count)}
	if fresh, err := utils.GenerateRoomToken(room.ID.String(), userID, h.tokenTTL); err == nil {
		resp.Token = fresh
	}
	writeJSON(w, resp)
}

// authorizeJoin decides whether a caller may enter the room. A token scoped
// to this room bypasses the password check regardless of who holds it; a
// token for the room's creator works for any of their rooms.
func (h *Handlers) authorizeJoin(room *models.Room, password, token string) (string, bool) {
	userID := ""
	if token != "" {
		if claims, err := utils.ValidateRoomToken(token); err == nil {
			userID = claims.UserId
			if claims.RoomId == room.ID.String() {
				return userID, true
			}
			if room.CreatedBy != nil && claims.UserId == room.CreatedBy.String() {
				return userID, true
			}
		}
	}

	if !room.IsPasswordProtected {
		return userID, true
	}
	if password == "" {
		return userID, false
	}
	err := bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password))
	return userID, err == nil
}

func (h *Handlers) ListUserRooms(w http.ResponseWriter, r *http.Request) {
	token, err := utils.ExtractTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	claims, err := utils.ValidateRoomToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	userID, err := uuid.Parse(claims.UserId)
	if err != nil {
		http.Error(w, "invalid token subject", http.StatusUnauthorized)
		return
	}

	rooms, err := h.store.GetUserRooms(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]models.RoomResponse, 0, len(rooms))
	for i := range rooms {
		count, _ := h.store.CountDocuments(rooms[i].ID)
		resp = append(resp, rooms[i].ToResponse(count))
	}
	writeJSON(w, resp)
}

// DeleteRoom tears a room down: persisted rows, pending flush timers, live
// connections and cached state all go. The creator's token is required;
// rooms without a creator take the token issued when the room was made.
func (h *Handlers) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	room, err := h.store.GetRoomByID(roomID)
	if errors.Is(err, store.ErrRoomNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	token, err := utils.ExtractTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	claims, err := utils.ValidateRoomToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if room.CreatedBy != nil {
		if claims.UserId != room.CreatedBy.String() {
			http.Error(w, "only the room creator can delete it", http.StatusForbidden)
			return
		}
	} else if claims.RoomId != room.ID.String() {
		http.Error(w, "only the room creator can delete it", http.StatusForbidden)
		return
	}

	h.sync.CancelRoom(roomID)
	h.registry.Delete(roomID)
	if err := h.store.DeleteRoom(roomID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.forgetState(r.Context(), roomID)
	w.WriteHeader(http.StatusNoContent)
}

/*** Documents ***/

func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	docs, err := h.store.GetDocuments(roomID)
	if errors.Is(err, store.ErrRoomNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]models.DocumentResponse, 0, len(docs))
	for i := range docs {
		resp = append(resp, docs[i].ToResponse())
	}
	writeJSON(w, resp)
}

func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	var req models.CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Type.Valid() {
		http.Error(w, "invalid document type", http.StatusBadRequest)
		return
	}

	// Registered with the coordinator so live rooms see it immediately.
	doc, err := h.sync.ApplyCreate(roomID, req)
	if errors.Is(err, store.ErrRoomNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if errors.Is(err, store.ErrInvalidDocument) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.touchState(r.Context(), roomID, string(doc.Type))
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, doc.ToResponse())
}

func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	doc, err := h.store.GetDocument(docID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, doc.ToResponse())
}

func (h *Handlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	var req models.UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := h.store.UpdateDocument(docID, req)
	if errors.Is(err, store.ErrDocumentNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Keep the live room in step with the store so later joiners are not
	// seeded with superseded content.
	h.sync.ApplyExternalUpdate(roomID, doc)
	if slot, ok := h.registry.Get(roomID); ok {
		h.fanOut(slot, roomID, uuid.Nil, models.Envelope{
			Type:        models.TypeDocumentUpdate,
			RoomID:      roomID.String(),
			DocumentID:  doc.ID.String(),
			Name:        doc.Name,
			Content:     doc.Content,
			ContentType: doc.ContentType,
			Timestamp:   time.Now().UnixMilli(),
		})
	}
	writeJSON(w, doc.ToResponse())
}

func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	err = h.sync.ApplyDelete(roomID, models.Envelope{DocumentID: docID.String()})
	if errors.Is(err, syncer.ErrUnknownDocument) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDocumentContent serves the raw binary payload of an image document.
// List responses only flag its existence; the bytes come from here.
func (h *Handlers) GetDocumentContent(w http.ResponseWriter, r *http.Request) {
	docID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	data, contentType, err := h.store.GetDocumentBinary(docID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

/*** Room WebSocket: join handshake + document fan-out ***/

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (h *Handlers) RoomWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		_ = conn.WriteJSON(errEnvelope(models.CodeRoomNotFound, "invalid room id"))
		return
	}

	// The JOIN must arrive within the grace period or the socket goes away.
	_ = conn.SetReadDeadline(time.Now().Add(h.joinGrace))
	var join models.Envelope
	if err := conn.ReadJSON(&join); err != nil {
		return
	}
	if join.Type != models.TypeJoin {
		_ = conn.WriteJSON(errEnvelope(models.CodeInvalidMessage, "expected JOIN"))
		return
	}

	room, err := h.store.GetRoomByID(roomID)
	if err != nil {
		_ = conn.WriteJSON(errEnvelope(models.CodeRoomNotFound, "room not found"))
		return
	}
	if _, ok := h.authorizeJoin(room, join.Password, join.Token); !ok {
		_ = conn.WriteJSON(errEnvelope(models.CodeUnauthorized, "invalid room password"))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	username := join.Username
	if username == "" {
		username = "anonymous"
	}
	client := session.NewClient(conn, username)
	go client.WritePump()

	slot := h.registry.GetOrCreate(roomID)
	if !slot.Join(client) {
		client.Close()
		return
	}
	defer func() {
		left := slot.Leave(client.ID)
		client.Close()
		// Pending flushes survive the disconnect; only the peers are told.
		if left > 0 {
			slot.Broadcast(client.ID, models.Envelope{
				Type:      models.TypeUserLeft,
				RoomID:    roomID.String(),
				Username:  username,
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}()

	docs, err := h.sync.SeedRoom(roomID)
	if err != nil {
		h.log.Error("seeding room documents failed",
			zap.String("roomId", roomID.String()), zap.Error(err))
	}
	_ = client.Send(models.Envelope{
		Type:      models.TypeConnected,
		RoomID:    roomID.String(),
		Username:  username,
		Documents: docs,
		Peers:     slot.Peers(client.ID),
		Timestamp: time.Now().UnixMilli(),
	})
	dropped := slot.Broadcast(client.ID, models.Envelope{
		Type:      models.TypeUserJoined,
		RoomID:    roomID.String(),
		Username:  username,
		Peers:     []models.PeerInfo{client.Info()},
		Timestamp: time.Now().UnixMilli(),
	})
	h.announceDropped(slot, roomID, dropped)
	h.touchState(r.Context(), roomID, "")

	h.readLoop(conn, client, slot, roomID)
}

// readLoop is the per-connection event loop. Messages from one connection
// are applied in arrival order, which is what keeps a sender's edits
// causally ordered for every peer.
func (h *Handlers) readLoop(conn *websocket.Conn, client *session.Client, slot *session.Room, roomID uuid.UUID) {
	notify := func(env models.Envelope) { _ = client.Send(env) }

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		// Bare {documentId, content} messages are document updates.
		if env.Type == "" && env.DocumentID != "" {
			env.Type = models.TypeDocumentUpdate
		}
		env.RoomID = roomID.String()
		env.Username = client.Username
		env.Timestamp = time.Now().UnixMilli()
		// Credentials never travel past the join handshake.
		env.Password, env.Token = "", ""

		switch env.Type {
		case models.TypeDocumentUpdate, models.TypeDocumentCreate:
			// Explicit creates under a temp id take the same staged path
			// as updates; the coordinator tells them apart by the id.
			if err := h.sync.ApplyUpdate(roomID, env, notify); err != nil {
				_ = client.Send(docError(err, env.DocumentID))
				continue
			}
			h.fanOut(slot, roomID, client.ID, env)
			h.touchState(context.Background(), roomID, env.DocType)

		case models.TypeDocumentRename:
			doc, err := h.sync.ApplyRename(roomID, env)
			if err != nil {
				_ = client.Send(docError(err, env.DocumentID))
				continue
			}
			if doc != nil {
				env.DocumentID = doc.ID.String()
				env.Name = doc.Name
			}
			h.fanOut(slot, roomID, client.ID, env)

		case models.TypeDocumentDelete:
			if err := h.sync.ApplyDelete(roomID, env); err != nil {
				_ = client.Send(docError(err, env.DocumentID))
				continue
			}
			h.fanOut(slot, roomID, client.ID, env)

		case models.TypeJoin:
			// Already joined; a repeated JOIN is a no-op and must never
			// reach peers carrying the client's credentials.
			h.log.Warn("duplicate JOIN ignored",
				zap.String("roomId", roomID.String()),
				zap.String("connectionId", client.ID.String()))

		case models.TypeSave:
			// Explicit save: flush every pending write in the room now.
			h.sync.Flush(roomID)

		case models.TypeConnected, models.TypeUserJoined, models.TypeUserLeft,
			models.TypeDocumentPromoted, models.TypeSyncStatus, models.TypeError:
			// Server-reserved types; clients cannot spoof them.

		case models.TypeLeave:
			return

		default:
			// Unknown types pass through to peers untouched; cursors,
			// chat and whatever else clients invent ride for free.
			h.fanOut(slot, roomID, client.ID, env)
		}
	}
}

func (h *Handlers) fanOut(slot *session.Room, roomID uuid.UUID, senderID uuid.UUID, env models.Envelope) {
	dropped := slot.Broadcast(senderID, env)
	h.announceDropped(slot, roomID, dropped)
}

// announceDropped finishes off peers evicted mid-broadcast: close their
// sockets and tell the survivors.
func (h *Handlers) announceDropped(slot *session.Room, roomID uuid.UUID, dropped []*session.Client) {
	for _, c := range dropped {
		c.Close()
		slot.Broadcast(c.ID, models.Envelope{
			Type:      models.TypeUserLeft,
			RoomID:    roomID.String(),
			Username:  c.Username,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

/*** helpers ***/

// touchState refreshes the Redis continuity record. Best effort: failures
// are logged and swallowed.
func (h *Handlers) touchState(ctx context.Context, roomID uuid.UUID, editorType string) {
	if h.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count := h.sync.DocumentCount(roomID)
	if err := h.state.Touch(ctx, roomID.String(), editorType, count); err != nil {
		h.log.Warn("room state cache update failed",
			zap.String("roomId", roomID.String()), zap.Error(err))
	}
}

func (h *Handlers) forgetState(ctx context.Context, roomID uuid.UUID) {
	if h.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.state.Forget(ctx, roomID.String()); err != nil {
		h.log.Warn("room state cache delete failed",
			zap.String("roomId", roomID.String()), zap.Error(err))
	}
}

func docError(err error, documentID string) models.Envelope {
	code := models.CodeInvalidMessage
	if errors.Is(err, syncer.ErrUnknownDocument) {
		code = models.CodeUnknownDocument
	}
	env := errEnvelope(code, err.Error())
	env.DocumentID = documentID
	return env
}

func errEnvelope(code, msg string) models.Envelope {
	return models.Envelope{
		Type:      models.TypeError,
		Code:      code,
		Message:   msg,
		Timestamp: time.Now().UnixMilli(),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
