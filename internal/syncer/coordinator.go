package syncer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cospace/internal/metrics"
	"cospace/internal/models"
	"cospace/internal/store"
)

// DefaultDebounce is the quiet period that coalesces rapid edits to the
// same document into a single persistence write.
const DefaultDebounce = 2 * time.Second

var (
	ErrUnknownDocument = errors.New("unknown document")
	ErrRoomClosed      = errors.New("room closed")
)

// StatusFunc receives non-fatal sync notifications (SYNC_STATUS,
// DOCUMENT_PROMOTED) addressed to the editing client. Persistence trouble
// reaches the client only through here, never as a session-ending error.
type StatusFunc func(models.Envelope)

type docState int

const (
	StateClean docState = iota
	StateDirty
	StatePersisting
)

func (s docState) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StatePersisting:
		return "persisting"
	default:
		return "clean"
	}
}

type docEntry struct {
	doc       models.Document
	state     docState
	redirty   bool // an edit landed while a write was in flight
	timer     *time.Timer
	lastSaved time.Time
	notify    StatusFunc
}

// stagedCreate is a document that so far exists only under a client-local
// temporary id. It becomes addressable by other clients once the debounced
// create succeeds and the id is promoted.
type stagedCreate struct {
	name        string
	docType     models.DocumentType
	content     string
	contentType string
	timer       *time.Timer
	persisting  bool
	redirty     bool
	notify      StatusFunc
}

type roomDocs struct {
	mu         sync.Mutex
	seeded     bool
	closed     bool
	docs       map[uuid.UUID]*docEntry
	staged     map[string]*stagedCreate
	promotions map[string]uuid.UUID
}

// Coordinator mediates between the in-memory document snapshots that feed
// broadcasts and the durable store. Per-room locks keep rooms independent;
// the coordinator's own lock only guards the room map.
type Coordinator struct {
	store    store.DocumentStore
	log      *zap.Logger
	debounce time.Duration

	mu    sync.Mutex
	rooms map[uuid.UUID]*roomDocs
}

func New(st store.DocumentStore, log *zap.Logger, debounce time.Duration) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Coordinator{
		store:    st,
		log:      log,
		debounce: debounce,
		rooms:    make(map[uuid.UUID]*roomDocs),
	}
}

func (c *Coordinator) room(roomID uuid.UUID) *roomDocs {
	c.mu.Lock()
	defer c.mu.Unlock()
	rd, ok := c.rooms[roomID]
	if !ok {
		rd = &roomDocs{
			docs:       make(map[uuid.UUID]*docEntry),
			staged:     make(map[string]*stagedCreate),
			promotions: make(map[string]uuid.UUID),
		}
		c.rooms[roomID] = rd
	}
	return rd
}

// SeedRoom loads the room's persisted documents into memory on first use
// (cold start) and returns the current snapshot for the joining client.
func (c *Coordinator) SeedRoom(roomID uuid.UUID) ([]models.Document, error) {
	rd := c.room(roomID)
	rd.mu.Lock()
	defer rd.mu.Unlock()

	if rd.closed {
		return nil, ErrRoomClosed
	}
	if !rd.seeded {
		docs, err := c.store.GetDocuments(roomID)
		if err != nil {
			return nil, fmt.Errorf("seed room %s: %w", roomID, err)
		}
		for i := range docs {
			doc := docs[i]
			rd.docs[doc.ID] = &docEntry{doc: doc, state: StateClean}
		}
		rd.seeded = true
	}
	return rd.snapshotLocked(), nil
}

// Documents returns the in-memory snapshot (read-your-writes view).
func (c *Coordinator) Documents(roomID uuid.UUID) []models.Document {
	rd := c.room(roomID)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.snapshotLocked()
}

func (rd *roomDocs) snapshotLocked() []models.Document {
	docs := make([]models.Document, 0, len(rd.docs))
	for _, e := range rd.docs {
		docs = append(docs, e.doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID.String() < docs[j].ID.String()
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs
}

// Resolve maps a wire document id to its current ref, following temporary
// id promotions. Edits that still reference a promoted temp id are
// re-mapped rather than dropped.
func (c *Coordinator) Resolve(roomID uuid.UUID, wireID string) (models.DocumentRef, error) {
	ref, err := models.ParseDocumentRef(wireID)
	if err != nil {
		return models.DocumentRef{}, fmt.Errorf("%w: %q", ErrUnknownDocument, wireID)
	}
	if !ref.IsTemporary() {
		return ref, nil
	}

	rd := c.room(roomID)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if id, ok := rd.promotions[ref.TempID()]; ok {
		return models.PersistedRef(id), nil
	}
	return ref, nil
}

// ApplyUpdate stages a whole-value content replacement. Known ids turn
// Dirty and get a debounced write; temporary ids stage a create instead.
// The in-memory snapshot is updated before the caller broadcasts, so the
// sender reads its own write immediately.
func (c *Coordinator) ApplyUpdate(roomID uuid.UUID, env models.Envelope, notify StatusFunc) error {
	ref, err := c.Resolve(roomID, env.DocumentID)
	if err != nil {
		return err
	}

	rd := c.room(roomID)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.closed {
		return ErrRoomClosed
	}

	if ref.IsTemporary() {
		c.stageCreateLocked(rd, roomID, ref.TempID(), env, notify)
		c.sendStatus(notify, ref.TempID(), models.SyncPending)
		return nil
	}

	entry, ok := rd.docs[ref.UUID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, env.DocumentID)
	}

	entry.doc.Content = env.Content
	if env.ContentType != "" {
		entry.doc.ContentType = env.ContentType
	}
	entry.doc.UpdatedAt = time.Now()
	entry.notify = notify

	if entry.state == StatePersisting {
		entry.redirty = true
	} else {
		entry.state = StateDirty
	}
	c.armDocTimerLocked(rd, roomID, ref.UUID(), entry)
	c.sendStatus(notify, env.DocumentID, models.SyncPending)
	return nil
}

func (c *Coordinator) stageCreateLocked(rd *roomDocs, roomID uuid.UUID, tempID string, env models.Envelope, notify StatusFunc) {
	sc, ok := rd.staged[tempID]
	if !ok {
		docType := models.DocumentType(env.DocType)
		if !docType.Valid() {
			docType = models.DocCustom
		}
		name := env.Name
		if name == "" {
			name = "Untitled"
		}
		sc = &stagedCreate{name: name, docType: docType}
		rd.staged[tempID] = sc
	}
	sc.content = env.Content
	if env.ContentType != "" {
		sc.contentType = env.ContentType
	}
	if env.Name != "" {
		sc.name = env.Name
	}
	sc.notify = notify
	if sc.persisting {
		sc.redirty = true
		return
	}
	if sc.timer == nil {
		sc.timer = time.AfterFunc(c.debounce, func() { c.flushCreate(roomID, tempID) })
	} else {
		sc.timer.Reset(c.debounce)
	}
}

func (c *Coordinator) armDocTimerLocked(rd *roomDocs, roomID uuid.UUID, id uuid.UUID, entry *docEntry) {
	if entry.timer == nil {
		entry.timer = time.AfterFunc(c.debounce, func() { c.flushDoc(roomID, id) })
	} else {
		entry.timer.Reset(c.debounce)
	}
}

// flushDoc runs on the debounce timer. Exactly one write per document is
// ever in flight: the Dirty -> Persisting transition happens under the
// room lock, and a timer firing mid-write finds Persisting and backs off.
func (c *Coordinator) flushDoc(roomID uuid.UUID, id uuid.UUID) {
	rd := c.room(roomID)

	rd.mu.Lock()
	entry, ok := rd.docs[id]
	if !ok || rd.closed || entry.state != StateDirty {
		rd.mu.Unlock()
		return
	}
	entry.state = StatePersisting
	content := entry.doc.Content
	contentType := entry.doc.ContentType
	notify := entry.notify
	rd.mu.Unlock()

	_, err := c.store.UpdateDocument(id, models.UpdateDocumentRequest{
		Content:     &content,
		ContentType: contentType,
	})

	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.closed {
		return
	}
	if entry, ok = rd.docs[id]; !ok {
		return
	}

	if err != nil {
		// Transient by assumption: stay Dirty, retry on the next timer
		// tick or the next edit. The client keeps typing either way.
		metrics.FlushFailed()
		c.log.Warn("document persist failed, will retry",
			zap.String("roomId", roomID.String()),
			zap.String("documentId", id.String()),
			zap.Error(err))
		entry.state = StateDirty
		c.armDocTimerLocked(rd, roomID, id, entry)
		c.sendStatus(notify, id.String(), models.SyncRetrying)
		return
	}

	metrics.FlushSucceeded()
	entry.lastSaved = time.Now()
	if entry.redirty {
		entry.redirty = false
		entry.state = StateDirty
		c.armDocTimerLocked(rd, roomID, id, entry)
		return
	}
	entry.state = StateClean
	c.sendStatus(notify, id.String(), models.SyncSaved)
}

// flushCreate persists a staged create and promotes the temporary id. The
// originating client is told the server id so later edits target it.
func (c *Coordinator) flushCreate(roomID uuid.UUID, tempID string) {
	rd := c.room(roomID)

	rd.mu.Lock()
	sc, ok := rd.staged[tempID]
	if !ok || rd.closed || sc.persisting {
		rd.mu.Unlock()
		return
	}
	sc.persisting = true
	req := models.CreateDocumentRequest{
		Name:        sc.name,
		Type:        sc.docType,
		Content:     sc.content,
		ContentType: sc.contentType,
	}
	notify := sc.notify
	rd.mu.Unlock()

	doc, err := c.store.CreateDocument(roomID, req)

	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.closed {
		return
	}
	sc, ok = rd.staged[tempID]
	if !ok {
		return
	}

	if err != nil {
		metrics.FlushFailed()
		c.log.Warn("document create failed, will retry",
			zap.String("roomId", roomID.String()),
			zap.String("tempId", tempID),
			zap.Error(err))
		sc.persisting = false
		if sc.timer == nil {
			sc.timer = time.AfterFunc(c.debounce, func() { c.flushCreate(roomID, tempID) })
		} else {
			sc.timer.Reset(c.debounce)
		}
		c.sendStatus(notify, tempID, models.SyncRetrying)
		return
	}

	metrics.FlushSucceeded()
	delete(rd.staged, tempID)
	rd.promotions[tempID] = doc.ID

	entry := &docEntry{doc: *doc, state: StateClean, lastSaved: time.Now(), notify: sc.notify}
	if sc.redirty {
		// Content changed while the create was in flight; keep the
		// latest and schedule a follow-up write under the real id.
		entry.doc.Content = sc.content
		entry.state = StateDirty
		c.armDocTimerLocked(rd, roomID, doc.ID, entry)
	}
	rd.docs[doc.ID] = entry

	if notify != nil {
		notify(models.Envelope{
			Type:       models.TypeDocumentPromoted,
			RoomID:     roomID.String(),
			TempID:     tempID,
			DocumentID: doc.ID.String(),
			Name:       doc.Name,
			DocType:    string(doc.Type),
			Timestamp:  time.Now().UnixMilli(),
		})
	}
}

// ApplyCreate persists a document immediately (explicit create, as opposed
// to the staged temp-id path) and registers it in the snapshot.
func (c *Coordinator) ApplyCreate(roomID uuid.UUID, req models.CreateDocumentRequest) (*models.Document, error) {
	doc, err := c.store.CreateDocument(roomID, req)
	if err != nil {
		return nil, err
	}

	rd := c.room(roomID)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.closed {
		return nil, ErrRoomClosed
	}
	rd.docs[doc.ID] = &docEntry{doc: *doc, state: StateClean, lastSaved: time.Now()}
	return doc, nil
}

// ApplyExternalUpdate records a write that reached the store outside the
// room's socket traffic (REST update), so live snapshots and later joiners
// see it. Last write wins: it supersedes any unflushed socket edit.
func (c *Coordinator) ApplyExternalUpdate(roomID uuid.UUID, doc *models.Document) {
	rd := c.room(roomID)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.closed {
		return
	}

	entry, ok := rd.docs[doc.ID]
	if !ok {
		if rd.seeded {
			rd.docs[doc.ID] = &docEntry{doc: *doc, state: StateClean, lastSaved: time.Now()}
		}
		return
	}

	entry.doc = *doc
	entry.lastSaved = time.Now()
	switch entry.state {
	case StateDirty:
		// The store already holds the newer value; the pending flush
		// would clobber it with older content.
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.state = StateClean
		entry.redirty = false
	case StatePersisting:
		// An older write is in flight; a follow-up flush re-persists the
		// refreshed snapshot so the store converges on this content.
		entry.redirty = true
	}
}

// ApplyRename persists immediately; renames are not debounced. A rename of
// a still-staged temporary document only updates the staged name. The
// returned document is nil in that case.
func (c *Coordinator) ApplyRename(roomID uuid.UUID, env models.Envelope) (*models.Document, error) {
	ref, err := c.Resolve(roomID, env.DocumentID)
	if err != nil {
		return nil, err
	}

	rd := c.room(roomID)
	if ref.IsTemporary() {
		rd.mu.Lock()
		defer rd.mu.Unlock()
		sc, ok := rd.staged[ref.TempID()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, env.DocumentID)
		}
		sc.name = env.Name
		return nil, nil
	}

	name := env.Name
	doc, err := c.store.UpdateDocument(ref.UUID(), models.UpdateDocumentRequest{Name: &name})
	if errors.Is(err, store.ErrDocumentNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, env.DocumentID)
	}
	if err != nil {
		return nil, err
	}

	rd.mu.Lock()
	defer rd.mu.Unlock()
	if entry, ok := rd.docs[ref.UUID()]; ok {
		entry.doc.Name = doc.Name
	}
	return doc, nil
}

// ApplyDelete removes the document immediately; deletion is the terminal
// state and cancels any pending flush.
func (c *Coordinator) ApplyDelete(roomID uuid.UUID, env models.Envelope) error {
	ref, err := c.Resolve(roomID, env.DocumentID)
	if err != nil {
		return err
	}

	rd := c.room(roomID)
	if ref.IsTemporary() {
		rd.mu.Lock()
		defer rd.mu.Unlock()
		sc, ok := rd.staged[ref.TempID()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDocument, env.DocumentID)
		}
		if sc.timer != nil {
			sc.timer.Stop()
		}
		delete(rd.staged, ref.TempID())
		return nil
	}

	err = c.store.DeleteDocument(ref.UUID())
	if errors.Is(err, store.ErrDocumentNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, env.DocumentID)
	}
	if err != nil {
		return err
	}

	rd.mu.Lock()
	defer rd.mu.Unlock()
	if entry, ok := rd.docs[ref.UUID()]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(rd.docs, ref.UUID())
	}
	return nil
}

// Flush forces every pending write in the room out now (explicit save).
func (c *Coordinator) Flush(roomID uuid.UUID) {
	rd := c.room(roomID)

	rd.mu.Lock()
	var dirty []uuid.UUID
	for id, entry := range rd.docs {
		if entry.state == StateDirty {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			dirty = append(dirty, id)
		}
	}
	var staged []string
	for tempID, sc := range rd.staged {
		if !sc.persisting {
			if sc.timer != nil {
				sc.timer.Stop()
			}
			staged = append(staged, tempID)
		}
	}
	rd.mu.Unlock()

	for _, id := range dirty {
		c.flushDoc(roomID, id)
	}
	for _, tempID := range staged {
		c.flushCreate(roomID, tempID)
	}
}

// CancelRoom stops all pending timers and drops the room's state
// (administrative room deletion). Unflushed edits are discarded.
func (c *Coordinator) CancelRoom(roomID uuid.UUID) {
	c.mu.Lock()
	rd, ok := c.rooms[roomID]
	if ok {
		delete(c.rooms, roomID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.closed = true
	for _, entry := range rd.docs {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	for _, sc := range rd.staged {
		if sc.timer != nil {
			sc.timer.Stop()
		}
	}
}

// DocState reports the persistence state of one document as a string
// (clean, dirty, persisting). Used by the sync status surface and tests.
func (c *Coordinator) DocState(roomID uuid.UUID, id uuid.UUID) string {
	rd := c.room(roomID)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if entry, ok := rd.docs[id]; ok {
		return entry.state.String()
	}
	return StateClean.String()
}

// DocumentCount reports how many documents the room currently holds in
// memory, including staged creates.
func (c *Coordinator) DocumentCount(roomID uuid.UUID) int64 {
	rd := c.room(roomID)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return int64(len(rd.docs) + len(rd.staged))
}

func (c *Coordinator) sendStatus(notify StatusFunc, documentID string, status string) {
	if notify == nil {
		return
	}
	notify(models.Envelope{
		Type:       models.TypeSyncStatus,
		DocumentID: documentID,
		Status:     status,
		Timestamp:  time.Now().UnixMilli(),
	})
}
