package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cospace/internal/models"
)

const (
	roomStateKeyPrefix = "roomstate:"
	roomStateTTL       = 24 * time.Hour
)

// ErrNoState is returned when a room has no cached state.
var ErrNoState = errors.New("no cached room state")

// RoomStateCache keeps best-effort session-continuity records in Redis so a
// rejoining client can be routed back to the editor it last used. It is
// never authoritative over Document records.
type RoomStateCache struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRoomStateCache(rdb *redis.Client, log *zap.Logger) *RoomStateCache {
	return &RoomStateCache{rdb: rdb, log: log}
}

// Touch refreshes a room's cached state. An empty editorType keeps whatever
// editor was recorded before.
func (c *RoomStateCache) Touch(ctx context.Context, roomID string, editorType string, documentCount int64) error {
	key := roomStateKeyPrefix + roomID

	fields := map[string]interface{}{
		"roomId":        roomID,
		"documentCount": documentCount,
		"lastAccessed":  time.Now().UTC().Format(time.RFC3339),
	}
	if editorType != "" {
		fields["lastEditorType"] = editorType
	}

	if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, key, roomStateTTL).Err()
}

func (c *RoomStateCache) Get(ctx context.Context, roomID string) (*models.RoomState, error) {
	values, err := c.rdb.HGetAll(ctx, roomStateKeyPrefix+roomID).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNoState
	}

	state := &models.RoomState{
		RoomID:         values["roomId"],
		LastEditorType: values["lastEditorType"],
	}
	if count, err := strconv.ParseInt(values["documentCount"], 10, 64); err == nil {
		state.DocumentCount = count
	}
	if ts, err := time.Parse(time.RFC3339, values["lastAccessed"]); err == nil {
		state.LastAccessed = ts
	}
	return state, nil
}

// Forget drops a room's cached state (administrative room deletion).
func (c *RoomStateCache) Forget(ctx context.Context, roomID string) error {
	return c.rdb.Del(ctx, roomStateKeyPrefix+roomID).Err()
}
