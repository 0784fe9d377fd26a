package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autosync/pkg/logger"
	"autosync/pkg/store"
)

const (
	versionKey   = "schema:version"
	migratingKey = "schema:migrating"

	// CurrentSchema is the cache layout version this build writes.
	CurrentSchema = 1

	legacyMessagesPrefix = "messages_"
	legacyUsersKey       = "known_users"
)

// Run checks the stored schema version and applies any pending layout
// migrations. prefix and usersKey are the configured cache key names the
// current layout uses. Returns (applied, error): applied is true when
// migration work ran.
func Run(ctx context.Context, kv store.KV, prefix, usersKey string) (bool, error) {
	stored, err := storedVersion(kv)
	if err != nil {
		return false, err
	}
	logger.Info("schema_version_check", "stored", stored, "current", CurrentSchema)

	if stored == CurrentSchema {
		return false, nil
	}
	if stored > CurrentSchema {
		return false, fmt.Errorf("cache schema %d is newer than this build (max %d); refusing to open", stored, CurrentSchema)
	}

	if raw, err := kv.Get(migratingKey); err == nil {
		logger.Warn("schema_migration_marker_found", "marker", string(raw))
	}

	marker := map[string]string{
		"from":       strconv.Itoa(stored),
		"to":         strconv.Itoa(CurrentSchema),
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := kv.Set(migratingKey, mb); err != nil {
		return true, fmt.Errorf("write migration marker: %w", err)
	}

	logger.Info("schema_migration_start", "from", stored, "to", CurrentSchema)
	for v := stored; v < CurrentSchema; v++ {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		if err := apply(kv, v, prefix, usersKey); err != nil {
			logger.Error("schema_migration_step_failed", "from", v, "error", err)
			return true, err
		}
	}

	if err := kv.Set(versionKey, []byte(strconv.Itoa(CurrentSchema))); err != nil {
		return true, fmt.Errorf("persist schema version: %w", err)
	}
	if err := kv.Delete(migratingKey); err != nil {
		logger.Error("schema_migration_marker_delete_failed", "error", err)
	}
	logger.Info("schema_migration_done", "version", CurrentSchema)
	return true, nil
}

// storedVersion reads the persisted schema version. A missing key means
// version 0: either a fresh database or a legacy one from before the
// version key existed. Both are handled by the v0 step, which is a no-op
// when there is nothing to move.
func storedVersion(kv store.KV) (int, error) {
	raw, err := kv.Get(versionKey)
	if err != nil {
		if err == store.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", string(raw), err)
	}
	return n, nil
}

func apply(kv store.KV, from int, prefix, usersKey string) error {
	switch from {
	case 0:
		return migrateV0(kv, prefix, usersKey)
	default:
		return fmt.Errorf("no migration step from schema %d", from)
	}
}

// migrateV0 moves the legacy flat key layout under the configured names:
// messages_<conversationId> becomes <prefix>_<conversationId> and
// known_users becomes the configured users key. Keys already under the
// target names are left alone, so re-running after a crash is safe.
func migrateV0(kv store.KV, prefix, usersKey string) error {
	moved := 0
	if prefix != "" && prefix+"_" != legacyMessagesPrefix {
		entries, err := kv.List(legacyMessagesPrefix)
		if err != nil {
			return err
		}
		for _, e := range entries {
			id := strings.TrimPrefix(e.Key, legacyMessagesPrefix)
			target := prefix + "_" + id
			if _, err := kv.Get(target); err == nil {
				continue
			}
			if err := kv.Set(target, e.Value); err != nil {
				return fmt.Errorf("move %s: %w", e.Key, err)
			}
			if err := kv.Delete(e.Key); err != nil {
				return fmt.Errorf("drop %s: %w", e.Key, err)
			}
			moved++
		}
	}
	if usersKey != "" && usersKey != legacyUsersKey {
		if raw, err := kv.Get(legacyUsersKey); err == nil {
			if _, err := kv.Get(usersKey); err == store.ErrNotFound {
				if err := kv.Set(usersKey, raw); err != nil {
					return fmt.Errorf("move %s: %w", legacyUsersKey, err)
				}
			}
			if err := kv.Delete(legacyUsersKey); err != nil {
				return fmt.Errorf("drop %s: %w", legacyUsersKey, err)
			}
			moved++
		}
	}
	if moved > 0 {
		logger.Info("schema_v0_keys_moved", "count", moved)
	}
	return nil
}
