// internal/journey/store.go
package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"insurance-journey/internal/common/database"
	"insurance-journey/internal/common/logger"
)

var ErrRunNotFound = errors.New("RUN_NOT_FOUND")

const runKeyPrefix = "journey:run:"

// RunStore persists run snapshots in Redis so a held run (referral,
// poll timeout) survives a process restart and can be resumed.
type RunStore struct {
	redis *database.RedisClient
	ttl   time.Duration
	log   logger.Logger
}

func NewRunStore(redisClient *database.RedisClient, ttl time.Duration, log logger.Logger) *RunStore {
	return &RunStore{
		redis: redisClient,
		ttl:   ttl,
		log:   log.WithFields(map[string]interface{}{"component": "run_store"}),
	}
}

// Save writes the snapshot under the run's ID, refreshing the TTL.
func (s *RunStore) Save(ctx context.Context, run Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	if err := s.redis.Set(ctx, runKeyPrefix+run.ID, payload, s.ttl); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	s.log.Debug("run snapshot saved", map[string]interface{}{
		"runId": run.ID,
		"stage": run.Stage.String(),
		"held":  run.Held,
	})
	return nil
}

// Load reads a snapshot back. A missing key is ErrRunNotFound.
func (s *RunStore) Load(ctx context.Context, id string) (*Run, error) {
	payload, err := s.redis.Get(ctx, runKeyPrefix+id)
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var run Run
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}
	return &run, nil
}

// Delete removes a snapshot, typically once the run is terminal.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, runKeyPrefix+id); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	return nil
}
