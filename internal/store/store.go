// Package store persists project snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/clipstudio/api/internal/model"
)

// ErrNotFound is returned when a project does not exist
var ErrNotFound = errors.New("project not found")

// ProjectStore is the durable home of project snapshots
type ProjectStore interface {
	Get(ctx context.Context, projectID string) (*model.Project, error)
	Save(ctx context.Context, project *model.Project) error
	Delete(ctx context.Context, projectID string) error
	List(ctx context.Context) ([]*model.Project, error)
}

const projectIndexKey = "projects"

// RedisStore keeps each project as a JSON document under project:<id>
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func projectKey(projectID string) string {
	return fmt.Sprintf("project:%s", projectID)
}

func (s *RedisStore) Get(ctx context.Context, projectID string) (*model.Project, error) {
	data, err := s.redis.Get(ctx, projectKey(projectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var project model.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project: %w", err)
	}
	return &project, nil
}

func (s *RedisStore) Save(ctx context.Context, project *model.Project) error {
	data, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, projectKey(project.ID), data, 0)
		pipe.SAdd(ctx, projectIndexKey, project.ID)
		return nil
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, projectID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, projectKey(projectID))
		pipe.SRem(ctx, projectIndexKey, projectID)
		return nil
	})
	return err
}

func (s *RedisStore) List(ctx context.Context) ([]*model.Project, error) {
	ids, err := s.redis.SMembers(ctx, projectIndexKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	projects := make([]*model.Project, 0, len(ids))
	for _, id := range ids {
		project, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, nil
}

// MemoryStore is an in-process ProjectStore used when Redis is unavailable
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, projectID string) (*model.Project, error) {
	s.mu.RLock()
	data, ok := s.projects[projectID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var project model.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *MemoryStore) Save(_ context.Context, project *model.Project) error {
	data, err := json.Marshal(project)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.projects[project.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, projectID string) error {
	s.mu.Lock()
	delete(s.projects, projectID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*model.Project, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	projects := make([]*model.Project, 0, len(ids))
	for _, id := range ids {
		project, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		projects = append(projects, project)
	}
	return projects, nil
}
