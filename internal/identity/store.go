package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// MemoryStore keeps tags in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	tags map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tags: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, deviceID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, ok := s.tags[deviceID]
	return tag, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, deviceID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[deviceID] = tag
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, deviceID)
	return nil
}

// FileStore persists tags in a YAML file so they survive restarts.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileContents struct {
	Tags map[string]string `yaml:"tags"`
}

// NewFileStore creates a store backed by the YAML file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) read() (fileContents, error) {
	var c fileContents
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return fileContents{Tags: map[string]string{}}, nil
	}
	if err != nil {
		return c, fmt.Errorf("read identity file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("parse identity file: %w", err)
	}
	if c.Tags == nil {
		c.Tags = map[string]string{}
	}
	return c, nil
}

func (s *FileStore) write(c fileContents) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode identity file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Get(_ context.Context, deviceID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.read()
	if err != nil {
		return "", false, err
	}
	tag, ok := c.Tags[deviceID]
	return tag, ok, nil
}

func (s *FileStore) Set(_ context.Context, deviceID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.read()
	if err != nil {
		return err
	}
	c.Tags[deviceID] = tag
	return s.write(c)
}

func (s *FileStore) Delete(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := c.Tags[deviceID]; !ok {
		return nil
	}
	delete(c.Tags, deviceID)
	return s.write(c)
}

const redisKeyPrefix = "qbox:identity:"

// RedisStore keeps tags in Redis, for kiosks and shared lab machines.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, deviceID string) (string, bool, error) {
	tag, err := s.client.Get(ctx, redisKeyPrefix+deviceID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return tag, true, nil
}

func (s *RedisStore) Set(ctx context.Context, deviceID, tag string) error {
	if err := s.client.Set(ctx, redisKeyPrefix+deviceID, tag, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+deviceID).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
