package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/nats-io/nats.go"
)

// ErrInvalidKey is returned for owners or credential names that cannot
// form an unambiguous bucket key
var ErrInvalidKey = errors.New("invalid credential key")

// keySegment matches the key characters JetStream allows, minus the dot
// that separates owner from name
var keySegment = regexp.MustCompile(`^[-/_=a-zA-Z0-9]+$`)

// KVStore reads credentials from a JetStream key-value bucket.
// Keys are "<owner>.<name>".
type KVStore struct {
	kv     nats.KeyValue
	logger *slog.Logger
}

var _ Store = (*KVStore)(nil)

// NewKVStore binds to an existing bucket on the given connection
func NewKVStore(conn *nats.Conn, bucket string, logger *slog.Logger) (*KVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to bind credentials bucket %s: %w", bucket, err)
	}

	logger.Info("Credential store bound", "bucket", bucket)
	return &KVStore{kv: kv, logger: logger}, nil
}

// EnsureKVStore binds to bucket, creating it when it does not exist yet
func EnsureKVStore(conn *nats.Conn, bucket string, logger *slog.Logger) (*KVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "Per-user credentials referenced from agent options",
			History:     5,
		})
		if err == nil {
			logger.Info("Created credentials bucket", "bucket", bucket)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind credentials bucket %s: %w", bucket, err)
	}

	return &KVStore{kv: kv, logger: logger}, nil
}

func (s *KVStore) Lookup(ctx context.Context, owner, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key, err := Key(owner, name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	entry, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: %q for user %q", ErrNotFound, name, owner)
		}
		return "", fmt.Errorf("failed to read credential %q: %w", name, err)
	}

	s.logger.Debug("Credential read", "owner", owner, "name", name, "revision", entry.Revision())
	return string(entry.Value()), nil
}

// Put stores a credential and returns the new revision
func (s *KVStore) Put(ctx context.Context, owner, name, value string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key, err := Key(owner, name)
	if err != nil {
		return 0, err
	}

	revision, err := s.kv.PutString(key, value)
	if err != nil {
		return 0, fmt.Errorf("failed to store credential %q: %w", name, err)
	}

	s.logger.Debug("Credential stored", "owner", owner, "name", name, "revision", revision)
	return revision, nil
}

// Remove deletes a credential
func (s *KVStore) Remove(ctx context.Context, owner, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := Key(owner, name)
	if err != nil {
		return err
	}

	if err := s.kv.Delete(key); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q for user %q", ErrNotFound, name, owner)
		}
		return fmt.Errorf("failed to delete credential %q: %w", name, err)
	}
	return nil
}

// Key returns the bucket key for a user's credential. Neither part may be
// empty or contain a dot, so distinct pairs never share a key.
func Key(owner, name string) (string, error) {
	if !keySegment.MatchString(owner) {
		return "", fmt.Errorf("%w: owner %q", ErrInvalidKey, owner)
	}
	if !keySegment.MatchString(name) {
		return "", fmt.Errorf("%w: name %q", ErrInvalidKey, name)
	}
	return owner + "." + name, nil
}
