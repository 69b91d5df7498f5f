package store

import (
	"context"
	"errors"
	"testing"
)

func TestNewRedisStore_Config(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewRedisStore(context.Background(), "http://not-redis"); err == nil {
		t.Error("expected invalid url error")
	}
}
