package redis

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig    = errors.New("redis provider config is invalid")
	ErrConnectionFailed = errors.New("failed to connect to redis")
)

func NewInvalidConfigError(field string) error {
	return fmt.Errorf("redis provider config: invalid %s", field)
}

func NewConnectionFailedError(uri string, err error) error {
	return fmt.Errorf("failed to connect to redis at %s: %w", uri, err)
}

func NewPingFailedError(err error) error {
	return fmt.Errorf("redis ping failed: %w", err)
}

func NewScriptLoadError(err error) error {
	return fmt.Errorf("failed to load script: %w", err)
}

func NewOperationError(op, key string, err error) error {
	return fmt.Errorf("redis %s failed for '%s': %w", op, key, err)
}

func NewSubscribeFailedError(channel string, err error) error {
	return fmt.Errorf("failed to subscribe to channel '%s': %w", channel, err)
}

func NewCloseFailedError(err error) error {
	return fmt.Errorf("failed to close redis connection: %w", err)
}
