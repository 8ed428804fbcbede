package common

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"
	"github.com/valkey-io/valkey-go"
)

// ValkeyService fans duel events out over PUBLISH. It is a no-op when no
// address is configured.
type ValkeyService struct {
	client valkey.Client
}

func NewValkeyService(i do.Injector) (*ValkeyService, error) {
	addr := do.MustInvokeNamed[string](i, "valkey-addr")
	if addr == "" {
		return &ValkeyService{}, nil
	}

	//nolint:exhaustruct
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return &ValkeyService{
		client: client,
	}, nil
}

func (s *ValkeyService) Enabled() bool {
	return s != nil && s.client != nil
}

func (s *ValkeyService) Publish(ctx context.Context, channel string, payload []byte) error {
	if !s.Enabled() {
		return nil
	}

	cmd := s.client.B().Publish().Channel(channel).Message(string(payload)).Build()

	err := s.client.Do(ctx, cmd).Error()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	return nil
}

func (s *ValkeyService) Shutdown() {
	if s.Enabled() {
		s.client.Close()
	}
}
