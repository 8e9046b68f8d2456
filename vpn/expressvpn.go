package vpn

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"estate_harvester/config"
)

var ErrVPNConnectFail = errors.New("failed to connect VPN")

// Runner executes the VPN control binary and returns its output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Rotator moves the VPN exit to the next region in its list, so the
// transaction API sees a fresh address after a rate limit.
type Rotator struct {
	command string
	regions []string
	run     Runner
	logger  *zap.Logger

	connectTimeout time.Duration
	pollInterval   time.Duration

	mu   sync.Mutex
	next int
}

func NewRotator(cfg config.VPNConfig, logger *zap.Logger) *Rotator {
	regions := cfg.Regions
	if len(regions) == 0 {
		regions = []string{"smart"}
	}
	return &Rotator{
		command:        cfg.Command,
		regions:        regions,
		run:            execRunner,
		logger:         logger,
		connectTimeout: 30 * time.Second,
		pollInterval:   time.Second,
	}
}

func (v *Rotator) IsConnected(ctx context.Context) bool {
	out, err := v.run(ctx, v.command, "status")
	if err != nil {
		return false
	}
	status := strings.ToLower(string(out))
	return strings.Contains(status, "connected") && !strings.Contains(status, "disconnected")
}

func (v *Rotator) Status(ctx context.Context) (string, error) {
	out, err := v.run(ctx, v.command, "status")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Rotate disconnects and reconnects to the next region, waiting until the
// tunnel reports connected.
func (v *Rotator) Rotate(ctx context.Context) error {
	v.mu.Lock()
	region := v.regions[v.next%len(v.regions)]
	v.next++
	v.mu.Unlock()

	if _, err := v.run(ctx, v.command, "disconnect"); err != nil {
		v.logger.Debug("vpn disconnect failed", zap.Error(err))
	}
	if _, err := v.run(ctx, v.command, "connect", region); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVPNConnectFail, region, err)
	}

	deadline := time.Now().Add(v.connectTimeout)
	for {
		if v.IsConnected(ctx) {
			v.logger.Info("vpn exit rotated", zap.String("region", region))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s: timed out", ErrVPNConnectFail, region)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.pollInterval):
		}
	}
}
