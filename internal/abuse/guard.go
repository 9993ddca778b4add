// Package abuse counts failed verifications per client address and blocks
// addresses that keep failing.
package abuse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/store"
	"otp-auth-service/internal/util"
)

type Flow string

const (
	FlowRegister Flow = "register"
	FlowLogin    Flow = "login"
)

const (
	blockPrefix         = "block_"
	registerFailPrefix  = "fail_"
	loginFailPrefix     = "fail_login_"
	DefaultMaxFailures  = 3
	DefaultWindow       = time.Hour
	DefaultBlockTimeout = time.Hour
)

// FailureKey is the counter key for flow and ip. The two flows count
// separately; they share one block flag.
func FailureKey(flow Flow, ip string) string {
	if flow == FlowLogin {
		return loginFailPrefix + ip
	}
	return registerFailPrefix + ip
}

func BlockKey(ip string) string {
	return blockPrefix + ip
}

type Guard struct {
	store         store.Store
	maxFailures   int64
	window        time.Duration
	blockDuration time.Duration
}

func NewGuard(s store.Store, cfg config.AbuseConfig) *Guard {
	g := &Guard{
		store:         s,
		maxFailures:   int64(cfg.MaxFailures),
		window:        cfg.FailureWindow,
		blockDuration: cfg.BlockDuration,
	}
	if g.maxFailures <= 0 {
		g.maxFailures = DefaultMaxFailures
	}
	if g.window <= 0 {
		g.window = DefaultWindow
	}
	if g.blockDuration <= 0 {
		g.blockDuration = DefaultBlockTimeout
	}
	return g
}

func (g *Guard) IsBlocked(ctx context.Context, ip string) (bool, error) {
	_, err := g.store.Get(ctx, BlockKey(ip))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check block flag: %w", err)
	}
}

// RecordFailure bumps the flow counter for ip and sets the block flag once
// the counter reaches the threshold. escalated reports that the flag was set
// by this call or was due to be.
func (g *Guard) RecordFailure(ctx context.Context, ip string, flow Flow) (escalated bool, count int64, err error) {
	count, err = g.store.IncrementOrCreate(ctx, FailureKey(flow, ip), g.window)
	if err != nil {
		return false, 0, fmt.Errorf("failed to record failure: %w", err)
	}

	if count < g.maxFailures {
		util.Debug("Verification failure recorded",
			util.IP(ip),
			zap.String("flow", string(flow)),
			zap.Int64("count", count))
		return false, count, nil
	}

	if err := g.store.Set(ctx, BlockKey(ip), "1", g.blockDuration); err != nil {
		return false, count, fmt.Errorf("failed to set block flag: %w", err)
	}

	util.Warn("Client address blocked",
		util.IP(ip),
		zap.String("flow", string(flow)),
		zap.Int64("failures", count),
		zap.Duration("block_duration", g.blockDuration))
	return true, count, nil
}
