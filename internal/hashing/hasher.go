package hashing

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

const Algorithm = "argon2id-v1"

var (
	ErrInvalidHash     = errors.New("invalid hash format")
	ErrUnknownPepper   = errors.New("pepper version not found")
	keptPepperVersions = 2
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type pepper struct {
	value     string
	createdAt time.Time
	version   int
}

// Hasher produces salted, peppered argon2id digests of short secrets such as
// OTP codes. Peppers live only in memory and rotate on a schedule; digests
// made under a retired pepper stop verifying once it is dropped.
type Hasher struct {
	params         Argon2Params
	rotationPeriod time.Duration

	mu      sync.RWMutex
	current *pepper
	old     []*pepper
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) *Hasher {
	return NewHasherWithParams(Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}, time.Duration(cfg.Hashing.PepperRotationDays)*24*time.Hour)
}

func NewHasherWithParams(params Argon2Params, rotationPeriod time.Duration) *Hasher {
	h := &Hasher{params: params, rotationPeriod: rotationPeriod}
	h.Rotate()
	return h
}

// Rotate installs a fresh pepper and retires the current one.
func (h *Hasher) Rotate() {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		util.Fatal("Failed to generate pepper", zap.Error(err))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	version := 1
	if h.current != nil {
		h.old = append(h.old, h.current)
		if len(h.old) > keptPepperVersions {
			h.old = h.old[len(h.old)-keptPepperVersions:]
		}
		version = h.current.version + 1
	}
	h.current = &pepper{
		value:     base64.RawURLEncoding.EncodeToString(buf),
		createdAt: time.Now(),
		version:   version,
	}

	util.Info("Pepper rotated", zap.Int("version", version))
}

// StartPepperRotation rotates on the configured period until ctx is done.
func (h *Hasher) StartPepperRotation(ctx context.Context) {
	if h.rotationPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(h.rotationPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Rotate()
			}
		}
	}()
}

// Hash digests secret bound to purpose, so a register digest never verifies
// as a login one.
func (h *Hasher) Hash(secret, purpose string) (*HashResult, error) {
	h.mu.RLock()
	p := h.current
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := argon2.IDKey([]byte(secret+p.value+purpose), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(digest),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: p.version,
		Algorithm:     Algorithm,
	}, nil
}

func (h *Hasher) Verify(secret, purpose string, hr *HashResult) (bool, error) {
	pepperValue, err := h.pepperFor(hr.PepperVersion)
	if err != nil {
		return false, err
	}

	salt, err := base64.RawURLEncoding.DecodeString(hr.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(hr.Hash)
	if err != nil || len(expected) == 0 {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey([]byte(secret+pepperValue+purpose), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func (h *Hasher) pepperFor(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.current != nil && h.current.version == version {
		return h.current.value, nil
	}
	for _, p := range h.old {
		if p.version == version {
			return p.value, nil
		}
	}
	return "", ErrUnknownPepper
}

// CurrentVersion is the pepper version new digests are made with.
func (h *Hasher) CurrentVersion() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.version
}
