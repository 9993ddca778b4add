package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

const localKeyID = "local"

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeyService is the subset of the KMS API used for envelope encryption.
type KeyService interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptedData is an AES-GCM ciphertext together with its wrapped data key.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// Marshal encodes the envelope for a single blob column.
func (d *EncryptedData) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

func Unmarshal(raw []byte) (*EncryptedData, error) {
	var d EncryptedData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	return &d, nil
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

// Manager encrypts profile fields at rest. With KMS disabled the data key is
// stored base64 encoded next to the value, which is only fit for development.
type Manager struct {
	kms      KeyService
	enabled  bool
	keyID    string
	keyCache sync.Map
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

func NewManager(cfg *config.Config, keys KeyService) *Manager {
	return &Manager{
		kms:     keys,
		enabled: cfg.KMS.Enabled && keys != nil,
		keyID:   cfg.KMS.KeyID,
	}
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.enabled {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		return &dataKey{
			plaintext:  key,
			ciphertext: []byte(base64.StdEncoding.EncodeToString(key)),
			keyID:      localKeyID,
		}, nil
	}

	out, err := m.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &dataKey{plaintext: out.Plaintext, ciphertext: out.CiphertextBlob, keyID: m.keyID}, nil
}

// EncryptField seals plaintext under a fresh data key.
func (m *Manager) EncryptField(ctx context.Context, plaintext string) (*EncryptedData, error) {
	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(dk.plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	wrapped := base64.StdEncoding.EncodeToString(dk.ciphertext)
	m.keyCache.Store(wrapped, dk.plaintext)

	util.Debug("Field encrypted", zap.String("key_id", dk.keyID))

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(sealed),
		EncryptedDEK:   wrapped,
		KeyID:          dk.keyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (m *Manager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if cached, ok := m.keyCache.Load(data.EncryptedDEK); ok {
		return decryptWithKey(data.EncryptedValue, cached.([]byte))
	}

	blob, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var key []byte
	if data.KeyID == localKeyID {
		if key, err = base64.StdEncoding.DecodeString(string(blob)); err != nil {
			return "", fmt.Errorf("%w: invalid local DEK", ErrDecryptionFailed)
		}
	} else {
		if !m.enabled {
			return "", fmt.Errorf("%w: kms is disabled", ErrDecryptionFailed)
		}
		out, err := m.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		key = out.Plaintext
	}

	m.keyCache.Store(data.EncryptedDEK, key)
	return decryptWithKey(data.EncryptedValue, key)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func decryptWithKey(encoded string, key []byte) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// ClearCache drops every unwrapped data key.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
