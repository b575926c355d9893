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
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"soc-monitor/internal/config"
	"soc-monitor/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// envelope is the stored form of a sealed value: the AES-GCM ciphertext plus
// the wrapped data key needed to open it in another process.
type envelope struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// EncryptionManager seals profile PII (last-seen origin addresses) at rest.
// With KMS enabled, data keys come from AWS KMS; otherwise a process-local
// key is used, which is only acceptable for development.
type EncryptionManager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map // key id -> plaintext DEK
	localKey  []byte
	localOnce sync.Once
}

type dataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

func NewEncryptionManager(cfg *config.Config, kmsClient *kms.Client) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

// Seal encrypts the plaintext and returns the stored envelope plus the key id
// it was sealed under.
func (em *EncryptionManager) Seal(ctx context.Context, plaintext string) ([]byte, string, error) {
	key, err := em.generateDataKey(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(key.Plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	env := envelope{
		EncryptedValue: base64.StdEncoding.EncodeToString(sealed),
		EncryptedDEK:   base64.StdEncoding.EncodeToString(key.Ciphertext),
		KeyID:          key.KeyID,
		Version:        "1",
		CreatedAt:      time.Now().UTC(),
	}

	blob, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	em.keyCache.Store(key.KeyID, key.Plaintext)
	return blob, key.KeyID, nil
}

// Open decrypts a sealed envelope produced by Seal.
func (em *EncryptionManager) Open(ctx context.Context, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	dek, err := em.resolveDataKey(ctx, &env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	sealed, err := base64.StdEncoding.DecodeString(env.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(sealed) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

func (em *EncryptionManager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !em.config.KMS.Enabled || em.kmsClient == nil {
		return em.localDataKey(), nil
	}

	input := &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.config.KMS.KeyID,
	}, nil
}

func (em *EncryptionManager) resolveDataKey(ctx context.Context, env *envelope) ([]byte, error) {
	if cached, ok := em.keyCache.Load(env.KeyID); ok {
		return cached.([]byte), nil
	}

	wrapped, err := base64.StdEncoding.DecodeString(env.EncryptedDEK)
	if err != nil {
		return nil, err
	}

	if env.KeyID == "local" {
		// Local mode stores the key unwrapped; only the current process can
		// have produced it.
		em.keyCache.Store(env.KeyID, wrapped)
		return wrapped, nil
	}

	if em.kmsClient == nil {
		return nil, errors.New("kms client not available for key " + env.KeyID)
	}

	out, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrapped,
		KeyId:          aws.String(env.KeyID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data key: %w", err)
	}

	em.keyCache.Store(env.KeyID, out.Plaintext)
	return out.Plaintext, nil
}

func (em *EncryptionManager) localDataKey() *dataKey {
	em.localOnce.Do(func() {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			util.Fatal("Failed to generate local data key", zap.Error(err))
		}
		em.localKey = key
		util.Warn("Using process-local data key; enable KMS for production")
	})
	return &dataKey{
		Plaintext:  em.localKey,
		Ciphertext: em.localKey,
		KeyID:      "local",
	}
}

// ClearCache drops all cached plaintext data keys.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(k, _ interface{}) bool {
		em.keyCache.Delete(k)
		return true
	})
}
