package gateway

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSerial = "5157F09EFDC096DE15EBE81A47057A7232F1B8E1"

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return key
}

func TestSignatureRoundTrip(t *testing.T) {
	key := newTestKey(t)
	signer := NewSigner("wx-app", "1900000001", testSerial, key)
	verifier := NewVerifier(map[string]*rsa.PublicKey{testSerial: &key.PublicKey}, "")

	body := `{"id":"EV-2018022511223320873","event_type":"TRANSACTION.SUCCESS"}`

	signature, err := signer.SignMessage("1554208460", "593BEC0C930BF1AFEB40B4A08C8FB242", body)
	require.NoError(t, err)

	ok, err := verifier.VerifyCallbackSignature("1554208460", "593BEC0C930BF1AFEB40B4A08C8FB242", body, signature, testSerial)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < len(body); i += 7 {
		mutated := []byte(body)
		mutated[i] ^= 0x01

		ok, err := verifier.VerifyCallbackSignature("1554208460", "593BEC0C930BF1AFEB40B4A08C8FB242", string(mutated), signature, testSerial)
		require.NoError(t, err)
		assert.False(t, ok, "mutation at byte %d must fail verification", i)
	}
}

func TestSignRequestCanonicalString(t *testing.T) {
	key := newTestKey(t)
	signer := NewSigner("wx-app", "1900000001", testSerial, key)

	signature, err := signer.SignRequest("POST", "/v3/pay/transactions/jsapi", "1554208460", "NONCE", `{"a":1}`)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(signature)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("POST\n/v3/pay/transactions/jsapi\n1554208460\nNONCE\n{\"a\":1}\n"))
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], decoded))
}

func TestAuthorizationHeader(t *testing.T) {
	signer := NewSigner("wx-app", "1900000001", testSerial, newTestKey(t))

	header, err := signer.AuthorizationHeader("GET", "/v3/certificates", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(header, "WECHATPAY2-SHA256-RSA2048 "))
	assert.Contains(t, header, `mchid="1900000001"`)
	assert.Contains(t, header, `serial_no="`+testSerial+`"`)
}

func TestBuildMiniProgramPayParams(t *testing.T) {
	key := newTestKey(t)
	signer := NewSigner("wx-app", "1900000001", testSerial, key)

	params, err := signer.BuildMiniProgramPayParams("wx201410272009395522657a690389285100")
	require.NoError(t, err)

	assert.Equal(t, "prepay_id=wx201410272009395522657a690389285100", params.Package)
	assert.Equal(t, "RSA", params.SignType)
	assert.Len(t, params.NonceStr, 32)
	assert.NotEmpty(t, params.TimeStamp)

	decoded, err := base64.StdEncoding.DecodeString(params.PaySign)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("wx-app\n" + params.TimeStamp + "\n" + params.NonceStr + "\n" + params.Package + "\n"))
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], decoded))
}

func TestParseKeys(t *testing.T) {
	key := newTestKey(t)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	parsed, err := ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}))
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	parsed, err = ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = ParsePrivateKey([]byte("garbage"))
	assert.Error(t, err)

	serialNumber, ok := new(big.Int).SetString(testSerial, 16)
	require.True(t, ok)

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "Tenpay.com Root CA"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	serial, publicKey, err := ParseCertificate(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, err)
	assert.Equal(t, testSerial, serial)
	assert.True(t, key.PublicKey.Equal(publicKey))
}
