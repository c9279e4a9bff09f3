package gateway

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	authorizationSchema = "WECHATPAY2-SHA256-RSA2048"
	paySignType         = "RSA"
)

// Signer signs with the merchant private key. It holds no state besides the
// configured credentials.
type Signer struct {
	appID      string
	mchID      string
	certSerial string
	privateKey *rsa.PrivateKey
}

func NewSigner(appID string, mchID string, certSerial string, privateKey *rsa.PrivateKey) *Signer {
	return &Signer{
		appID:      appID,
		mchID:      mchID,
		certSerial: certSerial,
		privateKey: privateKey,
	}
}

// PayParams is consumed verbatim by the mini-program payment SDK. Field names
// and the string typed timeStamp are part of that contract.
type PayParams struct {
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// SignRequest signs METHOD\nPATH\nTIMESTAMP\nNONCE\nBODY\n.
func (s *Signer) SignRequest(method string, path string, timestamp string, nonce string, body string) (string, error) {
	return s.sign(method, path, timestamp, nonce, body)
}

// SignMessage signs TIMESTAMP\nNONCE\nBODY\n, the form the gateway uses for
// callbacks and responses.
func (s *Signer) SignMessage(timestamp string, nonce string, body string) (string, error) {
	return s.sign(timestamp, nonce, body)
}

func (s *Signer) AuthorizationHeader(method string, path string, body []byte) (string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := NewNonce()

	signature, err := s.SignRequest(method, path, timestamp, nonce, string(body))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`%s mchid="%s",nonce_str="%s",signature="%s",timestamp="%s",serial_no="%s"`,
		authorizationSchema, s.mchID, nonce, signature, timestamp, s.certSerial,
	), nil
}

// BuildMiniProgramPayParams signs APPID\nTIMESTAMP\nNONCE\nPACKAGE\n.
func (s *Signer) BuildMiniProgramPayParams(prepayID string) (PayParams, error) {
	params := PayParams{
		TimeStamp: strconv.FormatInt(time.Now().Unix(), 10),
		NonceStr:  NewNonce(),
		Package:   "prepay_id=" + prepayID,
		SignType:  paySignType,
	}

	signature, err := s.sign(s.appID, params.TimeStamp, params.NonceStr, params.Package)
	if err != nil {
		return PayParams{}, err
	}

	params.PaySign = signature

	return params, nil
}

func (s *Signer) sign(parts ...string) (string, error) {
	digest := sha256.Sum256([]byte(canonical(parts...)))

	signature, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("error sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

func canonical(parts ...string) string {
	var builder strings.Builder

	for _, part := range parts {
		builder.WriteString(part)
		builder.WriteByte('\n')
	}

	return builder.String()
}

// NewNonce returns a 32 character random string.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
