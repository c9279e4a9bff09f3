package gateway

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ParsePrivateKey accepts PKCS#8 and PKCS#1 PEM blocks.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", key)
		}

		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cannot parse private key: %w", err)
	}

	return key, nil
}

// ParseCertificate returns the certificate public key and its serial number
// in the upper-case hex form used by the Wechatpay-Serial header.
func ParseCertificate(data []byte) (string, *rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return "", nil, errors.New("no PEM block found in certificate")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", nil, fmt.Errorf("cannot parse certificate: %w", err)
	}

	publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", nil, fmt.Errorf("certificate key is %T, not RSA", cert.PublicKey)
	}

	return strings.ToUpper(cert.SerialNumber.Text(16)), publicKey, nil
}

func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in public key")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cannot parse public key: %w", err)
	}

	publicKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}

	return publicKey, nil
}

func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParsePrivateKey(data)
}

// LoadPlatformKeys reads platform certificates and an optional platform public
// key into a serial → key map.
func LoadPlatformKeys(certPaths []string, publicKeyPath string, publicKeyID string) (map[string]*rsa.PublicKey, error) {
	keys := make(map[string]*rsa.PublicKey, len(certPaths)+1)

	for _, path := range certPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		serial, key, err := ParseCertificate(data)
		if err != nil {
			return nil, fmt.Errorf("error load platform certificate %s: %w", path, err)
		}

		keys[serial] = key
	}

	if publicKeyPath != "" {
		data, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return nil, err
		}

		key, err := ParsePublicKey(data)
		if err != nil {
			return nil, fmt.Errorf("error load platform public key: %w", err)
		}

		keys[publicKeyID] = key
	}

	return keys, nil
}
