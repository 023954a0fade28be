package google

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"

	calendarPkg "github.com/venkytv/calendar-publisher/pkg/calendar"
)

const (
	// Scope required to create events
	publishScope = calendar.CalendarScope

	// Password Google issues with every P12 service account key
	defaultP12Secret = "notasecret"
)

// loadKey returns the configured key material. Inline keys win over key files.
func loadKey(creds calendarPkg.Credentials) ([]byte, error) {
	if creds.Key != "" {
		return []byte(creds.Key), nil
	}
	if creds.KeyFile != "" {
		data, err := os.ReadFile(creds.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("no key or key_file configured")
}

// jwtConfig builds a service account JWT configuration. The key may be a
// service account JSON document, a PEM private key or a PKCS#12 bundle
// protected by KeySecret.
func jwtConfig(creds calendarPkg.Credentials) (*jwt.Config, error) {
	key, err := loadKey(creds)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(key)

	if bytes.HasPrefix(trimmed, []byte("{")) {
		config, err := google.JWTConfigFromJSON(trimmed, publishScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account JSON: %w", err)
		}
		if creds.ServiceAccountEmail != "" {
			config.Email = creds.ServiceAccountEmail
		}
		return config, nil
	}

	if creds.ServiceAccountEmail == "" {
		return nil, fmt.Errorf("service_account_email is required for %s keys", keyKind(trimmed))
	}

	pemKey := trimmed
	if !bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		pemKey, err = pkcs12ToPEM(key, creds.KeySecret)
		if err != nil {
			return nil, err
		}
	}

	return &jwt.Config{
		Email:      creds.ServiceAccountEmail,
		PrivateKey: pemKey,
		Scopes:     []string{publishScope},
		TokenURL:   google.JWTTokenURL,
	}, nil
}

// pkcs12ToPEM extracts the private key of a P12 bundle as a PKCS#8 PEM block
func pkcs12ToPEM(data []byte, secret string) ([]byte, error) {
	if secret == "" {
		secret = defaultP12Secret
	}

	privateKey, _, err := pkcs12.Decode(data, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func keyKind(key []byte) string {
	if bytes.HasPrefix(key, []byte("-----BEGIN")) {
		return "PEM"
	}
	return "PKCS#12"
}
