// Пакет token — выпуск JWT (RS256) для сессий storefront
// и публикация открытого ключа в формате JWKS.
package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// keyBits — размер генерируемого RSA-ключа.
const keyBits = 2048

// Claims — claims токена сессии.
type Claims struct {
	jwt.RegisteredClaims
	// Email — идентичность пользователя.
	Email string `json:"email"`
	// SessionID — идентификатор серверной сессии.
	SessionID string `json:"sid"`
}

// Issuer подписывает токены и хранит открытый ключ в jwkset.
type Issuer struct {
	key     *rsa.PrivateKey
	kid     string
	issuer  string
	storage jwkset.Storage
	keyfunc keyfunc.Keyfunc
	now     func() time.Time
}

// LoadKey читает RSA-ключ из PEM-файла (PKCS#1 или PKCS#8).
// Пустой путь — генерируется временный ключ; токены не переживут рестарт.
func LoadKey(path string, logger *slog.Logger) (*rsa.PrivateKey, error) {
	if path == "" {
		logger.Warn("SF_SIGNING_KEY_FILE не задан, используется временный ключ подписи")
		key, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа подписи: %w", err)
		}
		return key, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа подписи %s: %w", path, err)
	}
	return ParseKey(data)
}

// ParseKey разбирает PEM с RSA-ключом.
func ParseKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("ключ подписи не в формате PEM")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора PKCS#1 ключа: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора PKCS#8 ключа: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("ключ подписи не является RSA-ключом")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("неподдерживаемый тип PEM-блока: %q", block.Type)
	}
}

// NewIssuer создаёт Issuer и публикует открытый ключ в хранилище JWKS.
func NewIssuer(ctx context.Context, key *rsa.PrivateKey, issuer string) (*Issuer, error) {
	kid, err := keyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	jwk, err := jwkset.NewJWKFromKey(&key.PublicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgRS256,
			KID: kid,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания JWK: %w", err)
	}

	storage := jwkset.NewMemoryStorage()
	if err := storage.KeyWrite(ctx, jwk); err != nil {
		return nil, fmt.Errorf("ошибка записи JWK: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &Issuer{
		key:     key,
		kid:     kid,
		issuer:  issuer,
		storage: storage,
		keyfunc: kf,
		now:     time.Now,
	}, nil
}

// Issue подписывает токен для сессии sid со сроком ttl.
func (i *Issuer) Issue(email, sid string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Email:     email,
		SessionID: sid,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = i.kid
	signed, err := t.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, expiresAt, nil
}

// Keyfunc возвращает keyfunc для проверки подписи.
func (i *Issuer) Keyfunc() keyfunc.Keyfunc {
	return i.keyfunc
}

// Issuer возвращает значение claim iss.
func (i *Issuer) Issuer() string {
	return i.issuer
}

// KeyID возвращает kid ключа подписи.
func (i *Issuer) KeyID() string {
	return i.kid
}

// JWKS возвращает открытые ключи в формате JWK Set.
func (i *Issuer) JWKS(ctx context.Context) (json.RawMessage, error) {
	data, err := i.storage.JSONPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования JWKS: %w", err)
	}
	return data, nil
}

// keyID — первые 16 символов base64url(SHA-256(DER открытого ключа)).
func keyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации открытого ключа: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])[:16], nil
}
