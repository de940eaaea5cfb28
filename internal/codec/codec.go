// Package codec turns ticket and wristband identity into the encrypted
// admission code carried by QR images, and back.
//
// A code is "<nonceHex>:<cipherHex>". The plaintext is a CBOR payload
// sealed with XChaCha20-Poly1305 under a key derived from the server
// secret. The payload also carries a keyed BLAKE3 checksum over its own
// identity fields, so a payload re-sealed by anyone holding only the
// encryption key still fails validation.
package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"ms-admission/internal/models"
)

const (
	MinKeyLength   = 32
	MaxEncodedLen  = 4096
	ChecksumLength = 64 // hex characters
	separator      = ":"
)

var (
	encryptionInfo = []byte("ms-admission code encryption v1")
	checksumInfo   = []byte("ms-admission code checksum v1")
	additionalData = []byte("ms-admission/v1")
)

type Kind string

const (
	KindTicket    Kind = "ticket"
	KindWristband Kind = "wristband"
)

// Payload is the plaintext of an admission code. It is never stored.
type Payload struct {
	Kind          Kind       `json:"kind"`
	TicketID      string     `json:"ticketId,omitempty"`
	WristbandID   string     `json:"wristbandId,omitempty"`
	EventID       string     `json:"eventId"`
	UserID        string     `json:"userId,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	TicketTypeID  string     `json:"ticketTypeId,omitempty"`
	IssuedAt      time.Time  `json:"issuedAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Checksum      string     `json:"checksum"`
}

// TicketIdentity is the input to Generate.
type TicketIdentity struct {
	TicketID      string
	EventID       string
	UserID        string
	TransactionID string
	TicketTypeID  string
}

// wirePayload fixes the CBOR layout. Times travel as unix seconds so a
// decoded payload compares equal to the generated one.
type wirePayload struct {
	Kind          string `cbor:"1,keyasint"`
	TicketID      string `cbor:"2,keyasint,omitempty"`
	WristbandID   string `cbor:"3,keyasint,omitempty"`
	EventID       string `cbor:"4,keyasint"`
	UserID        string `cbor:"5,keyasint,omitempty"`
	TransactionID string `cbor:"6,keyasint,omitempty"`
	TicketTypeID  string `cbor:"7,keyasint,omitempty"`
	IssuedAt      int64  `cbor:"8,keyasint"`
	ExpiresAt     int64  `cbor:"9,keyasint,omitempty"`
	Checksum      string `cbor:"10,keyasint"`
}

type Codec struct {
	aeadKey     []byte
	checksumKey []byte
	expiryGrace time.Duration
	now         func() time.Time
	encMode     cbor.EncMode
}

type Option func(*Codec)

// WithExpiryGrace sets how long after the event date a ticket code stays valid.
func WithExpiryGrace(d time.Duration) Option {
	return func(c *Codec) { c.expiryGrace = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// New derives the encryption and checksum keys from secret. It fails
// fast when the secret is missing or too short.
func New(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrKeyMissing
	}
	if len(secret) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	aeadKey, err := deriveKey(secret, encryptionInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	checksumKey, err := deriveKey(secret, checksumInfo, 32)
	if err != nil {
		return nil, err
	}
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("codec: cbor encoder: %w", err)
	}

	c := &Codec{
		aeadKey:     aeadKey,
		checksumKey: checksumKey,
		expiryGrace: 24 * time.Hour,
		now:         time.Now,
		encMode:     encMode,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func deriveKey(secret string, info []byte, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, info), key); err != nil {
		return nil, fmt.Errorf("codec: derive key: %w", err)
	}
	return key, nil
}

func (c *Codec) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Second)
}

// Generate builds a checksummed ticket payload. expiresAt is derived from
// eventDate plus the expiry grace when eventDate is given.
func (c *Codec) Generate(id TicketIdentity, eventDate *time.Time) Payload {
	p := Payload{
		Kind:          KindTicket,
		TicketID:      id.TicketID,
		EventID:       id.EventID,
		UserID:        id.UserID,
		TransactionID: id.TransactionID,
		TicketTypeID:  id.TicketTypeID,
		IssuedAt:      c.timestamp(),
	}
	if eventDate != nil {
		exp := eventDate.Add(c.expiryGrace).UTC().Truncate(time.Second)
		p.ExpiresAt = &exp
	}
	p.Checksum = c.Checksum(p)
	return p
}

// GenerateWristband builds a checksummed wristband payload. It carries no
// expiry: the validity window lives on the wristband row and is checked
// against the current time at scan.
func (c *Codec) GenerateWristband(wristbandID, eventID string) Payload {
	p := Payload{
		Kind:        KindWristband,
		WristbandID: wristbandID,
		EventID:     eventID,
		IssuedAt:    c.timestamp(),
	}
	p.Checksum = c.Checksum(p)
	return p
}

// Checksum is the keyed BLAKE3 digest of the identity fields in fixed order.
func (c *Codec) Checksum(p Payload) string {
	expires := ""
	if p.ExpiresAt != nil {
		expires = strconv.FormatInt(p.ExpiresAt.Unix(), 10)
	}
	canonical := strings.Join([]string{
		string(p.Kind),
		p.TicketID,
		p.WristbandID,
		p.EventID,
		p.UserID,
		p.TransactionID,
		p.TicketTypeID,
		strconv.FormatInt(p.IssuedAt.Unix(), 10),
		expires,
	}, "\x1f")

	h, err := blake3.NewKeyed(c.checksumKey)
	if err != nil {
		// checksumKey is always 32 bytes
		panic(err)
	}
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// Encrypt seals p under a fresh random nonce.
func (c *Codec) Encrypt(p Payload) (string, error) {
	w := wirePayload{
		Kind:          string(p.Kind),
		TicketID:      p.TicketID,
		WristbandID:   p.WristbandID,
		EventID:       p.EventID,
		UserID:        p.UserID,
		TransactionID: p.TransactionID,
		TicketTypeID:  p.TicketTypeID,
		IssuedAt:      p.IssuedAt.Unix(),
		Checksum:      p.Checksum,
	}
	if p.ExpiresAt != nil {
		w.ExpiresAt = p.ExpiresAt.Unix()
	}
	plaintext, err := c.encMode.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("codec: encode payload: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.aeadKey)
	if err != nil {
		return "", fmt.Errorf("codec: cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("codec: nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, additionalData)

	return hex.EncodeToString(nonce) + separator + hex.EncodeToString(sealed), nil
}

// Decrypt opens an encoded code. Every failure is a *Error.
func (c *Codec) Decrypt(encoded string) (Payload, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Payload{}, fail(models.CodeInvalidInput, "empty code")
	}
	if len(encoded) > MaxEncodedLen {
		return Payload{}, fail(models.CodeInvalidInput, "code longer than %d characters", MaxEncodedLen)
	}

	parts := strings.Split(encoded, separator)
	if len(parts) != 2 {
		return Payload{}, fail(models.CodeDecryptionFailed, "expected exactly one separator, got %d", len(parts)-1)
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return Payload{}, fail(models.CodeDecryptionFailed, "nonce is not hex")
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return Payload{}, fail(models.CodeDecryptionFailed, "ciphertext is not hex")
	}

	aead, err := chacha20poly1305.NewX(c.aeadKey)
	if err != nil {
		return Payload{}, &Error{Code: models.CodeInternalError, Err: err}
	}
	if len(nonce) != aead.NonceSize() {
		return Payload{}, fail(models.CodeDecryptionFailed, "nonce must be %d bytes", aead.NonceSize())
	}
	plaintext, err := aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return Payload{}, fail(models.CodeDecryptionFailed, "authentication failed")
	}

	var w wirePayload
	if err := cbor.Unmarshal(plaintext, &w); err != nil {
		return Payload{}, fail(models.CodeDecryptionFailed, "payload is not valid cbor")
	}

	p := Payload{
		Kind:          Kind(w.Kind),
		TicketID:      w.TicketID,
		WristbandID:   w.WristbandID,
		EventID:       w.EventID,
		UserID:        w.UserID,
		TransactionID: w.TransactionID,
		TicketTypeID:  w.TicketTypeID,
		IssuedAt:      time.Unix(w.IssuedAt, 0).UTC(),
		Checksum:      w.Checksum,
	}
	if w.ExpiresAt != 0 {
		exp := time.Unix(w.ExpiresAt, 0).UTC()
		p.ExpiresAt = &exp
	}
	return p, nil
}

// ValidateStructure checks required fields, the checksum and expiry.
func (c *Codec) ValidateStructure(p Payload) error {
	if missing := missingField(p); missing != "" {
		return fail(models.CodeChecksumMismatch, "missing %s", missing)
	}
	if len(p.Checksum) != ChecksumLength {
		return fail(models.CodeChecksumMismatch, "checksum has wrong length")
	}
	expected := c.Checksum(p)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(p.Checksum)) != 1 {
		return fail(models.CodeChecksumMismatch, "checksum does not match payload")
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(c.now()) {
		return fail(models.CodeExpired, "expired at %s", p.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Valid is ValidateStructure as a predicate.
func (c *Codec) Valid(p Payload) bool {
	return c.ValidateStructure(p) == nil
}

// Decode runs Decrypt then ValidateStructure and checks the payload kind.
func (c *Codec) Decode(encoded string, kind Kind) (Payload, error) {
	p, err := c.Decrypt(encoded)
	if err != nil {
		return Payload{}, err
	}
	if p.Kind != kind {
		return Payload{}, fail(models.CodeInvalidInput, "expected a %s code, got %q", kind, p.Kind)
	}
	if err := c.ValidateStructure(p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func missingField(p Payload) string {
	if p.IssuedAt.IsZero() || p.IssuedAt.Unix() <= 0 {
		return "issuedAt"
	}
	if p.EventID == "" {
		return "eventId"
	}
	switch p.Kind {
	case KindTicket:
		switch {
		case p.TicketID == "":
			return "ticketId"
		case p.UserID == "":
			return "userId"
		case p.TransactionID == "":
			return "transactionId"
		case p.TicketTypeID == "":
			return "ticketTypeId"
		}
	case KindWristband:
		if p.WristbandID == "" {
			return "wristbandId"
		}
	default:
		return "kind"
	}
	return ""
}
