package codec_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-admission/internal/codec"
	"ms-admission/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newCodec(t *testing.T, now time.Time) *codec.Codec {
	t.Helper()
	c, err := codec.New(testSecret, codec.WithClock(fixedClock(now)))
	require.NoError(t, err)
	return c
}

func sampleIdentity() codec.TicketIdentity {
	return codec.TicketIdentity{
		TicketID:      "ticket-1",
		EventID:       "event-1",
		UserID:        "user-1",
		TransactionID: "txn-1",
		TicketTypeID:  "type-vip",
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	_, err := codec.New("")
	assert.ErrorIs(t, err, codec.ErrKeyMissing)

	_, err = codec.New("short-key")
	assert.ErrorIs(t, err, codec.ErrKeyTooShort)
}

func TestRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 30, 15, 123456789, time.UTC)
	c := newCodec(t, now)
	eventDate := now.Add(72 * time.Hour)

	for _, p := range []codec.Payload{
		c.Generate(sampleIdentity(), nil),
		c.Generate(sampleIdentity(), &eventDate),
		c.GenerateWristband("wb-1", "event-1"),
	} {
		encoded, err := c.Encrypt(p)
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(encoded, ":"))

		decoded, err := c.Decrypt(encoded)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
		assert.NoError(t, c.ValidateStructure(decoded))
	}
}

func TestGenerateDerivesExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c, err := codec.New(testSecret, codec.WithClock(fixedClock(now)), codec.WithExpiryGrace(6*time.Hour))
	require.NoError(t, err)

	p := c.Generate(sampleIdentity(), nil)
	assert.Nil(t, p.ExpiresAt)
	assert.Equal(t, now, p.IssuedAt)
	assert.Len(t, p.Checksum, codec.ChecksumLength)

	eventDate := now.Add(48 * time.Hour)
	p = c.Generate(sampleIdentity(), &eventDate)
	require.NotNil(t, p.ExpiresAt)
	assert.Equal(t, eventDate.Add(6*time.Hour), *p.ExpiresAt)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := newCodec(t, time.Now())
	p := c.Generate(sampleIdentity(), nil)

	first, err := c.Encrypt(p)
	require.NoError(t, err)
	second, err := c.Encrypt(p)
	require.NoError(t, err)

	assert.NotEqual(t, strings.Split(first, ":")[0], strings.Split(second, ":")[0])
	assert.NotEqual(t, first, second)
}

func TestTamperedFieldFailsChecksum(t *testing.T) {
	c := newCodec(t, time.Now())
	eventDate := time.Now().Add(24 * time.Hour)
	original := c.Generate(sampleIdentity(), &eventDate)
	later := eventDate.Add(time.Hour)

	mutations := map[string]func(p *codec.Payload){
		"ticketId":      func(p *codec.Payload) { p.TicketID = "ticket-2" },
		"eventId":       func(p *codec.Payload) { p.EventID = "event-2" },
		"userId":        func(p *codec.Payload) { p.UserID = "user-2" },
		"transactionId": func(p *codec.Payload) { p.TransactionID = "txn-2" },
		"ticketTypeId":  func(p *codec.Payload) { p.TicketTypeID = "type-ga" },
		"issuedAt":      func(p *codec.Payload) { p.IssuedAt = p.IssuedAt.Add(-time.Hour) },
		"expiresAt":     func(p *codec.Payload) { p.ExpiresAt = &later },
		"kind":          func(p *codec.Payload) { p.Kind = codec.KindWristband; p.WristbandID = "wb" },
		"checksum":      func(p *codec.Payload) { p.Checksum = strings.Repeat("0", codec.ChecksumLength) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := original
			mutate(&p)

			encoded, err := c.Encrypt(p)
			require.NoError(t, err)
			decoded, err := c.Decrypt(encoded)
			require.NoError(t, err)

			err = c.ValidateStructure(decoded)
			require.Error(t, err)
			assert.Equal(t, models.CodeChecksumMismatch, codec.CodeOf(err))
			assert.False(t, c.Valid(decoded))
		})
	}
}

func TestExpiredPayloadWithValidChecksum(t *testing.T) {
	now := time.Now()
	c := newCodec(t, now)

	p := codec.Payload{
		Kind:          codec.KindTicket,
		TicketID:      "abc",
		EventID:       "event-1",
		UserID:        "user-1",
		TransactionID: "txn-1",
		TicketTypeID:  "type-1",
		IssuedAt:      now.Add(-time.Hour).UTC().Truncate(time.Second),
	}
	expired := now.Add(-time.Second)
	p.ExpiresAt = &expired
	p.Checksum = c.Checksum(p)

	err := c.ValidateStructure(p)
	require.Error(t, err)
	assert.Equal(t, models.CodeExpired, codec.CodeOf(err))
}

func TestDecryptStructuralFailures(t *testing.T) {
	c := newCodec(t, time.Now())
	valid, err := c.Encrypt(c.Generate(sampleIdentity(), nil))
	require.NoError(t, err)
	parts := strings.Split(valid, ":")

	other, err := codec.New("another-secret-that-is-long-enough-123")
	require.NoError(t, err)

	cases := map[string]struct {
		input string
		code  models.ErrorCode
	}{
		"empty":           {"", models.CodeInvalidInput},
		"oversized":       {strings.Repeat("a", codec.MaxEncodedLen+1), models.CodeInvalidInput},
		"no separator":    {parts[0] + parts[1], models.CodeDecryptionFailed},
		"two separators":  {parts[0] + ":" + parts[1] + ":00", models.CodeDecryptionFailed},
		"non-hex nonce":   {"zz" + parts[0][2:] + ":" + parts[1], models.CodeDecryptionFailed},
		"non-hex cipher":  {parts[0] + ":" + parts[1][:len(parts[1])-2] + "zz", models.CodeDecryptionFailed},
		"short nonce":     {parts[0][:10] + ":" + parts[1], models.CodeDecryptionFailed},
		"flipped byte":    {parts[0] + ":" + flipLastHex(parts[1]), models.CodeDecryptionFailed},
		"truncated":       {parts[0] + ":" + parts[1][:20], models.CodeDecryptionFailed},
		"wrong separator": {strings.Replace(valid, ":", ";", 1), models.CodeDecryptionFailed},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(tc.input)
			require.Error(t, err)
			assert.Equal(t, tc.code, codec.CodeOf(err))
		})
	}

	t.Run("wrong key", func(t *testing.T) {
		_, err := other.Decrypt(valid)
		assert.Equal(t, models.CodeDecryptionFailed, codec.CodeOf(err))
	})
}

func TestDecodeChecksKind(t *testing.T) {
	c := newCodec(t, time.Now())
	encoded, err := c.Encrypt(c.GenerateWristband("wb-1", "event-1"))
	require.NoError(t, err)

	_, err = c.Decode(encoded, codec.KindTicket)
	assert.Equal(t, models.CodeInvalidInput, codec.CodeOf(err))

	p, err := c.Decode(encoded, codec.KindWristband)
	require.NoError(t, err)
	assert.Equal(t, "wb-1", p.WristbandID)
	assert.Nil(t, p.ExpiresAt)
}

func TestMissingFieldsFailValidation(t *testing.T) {
	c := newCodec(t, time.Now())
	p := c.Generate(codec.TicketIdentity{TicketID: "t", EventID: "e", UserID: "u", TransactionID: "x"}, nil)
	assert.Equal(t, models.CodeChecksumMismatch, codec.CodeOf(c.ValidateStructure(p)))
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, models.CodeInternalError, codec.CodeOf(assert.AnError))
	assert.Equal(t, models.ErrorCode(""), codec.CodeOf(nil))
}

func flipLastHex(s string) string {
	last := s[len(s)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	return s[:len(s)-1] + string(replacement)
}
