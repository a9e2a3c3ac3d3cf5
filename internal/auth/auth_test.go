package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func TestJWTCodec_IssueVerify(t *testing.T) {
	codec := NewJWTCodec(testKey, time.Hour)

	token, err := codec.Issue(42)
	require.NoError(t, err, "expected token to be issued")

	userId, err := codec.Verify(token)
	assert.NoError(t, err, "expected freshly issued token to verify")
	assert.Equal(t, 42, userId, "expected user id claim to round trip")
}

func TestJWTCodec_Verify(t *testing.T) {
	issuedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	issuer := NewJWTCodec(testKey, DefaultTokenTTL)
	issuer.now = func() time.Time { return issuedAt }
	token, err := issuer.Issue(7)
	require.NoError(t, err)

	otherKey := NewJWTCodec([]byte("another-key"), DefaultTokenTTL)
	otherKey.now = issuer.now
	foreign, err := otherKey.Issue(7)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": 7, "exp": issuedAt.Add(time.Hour).Unix()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": 7})
	noExpToken, err := noExp.SignedString(testKey)
	require.NoError(t, err)

	tcases := []struct {
		name   string
		token  string
		now    time.Time
		userId int
		err    error
	}{
		{
			name:   "valid within a day",
			token:  token,
			now:    issuedAt.Add(23 * time.Hour),
			userId: 7,
		},
		{
			name:  "expired after a day",
			token: token,
			now:   issuedAt.Add(25 * time.Hour),
			err:   ErrExpiredCredential,
		},
		{
			name:  "signed with another key",
			token: foreign,
			now:   issuedAt,
			err:   ErrMalformedCredential,
		},
		{
			name:  "garbage",
			token: "not.a.token",
			now:   issuedAt,
			err:   ErrMalformedCredential,
		},
		{
			name:  "unsigned token",
			token: unsigned,
			now:   issuedAt,
			err:   ErrMalformedCredential,
		},
		{
			name:  "tampered payload",
			token: token[:strings.LastIndex(token, ".")] + ".AAAA",
			now:   issuedAt,
			err:   ErrMalformedCredential,
		},
		{
			name:  "missing expiry",
			token: noExpToken,
			now:   issuedAt,
			err:   ErrMalformedCredential,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			codec := NewJWTCodec(testKey, DefaultTokenTTL)
			codec.now = func() time.Time { return tc.now }

			userId, err := codec.Verify(tc.token)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err, "expected verification error")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.userId, userId)
		})
	}
}

func TestPasswordHashers(t *testing.T) {
	hashers := map[string]PasswordHasher{
		"bcrypt":   &BcryptHasher{Cost: 4},
		"argon2id": &Argon2idHasher{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16},
	}

	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			hash, err := h.Hash("s3cret-password")
			require.NoError(t, err)
			assert.NotEqual(t, "s3cret-password", hash, "expected hash to differ from the password")

			assert.NoError(t, h.Compare(hash, "s3cret-password"), "expected matching password to compare")
			assert.ErrorIs(t, h.Compare(hash, "wrong"), ErrPasswordMismatch, "expected mismatch for wrong password")

			again, err := h.Hash("s3cret-password")
			require.NoError(t, err)
			assert.NotEqual(t, hash, again, "expected salted hashes to differ")
		})
	}
}

func TestArgon2idHasher_Format(t *testing.T) {
	h := NewArgon2idHasher()
	hash, err := h.Hash("pw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"), "unexpected hash format: %s", hash)

	assert.Error(t, h.Compare("$bcrypt$whatever", "pw"), "expected error for foreign hash format")
}

func TestNewPasswordHasher(t *testing.T) {
	h, err := NewPasswordHasher("bcrypt")
	assert.NoError(t, err)
	assert.IsType(t, &BcryptHasher{}, h)

	h, err = NewPasswordHasher("argon2id")
	assert.NoError(t, err)
	assert.IsType(t, &Argon2idHasher{}, h)

	_, err = NewPasswordHasher("rot13")
	assert.Error(t, err)
}
