package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_validateRequest(t *testing.T) {
	tcases := []struct {
		name     string
		req      any
		expected []string
	}{
		{
			name: "valid signup",
			req:  &SignupRequest{Name: "A", Email: "alice@example.com", Password: "123456"},
		},
		{
			name: "signup reports every field",
			req:  &SignupRequest{Name: "alice", Email: "Alice <alice@example.com>", Password: "12345"},
			expected: []string{
				`"email" must be a valid email`,
				`"password" length must be at least 6 characters long`,
			},
		},
		{
			name: "missing signup fields",
			req:  &SignupRequest{},
			expected: []string{
				`"name" is required`,
				`"email" is required`,
				`"password" is required`,
			},
		},
		{
			name: "unset user fields are skipped",
			req:  &UpdateUserRequest{},
		},
		{
			name:     "name lengths count characters",
			req:      &UpdateUserRequest{Name: strPtr("éè")},
			expected: []string{`"name" length must be at least 3 characters long`},
		},
		{
			name:     "name too long",
			req:      &UpdateUserRequest{Name: strPtr(strings.Repeat("a", 51))},
			expected: []string{`"name" length must be less than or equal to 50 characters long`},
		},
		{
			name:     "empty email",
			req:      &UpdateUserRequest{Email: strPtr("")},
			expected: []string{`"email" must be a valid email`},
		},
		{
			name:     "short new password",
			req:      &UpdatePasswordRequest{OldPassword: "password1", NewPassword: "123"},
			expected: []string{`"newPassword" length must be at least 6 characters long`},
		},
		{
			name: "valid profile",
			req: &UpdateProfileRequest{
				Bio:            strPtr("hello"),
				Interests:      []string{"go", "chess"},
				ProfilePicture: strPtr("https://cdn.example.com/a.png"),
			},
		},
		{
			name: "profile limits",
			req: &UpdateProfileRequest{
				Bio:            strPtr(strings.Repeat("b", 501)),
				Interests:      []string{"go", strings.Repeat("i", 51)},
				ProfilePicture: strPtr("/uploads/a.png"),
			},
			expected: []string{
				`"bio" length must be less than or equal to 500 characters long`,
				`"interests[1]" length must be less than or equal to 50 characters long`,
				`"profile_picture" must be a valid uri`,
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRequest(tc.req)
			if tc.expected == nil {
				assert.NoError(t, err, "expected request to be valid")
				return
			}

			var apiErr *ApiError
			require.ErrorAs(t, err, &apiErr, "expected a validation error")
			assert.Equal(t, 400, apiErr.StatusCode)
			assert.Equal(t, tc.expected, apiErr.Errors)
		})
	}
}
