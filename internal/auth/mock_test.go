package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMockValidator_AcceptsAnyToken(t *testing.T) {
	mock := &MockValidator{}

	claims, err := mock.ValidateToken("not-even-a-jwt")
	assert.NoError(t, err)
	assert.NotNil(t, claims)
}

func TestMockValidator_RejectsEmptyToken(t *testing.T) {
	mock := &MockValidator{}

	_, err := mock.ValidateToken("")
	assert.Error(t, err)
}
