package imapsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMasterLogin(t *testing.T) {
	assert.Equal(t, "alice@example.com*sync", masterLogin("alice@example.com", "sync"))
}
