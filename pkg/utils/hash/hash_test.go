package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	a := HashString("/etc/mockhttp/mockhttp.config.yaml")
	b := HashString("/etc/mockhttp/mockhttp.config.yaml")
	c := HashString("/tmp/other.yaml")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEmpty(t, a)
}
