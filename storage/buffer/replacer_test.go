package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplacerVictimOrder(t *testing.T) {
	r := NewReplacer[int]()

	r.Insert(1)
	r.Insert(2)
	r.Insert(3)
	assert.Equal(t, 3, r.Size())

	// re-inserting moves the item to the front, so it is victimized last
	r.Insert(1)

	v, ok := r.Victim()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = r.Victim()
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = r.Victim()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Victim()
	assert.False(t, ok)
}

func TestReplacerErase(t *testing.T) {
	r := NewReplacer[int]()

	r.Insert(1)
	r.Insert(2)

	assert.True(t, r.Erase(1))
	assert.False(t, r.Erase(1))
	assert.Equal(t, 1, r.Size())

	v, ok := r.Victim()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}
