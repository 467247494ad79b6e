package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateLayoutDefaults(t *testing.T) {
	l, err := CalculateLayout(DefaultSlots, DefaultChunkCapacity, DefaultSegmentSize)
	require.NoError(t, err)

	assert.Equal(t, 2, l.Slots)
	assert.Equal(t, 4096, l.ChunkCapacity)
	assert.Equal(t, HeaderSize, l.SlotTableOffset)
	assert.Equal(t, 128, l.BufferOffset)
	assert.Equal(t, 4096, l.BufferStride)
	assert.Equal(t, 128+2*4096, l.Size)
	assert.Equal(t, 128, l.bufferOffset(0))
	assert.Equal(t, 128+4096, l.bufferOffset(1))
	assert.Equal(t, HeaderSize+SlotDescSize, l.slotDescOffset(1))
}

func TestCalculateLayoutAlignsStride(t *testing.T) {
	l, err := CalculateLayout(3, 100, DefaultSegmentSize)
	require.NoError(t, err)

	assert.Equal(t, 128, l.BufferStride)
	assert.Zero(t, l.BufferOffset%64)
	assert.Equal(t, l.BufferOffset+3*128, l.Size)
}

func TestCalculateLayoutRejects(t *testing.T) {
	tests := []struct {
		name    string
		slots   int
		chunk   int
		segment int
	}{
		{"zero slots", 0, 4096, DefaultSegmentSize},
		{"too many slots", MaxSlots + 1, 16, DefaultSegmentSize},
		{"zero chunk", 2, 0, DefaultSegmentSize},
		{"does not fit", 2, 32768, DefaultSegmentSize},
		{"header only", 1, 1, HeaderSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CalculateLayout(tt.slots, tt.chunk, tt.segment)
			assert.ErrorIs(t, err, ErrInvalidLayout)
		})
	}
}

func TestSingleSlotLayoutFits(t *testing.T) {
	l, err := CalculateLayout(1, DefaultChunkCapacity, DefaultSegmentSize)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Slots)
	assert.LessOrEqual(t, l.Size, DefaultSegmentSize)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "producer", RoleProducer.String())
	assert.Equal(t, "consumer", RoleConsumer.String())
	assert.Equal(t, "unknown", Role(7).String())
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("copy-1"))

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "a\x00b"} {
		assert.ErrorIs(t, ValidateName(name), ErrSegmentUnavailable, "name %q", name)
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/dev/shm/shmcopy_x", Path("", "x"))
	assert.Equal(t, "/tmp/seg/shmcopy_x", Path("/tmp/seg", "x"))
}
