// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowAccessors(t *testing.T) {
	buf := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}

	raw, err := New(buf, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, raw.Len())
	assert.Equal(t, []byte{0xbe, 0xef, 0x01, 0x02}, raw.Bytes())

	b, err := raw.Byte(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xbe), b)

	u16, err := raw.Uint16At(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xbeef), u16)

	u32, err := raw.Uint32At(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xbeef0102), u32)

	s, err := raw.Slice(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xef, 0x01}, s)
}

func TestWindowBoundsChecked(t *testing.T) {
	raw := FromBytes([]byte{1, 2, 3})

	_, err := raw.Byte(3)
	assert.ErrorIs(t, err, errOutOfRange)
	_, err = raw.Byte(-1)
	assert.ErrorIs(t, err, errOutOfRange)
	_, err = raw.Uint16At(2)
	assert.ErrorIs(t, err, errOutOfRange)
	_, err = raw.Uint32At(0)
	assert.ErrorIs(t, err, errOutOfRange)
	_, err = raw.Slice(2, 4)
	assert.ErrorIs(t, err, errOutOfRange)
	_, err = raw.Slice(2, 1)
	assert.ErrorIs(t, err, errOutOfRange)

	_, err = New([]byte{1, 2}, 1, 2)
	assert.ErrorIs(t, err, errOutOfRange)
}

func TestCloneOwnsItsBuffer(t *testing.T) {
	buf := []byte{1, 2, 3}
	clone := FromBytes(buf).Clone()
	buf[0] = 99
	assert.Equal(t, []byte{1, 2, 3}, clone.Bytes())
}
