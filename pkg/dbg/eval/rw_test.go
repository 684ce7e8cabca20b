package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBytes_LocValue(t *testing.T) {
	ev := &Evaluator{}
	buf, err := ev.readBytes(Loc{Kind: LocValue, Value: 0x1122334455667788}, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x88, 0x77, 0x66, 0x55}, buf)
}

func TestReadBytes_TooWide(t *testing.T) {
	ev := &Evaluator{}
	_, err := ev.readBytes(Loc{Kind: LocValue, Value: 1}, 9)
	assert.Error(t, err)
}

func TestReadBytes_UnknownKind(t *testing.T) {
	ev := &Evaluator{}
	_, err := ev.readBytes(Loc{Kind: LocKind(99)}, 4)
	assert.Error(t, err)
}

func TestWriteBytes_RejectsLiteralLocation(t *testing.T) {
	ev := &Evaluator{}
	err := ev.writeBytes(Loc{Kind: LocValue, Value: 1}, []byte{1, 2, 3, 4})
	assert.Error(t, err)
}
