package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtos/virtos/internal/interp"
)

func TestEventLogRetainsMostRecentEntries(t *testing.T) {
	log := NewEventLog[int](3)
	for i := 1; i <= 5; i++ {
		log.Record(i)
	}
	assert.Equal(t, 3, log.Len())
	assert.Equal(t, []int{3, 4, 5}, log.Recent())
}

func TestEventLogBelowCapacityKeepsInsertionOrder(t *testing.T) {
	log := NewEventLog[string](4)
	log.Record("a")
	log.Record("b")
	assert.Equal(t, []string{"a", "b"}, log.Recent())
	assert.Equal(t, 2, log.Len())
}

func TestFormatCountGroupsThousands(t *testing.T) {
	assert.Equal(t, "1,234,567", FormatCount(1234567))
	assert.Equal(t, "42", FormatCount(42))
}

func TestSwitchProfileWriteProducesValidProfile(t *testing.T) {
	sp := NewSwitchProfile()
	sp.RecordDispatch(1, 5)
	sp.RecordDispatch(2, 3)
	sp.RecordDispatch(1, 5)

	var buf bytes.Buffer
	require.NoError(t, sp.Write(&buf))
	assert.NotZero(t, buf.Len())
}

func TestDumpProgramDisassemblesInstructions(t *testing.T) {
	image := append([]byte{byte(interp.Incr)}, 1, 0, 0, 0)
	image = append(image, byte(interp.Exit))

	var buf bytes.Buffer
	DumpProgram(&buf, image)

	out := buf.String()
	assert.Contains(t, out, "incr 1")
	assert.Contains(t, out, "exit")
}

func TestDumpInstructionWritesMnemonicAndOperandCount(t *testing.T) {
	var buf bytes.Buffer
	DumpInstruction(&buf, interp.Addi)
	assert.Contains(t, buf.String(), "addi (2 operand(s))")
}
