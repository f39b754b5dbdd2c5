package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pursuit/internal/planner"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		action planner.Action
		want   string
	}{
		{"advance", planner.Action{Kind: planner.Advance, Magnitude: 170}, "1 170\n"},
		{"retreat", planner.Action{Kind: planner.Retreat, Magnitude: 20}, "2 20\n"},
		{"rotate cw", planner.Action{Kind: planner.RotateCW, Magnitude: 40}, "3 40\n"},
		{"rotate ccw", planner.Action{Kind: planner.RotateCCW, Magnitude: 40}, "4 40\n"},
		{"fire", planner.Action{Kind: planner.Fire, Magnitude: 3}, "5 3\n"},
		{"scan cw", planner.Action{Kind: planner.ScanRotate, Magnitude: 50, Direction: planner.RotateCW}, "3 50\n"},
		{"scan ccw", planner.Action{Kind: planner.ScanRotate, Magnitude: 50, Direction: planner.RotateCCW}, "4 50\n"},
		{"truncates", planner.Action{Kind: planner.Advance, Magnitude: 12.9}, "1 12\n"},
		{"fractional positive truncates to zero", planner.Action{Kind: planner.RotateCW, Magnitude: 0.5}, "3 0\n"},
		{"fire zero seconds", planner.Action{Kind: planner.Fire, Magnitude: 0}, "5 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Encode(tt.action)))
		})
	}
}

func TestEncode_NonPositiveIsNoOp(t *testing.T) {
	for _, a := range []planner.Action{
		{Kind: planner.Advance, Magnitude: 0},
		{Kind: planner.Retreat, Magnitude: -5},
		{Kind: planner.RotateCW, Magnitude: 0},
		{Kind: planner.RotateCCW, Magnitude: -40},
		{Kind: planner.ScanRotate, Magnitude: 0, Direction: planner.RotateCW},
		{Kind: planner.Fire, Magnitude: -1},
		{Kind: planner.Kind(42), Magnitude: 10},
		{Kind: planner.ScanRotate, Magnitude: 10},
	} {
		assert.Nil(t, Encode(a), "action %v", a)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, a := range []planner.Action{
		{Kind: planner.Advance, Magnitude: 170},
		{Kind: planner.Retreat, Magnitude: 1},
		{Kind: planner.RotateCW, Magnitude: 40},
		{Kind: planner.RotateCCW, Magnitude: 360},
		{Kind: planner.Fire, Magnitude: 3},
		{Kind: planner.Advance, Magnitude: 99.99},
	} {
		want, ok := FromAction(a)
		require.True(t, ok)

		got, err := Parse(string(Encode(a)))
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, int(a.Magnitude), got.Magnitude)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"5",
		"x 3\n",
		"9 3\n",
		"0 3\n",
		"1 -3\n",
		"1 abc\n",
		"1  3\n",
	} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrMalformed, "line %q", line)
	}
}

func TestParse_NoNewline(t *testing.T) {
	cmd, err := Parse("4 50")
	require.NoError(t, err)
	assert.Equal(t, Command{Opcode: OpRotateCCW, Magnitude: 50}, cmd)
}

func TestDecode(t *testing.T) {
	assert.True(t, Decode(true).Received)
	assert.False(t, Decode(false).Received)
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "fire", OpFire.String())
	assert.Equal(t, "opcode(9)", Opcode(9).String())
	assert.False(t, Opcode(0).Valid())
}
