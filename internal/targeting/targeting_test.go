package targeting

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testPolicy = Policy{
	CenterColumn:       320,
	AreaThreshold:      3600,
	MaxHorizontalDelta: 80,
}

func TestSelectPrimaryTarget_Empty(t *testing.T) {
	_, ok := SelectPrimaryTarget(nil)
	assert.False(t, ok)

	_, ok = SelectPrimaryTarget(Frame{})
	assert.False(t, ok)
}

func TestSelectPrimaryTarget_LargestArea(t *testing.T) {
	frame := Frame{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 50, Y: 50, Width: 40, Height: 30},
		{X: 100, Y: 100, Width: 20, Height: 20},
	}
	got, ok := SelectPrimaryTarget(frame)
	assert.True(t, ok)
	assert.Equal(t, frame[1], got)
}

func TestSelectPrimaryTarget_TieFirstWins(t *testing.T) {
	frame := Frame{
		{X: 1, Y: 1, Width: 10, Height: 20},
		{X: 2, Y: 2, Width: 20, Height: 10},
		{X: 3, Y: 3, Width: 5, Height: 40},
	}
	got, ok := SelectPrimaryTarget(frame)
	assert.True(t, ok)
	assert.Equal(t, 1, got.X)
}

func TestSelectPrimaryTarget_MaximalProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(8)
		frame := make(Frame, n)
		for i := range frame {
			frame[i] = Region{
				X:      rng.Intn(640),
				Y:      rng.Intn(360),
				Width:  1 + rng.Intn(120),
				Height: 1 + rng.Intn(120),
			}
		}
		got, ok := SelectPrimaryTarget(frame)
		if !ok {
			t.Fatalf("iteration %d: no target selected from %d regions", iter, n)
		}
		for _, r := range frame {
			if r.Area() > got.Area() {
				t.Fatalf("iteration %d: selected area %d but %v has area %d", iter, got.Area(), r, r.Area())
			}
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		region     Region
		sufficient bool
		alignment  Alignment
	}{
		{"centred and close", Region{X: 280, Y: 100, Width: 80, Height: 80}, true, Centered},
		{"far left and close", Region{X: 100, Y: 50, Width: 100, Height: 50}, true, Left},
		{"far right and close", Region{X: 500, Y: 50, Width: 100, Height: 50}, true, Right},
		{"small", Region{X: 10, Y: 10, Width: 20, Height: 20}, false, Left},
		{"area equal to threshold", Region{X: 290, Y: 0, Width: 60, Height: 60}, false, Centered},
		// centre 240, delta exactly -80
		{"left edge of dead zone", Region{X: 200, Y: 0, Width: 80, Height: 80}, true, Centered},
		// centre 400, delta exactly +80
		{"right edge of dead zone", Region{X: 360, Y: 0, Width: 80, Height: 80}, true, Centered},
		// centre 239.5, delta -80.5
		{"just past left edge", Region{X: 199, Y: 0, Width: 81, Height: 80}, true, Left},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.region, testPolicy)
			assert.Equal(t, tt.sufficient, c.AreaSufficient)
			assert.Equal(t, tt.alignment, c.Alignment)
		})
	}
}

func TestClassify_Delta(t *testing.T) {
	c := Classify(Region{X: 100, Y: 50, Width: 100, Height: 50}, testPolicy)
	assert.InDelta(t, -170.0, c.Delta, 1e-9)
}

func TestRegionValidate(t *testing.T) {
	assert.NoError(t, Region{Width: 1, Height: 1}.Validate())

	err := Region{Width: -3, Height: 4}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidRegion))

	err = Frame{{Width: 2, Height: 2}, {Width: 2, Height: 0}}.Validate()
	assert.ErrorIs(t, err, ErrInvalidRegion)
	assert.Contains(t, err.Error(), "region 1")
}

func TestRegionCenter(t *testing.T) {
	c := Region{X: 280, Y: 100, Width: 80, Height: 80}.Center()
	assert.Equal(t, 320.0, c.X)
	assert.Equal(t, 140.0, c.Y)
}

func TestAlignmentString(t *testing.T) {
	assert.Equal(t, "left", Left.String())
	assert.Equal(t, "centered", Centered.String())
	assert.Equal(t, "right", Right.String())
	assert.Equal(t, "alignment(7)", Alignment(7).String())
}
