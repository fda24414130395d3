package cell_test

import (
	"testing"

	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/stretchr/testify/assert"
)

func TestFloatRoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 3.25, -0.125, 1e10} {
		c := cell.FromFloat(f)
		assert.Equal(t, f, c.AsFloat())
	}
}
