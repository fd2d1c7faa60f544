package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestYUVToRGBKnownValues(t *testing.T) {
	cases := []struct {
		name    string
		y, u, v int
		r, g, b byte
	}{
		{"limited black", 16, 128, 128, 0, 0, 0},
		{"limited white", 235, 128, 128, 255, 255, 255},
		{"primary red", 81, 90, 240, 255, 0, 0},
		{"superwhite clamps", 255, 255, 255, 255, 125, 255},
		{"all zero input", 0, 0, 0, 0, 135, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, g, b := yuvToRGB(tc.y, tc.u, tc.v)
			require.Equal(t, []byte{tc.r, tc.g, tc.b}, []byte{r, g, b})
		})
	}
}

func TestYUYVPairSharesChroma(t *testing.T) {
	src := []byte{81, 90, 145, 240}
	dst := make([]byte, 2*1*3)
	YUYVToRGB(dst, src, 2, 1)

	r0, g0, b0 := yuvToRGB(81, 90, 240)
	r1, g1, b1 := yuvToRGB(145, 90, 240)
	require.Equal(t, []byte{r0, g0, b0, r1, g1, b1}, dst)
}

func TestYUYVShortSourceFallsBackToPattern(t *testing.T) {
	const w, h = 4, 2
	dst := make([]byte, w*h*3)
	YUYVToRGB(dst, []byte{1, 2, 3}, w, h)

	want := make([]byte, w*h*3)
	FillPattern(want, w, h)
	require.Equal(t, want, dst)
}

func TestYUYVOddWidthSkipsTrailingHalfPair(t *testing.T) {
	const w, h = 3, 1
	src := []byte{16, 128, 16, 128, 16, 128}
	dst := make([]byte, w*h*3)
	for i := range dst {
		dst[i] = 0xAA
	}
	YUYVToRGB(dst, src, w, h)

	require.Equal(t, []byte{0, 0, 0, 0, 0, 0}, dst[:6])
	// The final column has no complete chroma pair and is left untouched.
	require.Equal(t, []byte{0xAA, 0xAA, 0xAA}, dst[6:])
}

func TestNV24KnownPixels(t *testing.T) {
	yPlane := []byte{16, 235}
	uvPlane := []byte{128, 128, 128, 128}
	dst := make([]byte, 2*1*3)
	NV24ToRGB(dst, yPlane, uvPlane, 2, 1)
	require.Equal(t, []byte{0, 0, 0, 255, 255, 255}, dst)
}

func TestNV24PerPixelChroma(t *testing.T) {
	// Unlike 4:2:2, each NV24 pixel carries its own chroma pair.
	yPlane := []byte{81, 81}
	uvPlane := []byte{90, 240, 128, 128}
	dst := make([]byte, 2*1*3)
	NV24ToRGB(dst, yPlane, uvPlane, 2, 1)

	r0, g0, b0 := yuvToRGB(81, 90, 240)
	r1, g1, b1 := yuvToRGB(81, 128, 128)
	require.Equal(t, []byte{r0, g0, b0, r1, g1, b1}, dst)
}

func TestNV24ShortPlanesFallBackToPattern(t *testing.T) {
	const w, h = 4, 2
	dst := make([]byte, w*h*3)
	NV24ToRGB(dst, nil, nil, w, h)

	want := make([]byte, w*h*3)
	FillPattern(want, w, h)
	require.Equal(t, want, dst)
}

func TestFillPatternFormula(t *testing.T) {
	const w, h = 300, 120
	dst := make([]byte, w*h*3)
	FillPattern(dst, w, h)

	at := func(x, y int) []byte {
		i := (y*w + x) * 3
		return dst[i : i+3]
	}
	require.Equal(t, []byte{0, 0, 0}, at(0, 0))
	require.Equal(t, []byte{15, 25, 35}, at(10, 5))
	// Channels wrap independently once x multiples pass 255.
	require.Equal(t, []byte{44, 244, 188}, at(200, 100))
}

func TestPatternSourcePacing(t *testing.T) {
	p := NewPattern(8, 8)

	_, err := p.Read()
	require.Error(t, err)

	require.NoError(t, p.Connect())
	t.Cleanup(func() { p.Close() })

	f, err := p.Read()
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, 8, f.Width)
	require.Equal(t, 8, f.Height)

	want := make([]byte, 8*8*3)
	FillPattern(want, 8, 8)
	require.Equal(t, want, f.RGB)

	f, err = p.Read()
	require.NoError(t, err)
	require.Nil(t, f)

	time.Sleep(40 * time.Millisecond)
	f, err = p.Read()
	require.NoError(t, err)
	require.NotNil(t, f)
}

func TestNewPatternDefaults(t *testing.T) {
	p := NewPattern(0, 0)
	require.Equal(t, 640, p.width)
	require.Equal(t, 360, p.height)
}
