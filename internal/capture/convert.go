// Package capture pulls frames from the passthrough camera of the glasses
// and converts them to tightly packed RGB. Backends implement Source; the
// real one sits on Video4Linux2, with a synthetic pattern source for rigs
// without a camera.
package capture

import "log"

// clamp8 narrows fixed-point converter output to a byte.
func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// yuvToRGB converts one limited-range BT.601 YUV pixel using the usual
// integer approximation.
func yuvToRGB(y, u, v int) (byte, byte, byte) {
	c := y - 16
	d := u - 128
	e := v - 128
	r := clamp8((298*c + 409*e + 128) >> 8)
	g := clamp8((298*c - 100*d - 208*e + 128) >> 8)
	b := clamp8((298*c + 516*d + 128) >> 8)
	return r, g, b
}

// YUYVToRGB expands packed 4:2:2 YUYV into RGB. dst must hold
// width*height*3 bytes. A source shorter than one full frame is replaced by
// the diagnostic pattern; each two horizontally adjacent pixels share one
// chroma pair.
func YUYVToRGB(dst, src []byte, width, height int) {
	if len(src) < width*height*2 {
		log.Printf("[capture] yuyv: short frame, want %d bytes got %d", width*height*2, len(src))
		FillPattern(dst, width, height)
		return
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x += 2 {
			si := (y*width + x) * 2
			if si+3 >= len(src) {
				continue
			}
			di := (y*width + x) * 3
			y0 := int(src[si])
			u := int(src[si+1])
			y1 := int(src[si+2])
			v := int(src[si+3])
			dst[di], dst[di+1], dst[di+2] = yuvToRGB(y0, u, v)
			if x+1 < width {
				dst[di+3], dst[di+4], dst[di+5] = yuvToRGB(y1, u, v)
			}
		}
	}
}

// NV24ToRGB converts semi-planar 4:4:4 NV24: a full-resolution luma plane
// followed by a full-resolution interleaved CbCr plane. dst must hold
// width*height*3 bytes. Short planes are replaced by the diagnostic pattern.
func NV24ToRGB(dst, yPlane, uvPlane []byte, width, height int) {
	if len(yPlane) < width*height || len(uvPlane) < width*height*2 {
		log.Printf("[capture] nv24: short planes, luma %d chroma %d for %dx%d",
			len(yPlane), len(uvPlane), width, height)
		FillPattern(dst, width, height)
		return
	}
	for i := 0; i < width*height; i++ {
		dst[i*3], dst[i*3+1], dst[i*3+2] = yuvToRGB(int(yPlane[i]), int(uvPlane[i*2]), int(uvPlane[i*2+1]))
	}
}

// FillPattern paints the diagnostic gradient shown when no usable frame data
// is available.
func FillPattern(dst []byte, width, height int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 3
			dst[i] = byte((x + y) % 256)
			dst[i+1] = byte((x*2 + y) % 256)
			dst[i+2] = byte((x*3 + y) % 256)
		}
	}
}
