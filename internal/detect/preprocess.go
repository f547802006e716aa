package detect

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Preprocess optionally resizes img to size×size (size <= 0 keeps the
// original size) and, when enhance is set, stretches each colour channel's
// 1st..99th percentile range to the full 0..255 scale.
func Preprocess(img image.Image, size int, enhance bool) image.Image {
	b := img.Bounds()
	dstRect := image.Rect(0, 0, b.Dx(), b.Dy())
	if size > 0 {
		dstRect = image.Rect(0, 0, size, size)
	}
	out := image.NewRGBA(dstRect)
	if size > 0 {
		xdraw.BiLinear.Scale(out, dstRect, img, b, xdraw.Src, nil)
	} else {
		xdraw.Draw(out, dstRect, img, b.Min, xdraw.Src)
	}
	if enhance {
		stretch(out)
	}
	return out
}

func stretch(img *image.RGBA) {
	n := len(img.Pix) / 4
	if n == 0 {
		return
	}
	for c := 0; c < 3; c++ {
		var hist [256]int
		for i := 0; i < n; i++ {
			hist[img.Pix[i*4+c]]++
		}
		lo := percentile(hist, n, 0.01)
		hi := percentile(hist, n, 0.99)
		if hi <= lo {
			continue
		}
		scale := 255 / float64(hi-lo)
		var lut [256]uint8
		for v := 0; v < 256; v++ {
			switch {
			case v <= lo:
				lut[v] = 0
			case v >= hi:
				lut[v] = 255
			default:
				lut[v] = uint8(float64(v-lo)*scale + 0.5)
			}
		}
		for i := 0; i < n; i++ {
			img.Pix[i*4+c] = lut[img.Pix[i*4+c]]
		}
	}
}

// percentile returns the smallest value whose cumulative count reaches q·n.
func percentile(hist [256]int, n int, q float64) int {
	target := int(q * float64(n))
	cum := 0
	for v, count := range hist {
		cum += count
		if cum > target {
			return v
		}
	}
	return 255
}
