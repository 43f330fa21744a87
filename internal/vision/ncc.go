package vision

import (
	"image"
	"math"
)

// plane is a gray image with summed-area tables for O(1) window sums.
type plane struct {
	img    *image.Gray
	w, h   int
	sum    []int64 // (w+1)*(h+1)
	sumSq  []int64
	stride int
}

func newPlane(img *image.Gray) *plane {
	b := img.Bounds()
	p := &plane{img: img, w: b.Dx(), h: b.Dy(), stride: b.Dx() + 1}
	p.sum = make([]int64, (p.w+1)*(p.h+1))
	p.sumSq = make([]int64, (p.w+1)*(p.h+1))

	for y := 0; y < p.h; y++ {
		var rowSum, rowSq int64
		row := img.Pix[y*img.Stride : y*img.Stride+p.w]
		for x, v := range row {
			iv := int64(v)
			rowSum += iv
			rowSq += iv * iv
			i := (y+1)*p.stride + x + 1
			p.sum[i] = p.sum[i-p.stride] + rowSum
			p.sumSq[i] = p.sumSq[i-p.stride] + rowSq
		}
	}
	return p
}

func (p *plane) window(table []int64, x, y, w, h int) int64 {
	a := y*p.stride + x
	b := a + w
	c := (y+h)*p.stride + x
	d := c + w
	return table[d] - table[b] - table[c] + table[a]
}

// template is a reference image with precomputed statistics.
type template struct {
	pix   []int64 // row-major w*h
	w, h  int
	n     int64
	sum   int64
	varN  int64 // n*Σt² - (Σt)²
	flat  bool
	value int64 // the single value of a flat template
}

func newTemplate(img *image.Gray) *template {
	b := img.Bounds()
	t := &template{w: b.Dx(), h: b.Dy()}
	t.n = int64(t.w * t.h)
	t.pix = make([]int64, 0, t.n)

	var sumSq int64
	for y := 0; y < t.h; y++ {
		off := y * img.Stride
		for _, v := range img.Pix[off : off+t.w] {
			iv := int64(v)
			t.pix = append(t.pix, iv)
			t.sum += iv
			sumSq += iv * iv
		}
	}
	t.varN = t.n*sumSq - t.sum*t.sum
	t.flat = t.varN == 0
	if t.flat {
		t.value = t.pix[0]
	}
	return t
}

// score returns the zero-mean normalised cross-correlation of the template
// with the window whose top-left corner is (x, y), in [-1, 1].
//
// Flat windows or templates have no defined correlation: they score 1 when
// both are flat with the same value and 0 otherwise.
func (p *plane) score(t *template, x, y int) float64 {
	sumI := p.window(p.sum, x, y, t.w, t.h)
	sumSqI := p.window(p.sumSq, x, y, t.w, t.h)
	varI := t.n*sumSqI - sumI*sumI

	if varI == 0 || t.flat {
		if varI == 0 && t.flat && sumI == t.value*t.n {
			return 1
		}
		return 0
	}

	var cross int64
	for j := 0; j < t.h; j++ {
		row := p.img.Pix[(y+j)*p.img.Stride+x : (y+j)*p.img.Stride+x+t.w]
		tr := t.pix[j*t.w : (j+1)*t.w]
		for i, v := range row {
			cross += int64(v) * tr[i]
		}
	}

	num := float64(t.n*cross - sumI*t.sum)
	den := math.Sqrt(float64(varI)) * math.Sqrt(float64(t.varN))
	s := num / den
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}
