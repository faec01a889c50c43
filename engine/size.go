package engine

// nextPowerOf2 returns the smallest power of two >= n. Grounded on the
// teacher's helper of the same name (dsp/convolution.go), used here to
// size the shared forward transform: algo-fft plans are constructed at
// power-of-two sizes throughout the corpus (dsp/convolution.go,
// dsp/convolution_stage.go, CWBudde-algo-dsp/dsp/conv/*).
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
