package progress

// Scale tracks nested progress bars and maps values of the innermost bar
// onto an absolute 0-100 percentage.
//
// Each Start pushes a bar whose range covers either the region reserved on
// the enclosing bar or, without a region, the whole enclosing window. Stop
// pops it again.
type Scale struct {
	frames []frame
}

type frame struct {
	min, max int
	lo, hi   float64 // absolute window, 0..100
	value    int

	hasRegion bool
	rlo, rhi  int
}

func (f *frame) abs(v int) float64 {
	if v < f.min {
		v = f.min
	}
	if v > f.max {
		v = f.max
	}
	if f.max == f.min {
		return f.lo
	}
	return f.lo + float64(v-f.min)/float64(f.max-f.min)*(f.hi-f.lo)
}

// Start pushes a new bar with the given range.
func (s *Scale) Start(min, max int) {
	lo, hi := 0.0, 100.0
	if n := len(s.frames); n > 0 {
		parent := &s.frames[n-1]
		if parent.hasRegion {
			lo, hi = parent.abs(parent.rlo), parent.abs(parent.rhi)
		} else {
			lo, hi = parent.lo, parent.hi
		}
	}
	s.frames = append(s.frames, frame{min: min, max: max, lo: lo, hi: hi, value: min})
}

// Region reserves [start, end] of the current bar for the next nested bar.
func (s *Scale) Region(start, end int) {
	if f := s.top(); f != nil {
		f.hasRegion = true
		f.rlo, f.rhi = start, end
	}
}

// Set moves the current bar to value.
func (s *Scale) Set(value int) {
	if f := s.top(); f != nil {
		f.value = value
	}
}

// Step advances the current bar by n.
func (s *Scale) Step(n int) {
	if f := s.top(); f != nil {
		f.value += n
	}
}

// Stop pops the current bar.
func (s *Scale) Stop() {
	if n := len(s.frames); n > 0 {
		s.frames = s.frames[:n-1]
	}
}

// Depth is the number of open bars.
func (s *Scale) Depth() int { return len(s.frames) }

// Percent returns the absolute position of the innermost bar.
func (s *Scale) Percent() float64 {
	f := s.top()
	if f == nil {
		return 0
	}
	return f.abs(f.value)
}

func (s *Scale) top() *frame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[len(s.frames)-1]
}
