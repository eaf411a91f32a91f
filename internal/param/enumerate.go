package param

import "fmt"

// Named pairs a parameter name with its descriptor, preserving the
// declaration order a script's sidecar JSON gave it.
type Named struct {
	Name       string
	Descriptor Descriptor
}

// Tuple is one point in the Cartesian product of an ordered parameter set.
type Tuple map[string]any

// Cachable reports whether every descriptor in the ordered set is iterable;
// only cachable (precomputable) scripts can be batch-enumerated.
func Cachable(ordered []Named) bool {
	for _, n := range ordered {
		if !n.Descriptor.CanIterate() {
			return false
		}
	}
	return true
}

// NumVariants returns the product of each descriptor's domain size. It does
// not allocate the product itself; use Enumerate to stream it.
func NumVariants(ordered []Named) (int, error) {
	total := 1
	for _, n := range ordered {
		dom, err := n.Descriptor.Domain()
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", n.Name, err)
		}
		total *= len(dom)
	}
	return total, nil
}

// Enumerate streams every tuple in the Cartesian product of the ordered
// parameter set's domains, the last-declared parameter varying fastest. It
// never materializes the full product in memory: each Tuple handed to yield
// is freshly allocated and the caller may mutate it freely once yield
// returns. Enumeration stops early if yield returns false.
func Enumerate(ordered []Named) (func(yield func(Tuple) bool) bool, error) {
	domains := make([][]any, len(ordered))
	for i, n := range ordered {
		dom, err := n.Descriptor.Domain()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", n.Name, err)
		}
		domains[i] = dom
	}

	iterFunc := func(yield func(Tuple) bool) bool {
		if len(ordered) == 0 {
			return yield(Tuple{})
		}
		idx := make([]int, len(ordered))
		for {
			t := make(Tuple, len(ordered))
			for i, n := range ordered {
				t[n.Name] = domains[i][idx[i]]
			}
			if !yield(t) {
				return false
			}
			// Advance rightmost (last-declared) index fastest.
			pos := len(idx) - 1
			for pos >= 0 {
				idx[pos]++
				if idx[pos] < len(domains[pos]) {
					break
				}
				idx[pos] = 0
				pos--
			}
			if pos < 0 {
				return true
			}
		}
	}
	return iterFunc, nil
}
