package rng

// Weighted samples from a table in which every entry is equally likely, so
// an item listed k times carries weight k.
type Weighted[T comparable] struct {
	table []T
}

func NewWeighted[T comparable](table []T) Weighted[T] {
	if len(table) == 0 {
		panic("rng: empty weight table")
	}
	cp := make([]T, len(table))
	copy(cp, table)
	return Weighted[T]{table: cp}
}

func (w Weighted[T]) Sample(src Source) T {
	return w.table[src.IntN(len(w.table))]
}

// Probability of drawing v on a single sample.
func (w Weighted[T]) Probability(v T) float64 {
	n := 0
	for _, t := range w.table {
		if t == v {
			n++
		}
	}
	return float64(n) / float64(len(w.table))
}

func (w Weighted[T]) Len() int {
	return len(w.table)
}
