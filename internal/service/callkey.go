package service

// CallKey is an unordered pair of participant ids. NewCallKey sorts the pair so
// {a,b} and {b,a} produce the same key.
type CallKey struct {
	A, B string
}

func NewCallKey(x, y string) CallKey {
	if y < x {
		x, y = y, x
	}
	return CallKey{A: x, B: y}
}

// Has reports whether id is one side of the pair.
func (k CallKey) Has(id string) bool {
	return id == k.A || id == k.B
}

// Other returns the side that is not id.
func (k CallKey) Other(id string) string {
	if id == k.A {
		return k.B
	}
	return k.A
}

func (k CallKey) String() string {
	return k.A + ":" + k.B
}
