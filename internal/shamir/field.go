package shamir

// Arithmetic in GF(2^8) reduced by x^8 + x^4 + x^3 + x + 1 with generator 3.
// Addition and subtraction are both XOR.

const reducer = 0x11b

//nolint:gochecknoglobals // precomputed tables, filled once at init
var (
	exp [510]byte
	log [256]byte
)

func init() { //nolint:gochecknoinits // tables must exist before any share is evaluated
	x := 1
	for i := range 255 {
		exp[i] = byte(x)
		exp[i+255] = byte(x)
		log[x] = byte(i)
		x ^= x << 1
		if x&0x100 != 0 {
			x ^= reducer
		}
	}
}

func mul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return exp[int(log[a])+int(log[b])]
}

// div returns a/b. b must not be zero.
func div(a, b byte) byte {
	if a == 0 {
		return 0
	}
	return exp[int(log[a])+255-int(log[b])]
}
