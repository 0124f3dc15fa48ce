package candle

// Indptr returns the pointer array of a sorted symbol column: symbol group i
// occupies rows [ptr[i], ptr[i+1]). It has one entry more than the number of
// distinct symbols and always starts with 0.
func Indptr(symbols []int64) []int64 {
	ptr := []int64{0}
	for i := 1; i <= len(symbols); i++ {
		if i == len(symbols) || symbols[i] != symbols[i-1] {
			ptr = append(ptr, int64(i))
		}
	}
	return ptr
}

// Ranges returns the active range of every symbol block of ptr. A fresh
// table has each symbol's whole block active.
func Ranges(ptr []int64) [][2]int64 {
	if len(ptr) == 0 {
		return nil
	}
	out := make([][2]int64, len(ptr)-1)
	for i := range out {
		out[i] = [2]int64{ptr[i], ptr[i+1]}
	}
	return out
}
