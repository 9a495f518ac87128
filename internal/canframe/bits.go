package canframe

// Signals use Intel (little-endian) bit numbering: bit n lives in
// byte n/8 at position n%8, and multi-bit signals grow towards higher bits.

func getBits(data []byte, start, length uint) uint64 {
	var v uint64
	for i := uint(0); i < length; i++ {
		bit := start + i
		if (data[bit/8]>>(bit%8))&1 == 1 {
			v |= 1 << i
		}
	}
	return v
}

func getSigned(data []byte, start, length uint) int64 {
	v := getBits(data, start, length)
	if v&(1<<(length-1)) != 0 {
		return int64(v) - int64(1)<<length
	}
	return int64(v)
}

// putBits writes the low length bits of v. Bits outside the signal are kept.
func putBits(data []byte, start, length uint, v uint64) {
	for i := uint(0); i < length; i++ {
		bit := start + i
		mask := byte(1) << (bit % 8)
		if (v>>i)&1 == 1 {
			data[bit/8] |= mask
		} else {
			data[bit/8] &^= mask
		}
	}
}

// bcc is the XOR over the first seven bytes, stored in byte 7.
func bcc(data []byte) byte {
	var x byte
	for _, b := range data[:7] {
		x ^= b
	}
	return x
}
