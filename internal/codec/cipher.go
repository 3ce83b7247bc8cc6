package codec

// NewXORCipher returns the cipher and decipher functions for the reference
// keystream-XOR cipher: the key is repeated to the length of the payload
// and XORed byte-wise. The function is its own inverse, so both returned
// funcs are identical; callers wire one to Pipeline.Cipher and the other
// to Pipeline.Decipher.
func NewXORCipher(key []byte) (cipher, decipher func([]byte) ([]byte, error)) {
	xor := func(data []byte) ([]byte, error) {
		if len(key) == 0 {
			return data, nil
		}
		out := make([]byte, len(data))
		for i, b := range data {
			out[i] = b ^ key[i%len(key)]
		}
		return out, nil
	}
	return xor, xor
}
