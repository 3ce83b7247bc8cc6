package codec

// ROHC header compression is an external collaborator: a real
// implementation is out of scope here and treated as a pluggable pure
// function with the documented contract below. Compress/decompress never
// error; by contract they return their input unchanged whenever they
// cannot (de)compress it, and both sides of a link must be configured
// with compatible ROHC contexts since the flag is not carried on the wire.

// PassthroughRohc is the identity ROHC stage: it never compresses. It's
// useful as a stand-in when rohc_compression is enabled in config but no
// real ROHC library is wired in, and in tests that exercise the pipeline
// shape without a real header-compression context.
func PassthroughRohc(data []byte) []byte {
	return data
}
