package jsp

// Options controls how Encode/Decode (de)serialize a value: plain JSON,
// checksummed, and/or signature-prefixed for on-disk persistence (config
// files).
type Options struct {
	Compress  bool
	Checksum  bool
	Signature bool
}

// Opts is implemented by types that know their own persistence options,
// e.g. a Config variant that always wants signature+checksum.
type Opts interface {
	JspOpts() Options
}

func CCSign() Options { return Options{Checksum: true, Signature: true} }
func Plain() Options  { return Options{} }
