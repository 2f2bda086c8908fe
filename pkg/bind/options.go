package bind

// DefaultKeyName is the property under which a document's identity is
// merged into its normalized fields.
const DefaultKeyName = "id"

// Options controls normalization for every binding of a Binder.
type Options struct {
	// KeyName is the field name carrying the document's identity in
	// normalized output. Defaults to "id".
	KeyName string

	// Enumerable controls whether the identity is merged into the
	// normalized field map, where iteration and serialization see it.
	// When false the identity is reachable only through Document.ID.
	Enumerable bool
}

// DefaultOptions returns the process-wide defaults: KeyName "id",
// Enumerable true.
func DefaultOptions() Options {
	return Options{KeyName: DefaultKeyName, Enumerable: true}
}

// BindOption adjusts a single Bind call.
type BindOption func(*bindSettings)

type bindSettings struct {
	opts    Options
	objects bool
	onReady func(any)
	onError func(error)
}

// Objects selects keyed ("objects") mode for a query source,
// overriding the sequence mode the source shape would select.
func Objects() BindOption {
	return func(s *bindSettings) { s.objects = true }
}

// KeyName overrides the identity field name for this binding.
func KeyName(name string) BindOption {
	return func(s *bindSettings) { s.opts.KeyName = name }
}

// Enumerable overrides identity enumerability for this binding.
func Enumerable(on bool) BindOption {
	return func(s *bindSettings) { s.opts.Enumerable = on }
}
