package testutil

// StaticTokens is a token generator that always returns the same token.
// Useful in tests where transaction identity does not matter but the
// metadata plumbing still needs a generator.
//
// Stateless and safe for concurrent use.
type StaticTokens struct {
	Token string
}

// Generate returns the fixed token; "tx-static" when unset.
func (g StaticTokens) Generate() string {
	if g.Token == "" {
		return "tx-static"
	}
	return g.Token
}
