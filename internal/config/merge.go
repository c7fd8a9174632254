package config

// Merge combines self (a repo's own parsed document) with main (the
// global `..main.json` defaults) per the invariant in spec.md §3: merge
// semantics are additive for the header/token maps and preferring-self
// for scalar Options. Upstreams are never merged — a repo's upstream
// list is entirely its own, since main has no meaningful notion of
// "default upstreams" shared across unrelated repo trees.
func Merge(self, main *Config) *Config {
	if main == nil {
		return self
	}
	if self == nil {
		self = &Config{}
	}

	out := &Config{
		StoresRemoteUpstream:            preferSelfBool(self.StoresRemoteUpstream, main.StoresRemoteUpstream),
		PubliclyReadable:                preferSelfBool(self.PubliclyReadable, main.PubliclyReadable),
		HideDirectoryListings:           preferSelfBool(self.HideDirectoryListings, main.HideDirectoryListings),
		InferContentTypeOnFileExtension: preferSelfBool(self.InferContentTypeOnFileExtension, main.InferContentTypeOnFileExtension),
		TimeFresh:                       preferSelfDur(self.TimeFresh, main.TimeFresh),
		MaxFileSize:                     preferSelfUint64(self.MaxFileSize, main.MaxFileSize),
		CacheControlFile:                preferSelfHeaders(self.CacheControlFile, main.CacheControlFile),
		CacheControlMetadata:            preferSelfHeaders(self.CacheControlMetadata, main.CacheControlMetadata),
		CacheControlDirListings:         preferSelfHeaders(self.CacheControlDirListings, main.CacheControlDirListings),
		Upstreams:                       self.Upstreams,
	}

	out.CacheControlStatusCode = mergeStatusHeaders(self.CacheControlStatusCode, main.CacheControlStatusCode)
	out.Tokens = mergeTokens(self.Tokens, main.Tokens)

	return out
}

func preferSelfBool(self, main *bool) *bool {
	if self != nil {
		return self
	}
	return main
}

func preferSelfDur(self, main *Dur) *Dur {
	if self != nil {
		return self
	}
	return main
}

func preferSelfUint64(self, main *uint64) *uint64 {
	if self != nil {
		return self
	}
	return main
}

func preferSelfHeaders(self, main []Header) []Header {
	if len(self) > 0 {
		return self
	}
	return main
}

// mergeStatusHeaders unions both maps, with self's entry winning on key
// collision (additive, preferring-self on conflict).
func mergeStatusHeaders(self, main map[string][]Header) map[string][]Header {
	if len(self) == 0 && len(main) == 0 {
		return nil
	}
	out := make(map[string][]Header, len(self)+len(main))
	for k, v := range main {
		out[k] = v
	}
	for k, v := range self {
		out[k] = v
	}
	return out
}

// mergeTokens unions both token tables, with self's entry winning on
// username collision.
func mergeTokens(self, main map[string]Token) map[string]Token {
	if len(self) == 0 && len(main) == 0 {
		return nil
	}
	out := make(map[string]Token, len(self)+len(main))
	for k, v := range main {
		out[k] = v
	}
	for k, v := range self {
		out[k] = v
	}
	return out
}
