package anthropic

// BuildCachedSystemBlocks returns a single system block with a cache
// breakpoint. Repeated extraction calls share the schema instructions, so
// the block is served from the prompt cache after the first school.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}
