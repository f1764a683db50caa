package frontend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/LegacyCodeHQ/mpptrack/unitgraph"
)

// DefaultCacheSize is the number of parse results kept by NewCachedParser
// when no size is given.
const DefaultCacheSize = 1024

// CachedParser memoizes parse results by file path and content hash.
// Results are shared between callers and must not be modified.
type CachedParser struct {
	next  Parser
	cache *lru.Cache[string, *ParseResult]
}

// NewCachedParser wraps next with an LRU cache of the given size.
func NewCachedParser(next Parser, size int) (*CachedParser, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *ParseResult](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create parse cache: %w", err)
	}
	return &CachedParser{next: next, cache: cache}, nil
}

func (p *CachedParser) Parse(ctx context.Context, unit unitgraph.UnitID, path string, content []byte) (*ParseResult, error) {
	sum := sha256.Sum256(content)
	key := path + "\x00" + hex.EncodeToString(sum[:])

	if result, ok := p.cache.Get(key); ok {
		return result, nil
	}

	result, err := p.next.Parse(ctx, unit, path, content)
	if err != nil {
		return nil, err
	}
	p.cache.Add(key, result)
	return result, nil
}

// Len returns the number of cached results.
func (p *CachedParser) Len() int {
	return p.cache.Len()
}
