package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// Cached system prompts live for an hour, long enough to cover a batch
// screening pass end to end.
const systemCacheTTL = "1h"

// BuildCachedSystemBlocks wraps a system prompt in content blocks with
// a cache breakpoint. Batch screening reuses one system prompt per AI
// tier across every site, so the first call warms the cache and the
// rest read it.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{{
		Text:         text,
		CacheControl: &CacheControl{TTL: systemCacheTTL},
	}}
}

// PrimerRequest sends one message to warm the prompt cache before
// concurrent workers start. The request's system blocks should come
// from BuildCachedSystemBlocks; the response is usually discarded.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
