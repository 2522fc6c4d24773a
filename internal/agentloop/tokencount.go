package agentloop

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEncoding lazily loads the cl100k_base BPE encoding used by most
// modern chat models. Loading requires either a local BPE cache
// (BPE_DIR/TIKTOKEN_CACHE_DIR) or network access to fetch the rank file; if
// neither is available, encodingOnce.enc stays nil and callers fall back to
// the character-based estimate.
var encodingOnce struct {
	sync.Once
	enc *tiktoken.Tiktoken
}

func tokenEncoder() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encodingOnce.enc = enc
		}
	})
	return encodingOnce.enc
}
