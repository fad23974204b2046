package rfq

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PoolIdentifier names the pool a maker quotes for a token pair:
// dexKey-dest-src-escapedURL, with lowercase addresses.
func PoolIdentifier(dexKey string, src, dst common.Address, serverURL string) string {
	return strings.Join([]string{
		dexKey,
		strings.ToLower(dst.Hex()),
		strings.ToLower(src.Hex()),
		url.QueryEscape(serverURL),
	}, "-")
}

// ParsePoolIdentifier returns the maker URL encoded in a pool identifier.
func ParsePoolIdentifier(dexKey, id string) (string, error) {
	rest, ok := strings.CutPrefix(id, dexKey+"-")
	if !ok {
		return "", fmt.Errorf("pool %q does not belong to %s", id, dexKey)
	}
	// Addresses never contain '-', the escaped URL may.
	parts := strings.SplitN(rest, "-", 3)
	if len(parts) != 3 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
		return "", fmt.Errorf("malformed pool identifier %q", id)
	}
	serverURL, err := url.QueryUnescape(parts[2])
	if err != nil {
		return "", fmt.Errorf("pool url: %w", err)
	}
	if serverURL == "" {
		return "", fmt.Errorf("pool %q has no url", id)
	}
	return serverURL, nil
}
