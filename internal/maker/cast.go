package maker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"rfqScope/internal/poller"
	"rfqScope/internal/pricing"
)

// PricingKey is the cache key under which a server's pricing is stored.
func PricingKey(serverURL string) string {
	return strings.ToLower(url.QueryEscape(serverURL) + "-PRICING")
}

type pricingEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// CastPricing validates a getAllPricingERC20 response. It accepts a JSON-RPC
// envelope, a bare array, or either of those encoded as a JSON string.
func CastPricing(raw []byte) ([]pricing.Pricing, error) {
	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", poller.ErrInvalidPayload, err)
		}
		body = bytes.TrimSpace([]byte(inner))
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", poller.ErrInvalidPayload)
	}

	var list json.RawMessage
	switch body[0] {
	case '[':
		list = body
	case '{':
		var env pricingEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", poller.ErrInvalidPayload, err)
		}
		if env.Error != nil {
			return nil, fmt.Errorf("%w: %v", poller.ErrInvalidPayload, env.Error)
		}
		list = env.Result
	default:
		return nil, fmt.Errorf("%w: unexpected body", poller.ErrInvalidPayload)
	}

	var entries []pricing.Pricing
	if err := json.Unmarshal(list, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", poller.ErrInvalidPayload, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no pricing", poller.ErrInvalidPayload)
	}
	for i, entry := range entries {
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", poller.ErrInvalidPayload, i, err)
		}
	}
	return entries, nil
}
