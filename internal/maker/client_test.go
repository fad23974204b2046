package maker

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfqScope/internal/model"
	"rfqScope/internal/poller"
)

const makerURL = "https://maker.example/rpc"

const pricingBody = `{
	"jsonrpc": "2.0",
	"id": "1",
	"result": [{
		"baseToken": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		"quoteToken": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"minimum": "1",
		"bid": [["100", "2"]],
		"ask": [["100", "3"]]
	}]
}`

func newMockedClient(t *testing.T, cfg Config) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := NewClient(&http.Client{Transport: transport}, cfg, nil)
	return client, transport
}

func decodeRequest(t *testing.T, req *http.Request) rpcRequest {
	t.Helper()
	var decoded struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      string          `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	require.NoError(t, json.NewDecoder(req.Body).Decode(&decoded))
	var params map[string]string
	require.NoError(t, json.Unmarshal(decoded.Params, &params))
	return rpcRequest{JSONRPC: decoded.JSONRPC, ID: decoded.ID, Method: decoded.Method, Params: params}
}

func TestAllPricingERC20(t *testing.T) {
	client, transport := newMockedClient(t, DefaultConfig())

	var seen rpcRequest
	transport.RegisterResponder(http.MethodPost, makerURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		seen = decodeRequest(t, req)
		return httpmock.NewStringResponse(http.StatusOK, pricingBody), nil
	})

	raw, err := client.AllPricingERC20(context.Background(), makerURL)
	require.NoError(t, err)

	assert.Equal(t, MethodGetAllPricingERC20, seen.Method)
	assert.Equal(t, "2.0", seen.JSONRPC)
	_, err = uuid.Parse(seen.ID)
	assert.NoError(t, err)
	assert.Empty(t, seen.Params)

	entries, err := CastPricing(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].Minimum)
}

func TestAllPricingERC20StatusError(t *testing.T) {
	client, transport := newMockedClient(t, DefaultConfig())
	transport.RegisterResponder(http.MethodPost, makerURL, httpmock.NewStringResponder(http.StatusBadGateway, "upstream"))

	_, err := client.AllPricingERC20(context.Background(), makerURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestBreakerOpensPerServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakerFailures = 2
	client, transport := newMockedClient(t, cfg)

	const healthyURL = "https://healthy.example/rpc"
	transport.RegisterResponder(http.MethodPost, makerURL, httpmock.NewErrorResponder(errors.New("connection refused")))
	transport.RegisterResponder(http.MethodPost, healthyURL, httpmock.NewStringResponder(http.StatusOK, pricingBody))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.AllPricingERC20(ctx, makerURL)
		require.Error(t, err)
	}
	_, err := client.AllPricingERC20(ctx, makerURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")

	info := transport.GetCallCountInfo()
	assert.Equal(t, 2, info["POST "+makerURL])

	_, err = client.AllPricingERC20(ctx, healthyURL)
	assert.NoError(t, err)
}

func TestOrderERC20SidesSelectMethod(t *testing.T) {
	tests := []struct {
		name       string
		side       model.SwapSide
		wantMethod string
		amountKey  string
	}{
		{name: "sell", side: model.SideSell, wantMethod: MethodGetSignerSideOrderERC20, amountKey: "senderAmount"},
		{name: "buy", side: model.SideBuy, wantMethod: MethodGetSenderSideOrderERC20, amountKey: "signerAmount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, transport := newMockedClient(t, DefaultConfig())

			var seen rpcRequest
			transport.RegisterResponder(http.MethodPost, makerURL, func(req *http.Request) (*http.Response, error) {
				seen = decodeRequest(t, req)
				return httpmock.NewStringResponse(http.StatusOK, `{"jsonrpc":"2.0","id":"1","result":{
					"nonce":"7","expiry":1700000100,"signerWallet":"0x01","signerToken":"0x02",
					"signerAmount":"500","senderToken":"0x03","senderAmount":"1000",
					"v":27,"r":"0xaa","s":"0xbb"}}`), nil
			})

			order, err := client.OrderERC20(context.Background(), makerURL, OrderRequest{
				Side:         tt.side,
				ChainID:      1,
				SwapContract: common.HexToAddress("0xD82E10B9A4107939e55fCCa9B53A9ede6CF2fC46"),
				SignerToken:  common.HexToAddress("0x02"),
				SenderToken:  common.HexToAddress("0x03"),
				Amount:       big.NewInt(1000),
				MinExpiry:    100000,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantMethod, seen.Method)
			params := seen.Params.(map[string]string)
			assert.Equal(t, "1000", params[tt.amountKey])
			assert.Equal(t, "1", params["chainId"])
			assert.Equal(t, "100000", params["minExpiry"])

			assert.Equal(t, FlexString("27"), order.V)
			expiry, err := order.ExpiryUnix()
			require.NoError(t, err)
			assert.Equal(t, uint64(1700000100), expiry)
		})
	}
}

func TestOrderERC20RPCError(t *testing.T) {
	client, transport := newMockedClient(t, DefaultConfig())
	transport.RegisterResponder(http.MethodPost, makerURL,
		httpmock.NewStringResponder(http.StatusOK, `{"jsonrpc":"2.0","id":"1","error":{"code":-33601,"message":"not serving pair"}}`))

	_, err := client.OrderERC20(context.Background(), makerURL, OrderRequest{Side: model.SideSell, Amount: big.NewInt(1)})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -33601, rpcErr.Code)
}

func TestCastPricingShapes(t *testing.T) {
	bare := `[{"baseToken":"0x1","quoteToken":"0x2","bid":[["1","1"]],"ask":[["1","1"]]}]`
	wrapped, err := json.Marshal(pricingBody)
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		wantLen int
		wantErr bool
	}{
		{name: "envelope", body: pricingBody, wantLen: 1},
		{name: "bare array", body: bare, wantLen: 1},
		{name: "string wrapped", body: string(wrapped), wantLen: 1},
		{name: "empty result", body: `{"result":[]}`, wantErr: true},
		{name: "rpc error", body: `{"error":{"code":1,"message":"down"}}`, wantErr: true},
		{name: "not json", body: `<html>`, wantErr: true},
		{name: "invalid entry", body: `[{"baseToken":"","quoteToken":"0x2"}]`, wantErr: true},
		{name: "bad level", body: `[{"baseToken":"0x1","quoteToken":"0x2","bid":[["x","1"]]}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := CastPricing([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, poller.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Len(t, entries, tt.wantLen)
		})
	}
}

func TestPricingKey(t *testing.T) {
	assert.Equal(t, "https%3a%2f%2fmaker.example%2frpc-pricing", PricingKey(makerURL))
	assert.Equal(t, PricingKey("HTTPS://Maker.Example"), PricingKey("https://maker.example"))
}
