package maker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"rfqScope/internal/model"
)

// OrderRequest asks a maker for a signed order. Amount is the sender amount
// for sells and the signer amount for buys.
type OrderRequest struct {
	Side         model.SwapSide
	ChainID      uint64
	SwapContract common.Address
	SignerToken  common.Address
	SenderToken  common.Address
	Amount       *big.Int
	SenderWallet common.Address
	MinExpiry    uint64
	ProxyingFor  common.Address
}

// Method returns the JSON-RPC method for the request side.
func (r OrderRequest) Method() string {
	if r.Side == model.SideBuy {
		return MethodGetSenderSideOrderERC20
	}
	return MethodGetSignerSideOrderERC20
}

// Params returns the JSON-RPC params object.
func (r OrderRequest) Params() map[string]string {
	amount := "0"
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	params := map[string]string{
		"chainId":      strconv.FormatUint(r.ChainID, 10),
		"swapContract": r.SwapContract.Hex(),
		"signerToken":  r.SignerToken.Hex(),
		"senderToken":  r.SenderToken.Hex(),
		"senderWallet": r.SenderWallet.Hex(),
		"minExpiry":    strconv.FormatUint(r.MinExpiry, 10),
		"proxyingFor":  r.ProxyingFor.Hex(),
	}
	if r.Side == model.SideBuy {
		params["signerAmount"] = amount
	} else {
		params["senderAmount"] = amount
	}
	return params
}

// FlexString decodes a JSON string or number into its textual form.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Order is a signed ERC20 order.
type Order struct {
	Nonce        FlexString `json:"nonce"`
	Expiry       FlexString `json:"expiry"`
	SignerWallet string     `json:"signerWallet"`
	SignerToken  string     `json:"signerToken"`
	SignerAmount FlexString `json:"signerAmount"`
	SenderToken  string     `json:"senderToken"`
	SenderAmount FlexString `json:"senderAmount"`
	ProtocolFee  FlexString `json:"protocolFee,omitempty"`
	V            FlexString `json:"v"`
	R            string     `json:"r"`
	S            string     `json:"s"`
	ChainID      FlexString `json:"chainId,omitempty"`
	SwapContract string     `json:"swapContract,omitempty"`
}

// ExpiryUnix parses the order expiry.
func (o Order) ExpiryUnix() (uint64, error) {
	return strconv.ParseUint(string(o.Expiry), 10, 64)
}

type orderResponse struct {
	Result *Order    `json:"result"`
	Error  *RPCError `json:"error"`
}

// OrderERC20 requests a signed order from the maker at url.
func (c *Client) OrderERC20(ctx context.Context, url string, req OrderRequest) (Order, error) {
	body, err := c.call(ctx, url, req.Method(), req.Params())
	if err != nil {
		return Order{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	if resp.Error != nil {
		return Order{}, resp.Error
	}
	if resp.Result == nil {
		return Order{}, fmt.Errorf("order response without result")
	}
	if _, err := resp.Result.ExpiryUnix(); err != nil {
		return Order{}, fmt.Errorf("order expiry %q: %w", resp.Result.Expiry, err)
	}
	return *resp.Result, nil
}
