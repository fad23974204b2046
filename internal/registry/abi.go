package registry

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const registryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "staker", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "url", "type": "string"}
    ],
    "name": "SetServerURL",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "staker", "type": "address"},
      {"indexed": false, "internalType": "bytes4[]", "name": "protocols", "type": "bytes4[]"}
    ],
    "name": "AddProtocols",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "staker", "type": "address"},
      {"indexed": false, "internalType": "bytes4[]", "name": "protocols", "type": "bytes4[]"}
    ],
    "name": "RemoveProtocols",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "staker", "type": "address"},
      {"indexed": false, "internalType": "address[]", "name": "tokens", "type": "address[]"}
    ],
    "name": "AddTokens",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "staker", "type": "address"},
      {"indexed": false, "internalType": "address[]", "name": "tokens", "type": "address[]"}
    ],
    "name": "RemoveTokens",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "staker", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "url", "type": "string"},
      {"indexed": false, "internalType": "bytes4[]", "name": "protocols", "type": "bytes4[]"},
      {"indexed": false, "internalType": "address[]", "name": "tokens", "type": "address[]"}
    ],
    "name": "UnsetServer",
    "type": "event"
  }
]`

var (
	registryABI     abi.ABI
	registryABIOnce sync.Once
	registryABIErr  error
)

// ABI returns the parsed registry event ABI.
func ABI() (abi.ABI, error) {
	registryABIOnce.Do(func() {
		registryABI, registryABIErr = abi.JSON(strings.NewReader(registryABIJSON))
	})
	return registryABI, registryABIErr
}
