package rpc

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Web3Endpoint struct contains the information of a web3 endpoint: the
// chainID it serves, its URI and the client connected to it.
type Web3Endpoint struct {
	ChainID uint64 `json:"chainId"`
	URI     string `json:"uri"`
	client  *ethclient.Client
}

// Web3Iterator struct is a pool of Web3Endpoint of the same chainID that
// hands out the first available endpoint. Failing endpoints are disabled and
// moved to the back; when every endpoint is disabled, all of them are
// enabled again.
type Web3Iterator struct {
	mtx       sync.Mutex
	available []*Web3Endpoint
	disabled  []*Web3Endpoint
}

// NewWeb3Iterator creates a new Web3Iterator with the endpoints provided.
func NewWeb3Iterator(endpoints ...*Web3Endpoint) *Web3Iterator {
	it := &Web3Iterator{}
	it.Add(endpoints...)
	return it
}

// Add method adds the endpoints provided to the available list, skipping
// the ones already in the pool.
func (w3i *Web3Iterator) Add(endpoints ...*Web3Endpoint) {
	w3i.mtx.Lock()
	defer w3i.mtx.Unlock()
	for _, e := range endpoints {
		if w3i.indexOf(w3i.available, e.URI) >= 0 || w3i.indexOf(w3i.disabled, e.URI) >= 0 {
			continue
		}
		w3i.available = append(w3i.available, e)
	}
}

// Next method returns the first available endpoint. If there is no
// available endpoint, it resets the disabled ones and returns the first.
// It returns an error if the pool is empty.
func (w3i *Web3Iterator) Next() (*Web3Endpoint, error) {
	w3i.mtx.Lock()
	defer w3i.mtx.Unlock()
	if len(w3i.available) == 0 {
		if len(w3i.disabled) == 0 {
			return nil, fmt.Errorf("no web3 endpoints in the pool")
		}
		w3i.available = w3i.disabled
		w3i.disabled = nil
	}
	return w3i.available[0], nil
}

// Disable method flags the endpoint with the URI provided as unavailable.
func (w3i *Web3Iterator) Disable(uri string) {
	w3i.mtx.Lock()
	defer w3i.mtx.Unlock()
	idx := w3i.indexOf(w3i.available, uri)
	if idx < 0 {
		return
	}
	endpoint := w3i.available[idx]
	w3i.available = append(w3i.available[:idx], w3i.available[idx+1:]...)
	w3i.disabled = append(w3i.disabled, endpoint)
}

// Remove method drops the endpoint with the URI provided from the pool,
// whether it is available or disabled, and returns it. It returns nil if the
// endpoint is not in the pool.
func (w3i *Web3Iterator) Remove(uri string) *Web3Endpoint {
	w3i.mtx.Lock()
	defer w3i.mtx.Unlock()
	if idx := w3i.indexOf(w3i.available, uri); idx >= 0 {
		endpoint := w3i.available[idx]
		w3i.available = append(w3i.available[:idx], w3i.available[idx+1:]...)
		return endpoint
	}
	if idx := w3i.indexOf(w3i.disabled, uri); idx >= 0 {
		endpoint := w3i.disabled[idx]
		w3i.disabled = append(w3i.disabled[:idx], w3i.disabled[idx+1:]...)
		return endpoint
	}
	return nil
}

// Available method returns the number of available endpoints.
func (w3i *Web3Iterator) Available() int {
	w3i.mtx.Lock()
	defer w3i.mtx.Unlock()
	return len(w3i.available)
}

// Disabled method returns the number of disabled endpoints.
func (w3i *Web3Iterator) Disabled() int {
	w3i.mtx.Lock()
	defer w3i.mtx.Unlock()
	return len(w3i.disabled)
}

func (w3i *Web3Iterator) indexOf(list []*Web3Endpoint, uri string) int {
	for i, e := range list {
		if e.URI == uri {
			return i
		}
	}
	return -1
}
