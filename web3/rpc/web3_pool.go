package rpc

// This package contains the Web3Pool struct, which is a pool of Web3Endpoint
// instances grouped by chainID. It allows to add, remove and get endpoints,
// and provides a Client that implements the backend used by the deployer
// for an specific chainID.
// The pool sticks to the first available endpoint of every chainID. When a
// read call fails because the endpoint cannot be reached, the endpoint is
// flagged as unavailable and the call is repeated on the next one. If every
// endpoint fails for a chainID, the pool resets the available flag for all
// the endpoints and starts again. Transactions are never replayed.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vocdoni/verifier-deployer/log"
)

const (
	// DefaultMaxWeb3ClientRetries is the default number of retries to connect to
	// a web3 provider.
	DefaultMaxWeb3ClientRetries = 5
	// checkWeb3EndpointsTimeout is the timeout to check the web3 endpoints.
	checkWeb3EndpointsTimeout = time.Second * 10
	// web3ClientRetryDelay is the time to wait between connection attempts.
	web3ClientRetryDelay = 200 * time.Millisecond
)

// Web3Pool struct contains a map of chainID-*Web3Iterator, where the key is
// the chainID and the value is the list of endpoints serving it. It allows
// to support multiple endpoints for the same chainID and switch between them
// looking for the available one.
type Web3Pool struct {
	mtx       sync.RWMutex
	endpoints map[uint64]*Web3Iterator
}

// NewWeb3Pool method returns a new *Web3Pool instance.
func NewWeb3Pool() *Web3Pool {
	return &Web3Pool{
		endpoints: make(map[uint64]*Web3Iterator),
	}
}

// AddEndpoint method adds a new web3 provider URI to the Web3Pool.
// It returns the chainID of the endpoint added to the pool.
func (nm *Web3Pool) AddEndpoint(uri string) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), checkWeb3EndpointsTimeout)
	defer cancel()
	// init the web3 client
	client, err := connect(ctx, uri)
	if err != nil {
		return 0, err
	}
	// get the chainID from the web3 endpoint
	bChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return 0, fmt.Errorf("error getting the chainID from the web3 provider '%s': %w", uri, err)
	}
	chainID := bChainID.Uint64()
	// add the endpoint to the pool
	endpoint := &Web3Endpoint{
		ChainID: chainID,
		URI:     uri,
		client:  client,
	}
	nm.mtx.Lock()
	defer nm.mtx.Unlock()
	if _, ok := nm.endpoints[chainID]; !ok {
		nm.endpoints[chainID] = NewWeb3Iterator(endpoint)
	} else {
		nm.endpoints[chainID].Add(endpoint)
	}
	log.Debugw("web3 endpoint added", "chainID", chainID, "uri", uri)
	return chainID, nil
}

// DelEndpoint method removes a web3 provider URI from the endpoints of every
// chainID where it was found and closes its client. Chains left without
// endpoints are dropped from the pool.
func (nm *Web3Pool) DelEndpoint(uri string) {
	nm.mtx.Lock()
	defer nm.mtx.Unlock()
	for chainID, endpoints := range nm.endpoints {
		endpoint := endpoints.Remove(uri)
		if endpoint == nil {
			continue
		}
		if endpoint.client != nil {
			endpoint.client.Close()
		}
		if endpoints.Available()+endpoints.Disabled() == 0 {
			delete(nm.endpoints, chainID)
		}
	}
}

// Endpoint method returns the Web3Endpoint configured for the chainID
// provided. It returns the first available endpoint. If no available endpoint
// is found, returns an error.
func (nm *Web3Pool) Endpoint(chainID uint64) (*Web3Endpoint, error) {
	nm.mtx.RLock()
	endpoints, ok := nm.endpoints[chainID]
	nm.mtx.RUnlock()
	if ok {
		return endpoints.Next()
	}
	return nil, fmt.Errorf("no endpoint found for chainID %d", chainID)
}

// DisableEndpoint method sets the available flag to false for the URI provided
// in the chainID provided.
func (nm *Web3Pool) DisableEndpoint(chainID uint64, uri string) {
	nm.mtx.RLock()
	defer nm.mtx.RUnlock()
	if endpoints, ok := nm.endpoints[chainID]; ok {
		endpoints.Disable(uri)
	}
}

// NumberOfEndpoints method returns the total number (or just the available ones)
// of endpoints for the chainID provided.
func (nm *Web3Pool) NumberOfEndpoints(chainID uint64, onlyAvailable bool) int {
	nm.mtx.RLock()
	defer nm.mtx.RUnlock()
	if endpoints, ok := nm.endpoints[chainID]; ok {
		n := endpoints.Available()
		if !onlyAvailable {
			n += endpoints.Disabled()
		}
		return n
	}
	return 0
}

// ChainIDs method returns the chainIDs served by the pool.
func (nm *Web3Pool) ChainIDs() []uint64 {
	nm.mtx.RLock()
	defer nm.mtx.RUnlock()
	ids := make([]uint64, 0, len(nm.endpoints))
	for chainID := range nm.endpoints {
		ids = append(ids, chainID)
	}
	return ids
}

// Client method returns a new *Client instance for the chainID provided.
// It returns an error if the endpoint is not found.
func (nm *Web3Pool) Client(chainID uint64) (*Client, error) {
	if _, err := nm.Endpoint(chainID); err != nil {
		return nil, fmt.Errorf("error getting endpoint for chainID %d: %w", chainID, err)
	}
	return &Client{w3p: nm, chainID: chainID}, nil
}

// Close method closes the clients of every endpoint in the pool.
func (nm *Web3Pool) Close() {
	nm.mtx.Lock()
	defer nm.mtx.Unlock()
	for _, endpoints := range nm.endpoints {
		endpoints.mtx.Lock()
		for _, e := range append(endpoints.available, endpoints.disabled...) {
			e.client.Close()
		}
		endpoints.mtx.Unlock()
	}
	nm.endpoints = make(map[uint64]*Web3Iterator)
}

// connect method returns a new *ethclient.Client instance for the URI provided.
// It retries to connect to the web3 provider if it fails, up to the
// DefaultMaxWeb3ClientRetries times.
func connect(ctx context.Context, uri string) (client *ethclient.Client, err error) {
	for i := 0; i < DefaultMaxWeb3ClientRetries; i++ {
		if client, err = ethclient.DialContext(ctx, uri); err != nil {
			log.Debugw("failed to dial web3 provider, retrying", "uri", uri, "attempt", i+1, "error", err)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("error dialing web3 provider uri '%s': %w", uri, ctx.Err())
			case <-time.After(web3ClientRetryDelay):
			}
			continue
		}
		return
	}
	return nil, fmt.Errorf("error dialing web3 provider uri '%s': %w", uri, err)
}
