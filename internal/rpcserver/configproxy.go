package rpcserver

import (
	"context"
	"fmt"

	"rpchost/internal/rpcclient"
	"rpchost/internal/rpcerr"
	"rpchost/pkg/rpcapi"
)

// distinctProxyPeers returns one proxyState per distinct (host, port) pair
// currently registered on s, regardless of how many service names share that
// peer. Config merge fan-out talks to each peer once rather than once per
// proxied service name.
func (s *Server) distinctProxyPeers() []proxyState {
	seen := map[string]bool{}
	var peers []proxyState
	for _, ps := range s.proxy.all() {
		if !ps.active() {
			continue
		}
		key := fmt.Sprintf("%s:%d", ps.Host, ps.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		peers = append(peers, ps)
	}
	return peers
}

func (s *Server) peerClient(ps proxyState) (*rpcclient.Client, error) {
	return rpcclient.Dial(ps.Host, int(ps.Port),
		rpcclient.WithName("config(merge)"),
		rpcclient.WithTimeout(s.clientTimeout()),
		rpcclient.WithRaiseOnNonOK(false))
}

// mergedConfigGet folds local into the config.get response of every distinct
// proxied peer, by item name. A name present on more than one host must
// agree on value; a mismatch fails ERROR_ITEM_CONFLICT unless ignoreUnknown
// is set, in which case the conflicting peer value is dropped instead.
func (s *Server) mergedConfigGet(ctx context.Context, local []rpcapi.ConfigItem, names []string, ignoreUnknown bool) ([]rpcapi.ConfigItem, error) {
	peers := s.distinctProxyPeers()
	if len(peers) == 0 {
		return local, nil
	}

	byName := make(map[string]rpcapi.ConfigItem, len(local))
	order := make([]string, 0, len(local))
	for _, it := range local {
		byName[it.Name] = it
		order = append(order, it.Name)
	}

	for _, ps := range peers {
		client, err := s.peerClient(ps)
		if err != nil {
			return nil, rpcerr.Wrap(err, rpcapi.ErrorRPC, "dialing proxied peer for config merge")
		}
		req := &rpcapi.Filter{Names: names, IgnoreUnknown: ignoreUnknown}
		resp := &rpcapi.ConfigStatus{}
		err = client.Call(ctx, "/config/get", req, resp)
		client.Close()
		if err != nil {
			return nil, err
		}
		if !resp.R.IsOK() {
			return nil, rpcerr.FromResult(resp.R)
		}
		for _, it := range resp.Items {
			existing, ok := byName[it.Name]
			if !ok {
				byName[it.Name] = it
				order = append(order, it.Name)
				continue
			}
			if existing.Value != it.Value {
				if ignoreUnknown {
					continue
				}
				return nil, rpcerr.Newf(rpcapi.ErrorItemConflict, "config item %q has conflicting values across proxied peers", it.Name)
			}
		}
	}

	out := make([]rpcapi.ConfigItem, 0, len(order))
	for _, n := range order {
		out = append(out, byName[n])
	}
	return out, nil
}

// propagateConfigUpdate replays a config.set/reset onto every distinct
// proxied peer, so a write accepted locally also lands on every host that
// shares the merged view.
func (s *Server) propagateConfigUpdate(ctx context.Context, req *rpcapi.ConfigItemUpdate) error {
	for _, ps := range s.distinctProxyPeers() {
		client, err := s.peerClient(ps)
		if err != nil {
			return rpcerr.Wrap(err, rpcapi.ErrorRPC, "dialing proxied peer for config propagation")
		}
		resp := &rpcapi.Empty{}
		err = client.Call(ctx, "/config/set", req, resp)
		client.Close()
		if err != nil {
			return err
		}
		if !resp.R.IsOK() {
			return rpcerr.FromResult(resp.R)
		}
	}
	return nil
}

func (s *Server) propagateConfigReset(ctx context.Context, req *rpcapi.Filter) error {
	for _, ps := range s.distinctProxyPeers() {
		client, err := s.peerClient(ps)
		if err != nil {
			return rpcerr.Wrap(err, rpcapi.ErrorRPC, "dialing proxied peer for config propagation")
		}
		resp := &rpcapi.Empty{}
		err = client.Call(ctx, "/config/reset", req, resp)
		client.Close()
		if err != nil {
			return err
		}
		if !resp.R.IsOK() {
			return rpcerr.FromResult(resp.R)
		}
	}
	return nil
}
