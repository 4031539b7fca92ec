package defense

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/krewdev/bluetrap/internal/state"
)

// ClientState joins everything stored about one client.
type ClientState struct {
	ClientID    string       `json:"ip" yaml:"ip"`
	LastRequest float64      `json:"lastRequest,omitempty" yaml:"lastRequest,omitempty"`
	Trap        *ActiveTrap  `json:"trap,omitempty" yaml:"trap,omitempty"`
	Visits      *VisitRecord `json:"visits,omitempty" yaml:"visits,omitempty"`
	RateWindow  *RateWindow  `json:"rateWindow,omitempty" yaml:"rateWindow,omitempty"`
}

// ClientQuery selects clients for listing or reset.
type ClientQuery struct {
	All      bool
	ClientID string
	Prefix   string
}

// Validate ensures exactly one selector is used.
func (q ClientQuery) Validate() error {
	selectors := 0
	if q.All {
		selectors++
	}
	if strings.TrimSpace(q.ClientID) != "" {
		selectors++
	}
	if strings.TrimSpace(q.Prefix) != "" {
		selectors++
	}
	if selectors != 1 {
		return fmt.Errorf("specify exactly one of --all, --ip, or --prefix")
	}
	return nil
}

func (q ClientQuery) matches(id string) bool {
	switch {
	case q.All:
		return true
	case q.ClientID != "":
		return id == q.ClientID
	default:
		return strings.HasPrefix(id, q.Prefix)
	}
}

var clientPrefixes = []string{state.RequestPrefix, state.TrapPrefix, state.VisitsPrefix, state.RatePrefix}

// ListClients returns the per-client state matching q, sorted by client id.
func ListClients(ctx context.Context, store state.Store, q ClientQuery) ([]ClientState, error) {
	clients := make(map[string]*ClientState)
	get := func(id string) *ClientState {
		c, ok := clients[id]
		if !ok {
			c = &ClientState{ClientID: id}
			clients[id] = c
		}
		return c
	}

	for _, prefix := range clientPrefixes {
		records, err := store.GetAll(ctx, state.Pattern(prefix))
		if err != nil {
			return nil, err
		}
		for key, raw := range records {
			id := state.ClientID(key, prefix)
			if !q.matches(id) {
				continue
			}
			c := get(id)
			switch prefix {
			case state.RequestPrefix:
				if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
					c.LastRequest = f
				}
			case state.TrapPrefix:
				var trap ActiveTrap
				if json.Unmarshal(raw, &trap) == nil {
					c.Trap = &trap
				}
			case state.VisitsPrefix:
				var v VisitRecord
				if json.Unmarshal(raw, &v) == nil {
					c.Visits = &v
				}
			case state.RatePrefix:
				var w RateWindow
				if json.Unmarshal(raw, &w) == nil {
					c.RateWindow = &w
				}
			}
		}
	}

	out := make([]ClientState, 0, len(clients))
	for _, c := range clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// ResetClients deletes all state for the clients matching q and returns the
// number of keys removed. The global trapped counter is left untouched.
func ResetClients(ctx context.Context, store state.Store, q ClientQuery) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	deleted := 0
	for _, prefix := range clientPrefixes {
		keys, err := store.Keys(ctx, state.Pattern(prefix))
		if err != nil {
			return deleted, err
		}
		for _, key := range keys {
			if !q.matches(state.ClientID(key, prefix)) {
				continue
			}
			if err := store.Delete(ctx, key); err != nil {
				return deleted, fmt.Errorf("delete %s: %w", key, err)
			}
			deleted++
		}
	}
	return deleted, nil
}
