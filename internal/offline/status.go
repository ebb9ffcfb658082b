package offline

import (
	"context"
)

type Status struct {
	CacheName string   `json:"cache_name"`
	State     string   `json:"state"`
	Manifest  []string `json:"manifest"`
	Stores    []string `json:"stores"`
	Entries   int      `json:"entries"`
}

// Status reports the lifecycle state together with what the storage
// currently holds.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	w.mu.RLock()
	state, store := w.state, w.store
	w.mu.RUnlock()

	st := Status{
		CacheName: w.opts.CacheName,
		State:     state.String(),
		Manifest:  w.Manifest(),
	}

	names, err := w.opts.Storage.Names(ctx)
	if err != nil {
		return st, err
	}
	st.Stores = names

	if store != nil {
		keys, err := store.Keys(ctx)
		if err != nil {
			return st, err
		}
		st.Entries = len(keys)
	}
	return st, nil
}
