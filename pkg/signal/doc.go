/*
Package signal implements the one-directional wake-up channel between
observer and coordinator.

The two processes never talk directly. Observers commit facts and
liveness markers to the shared store, then raise a signal by atomically
rewriting a nonce file in the data directory. The coordinator watches
the directory with fsnotify and treats any rewrite as "check the
store". Signals carry no payload and may be lost, duplicated, or
coalesced; the coordinator's fallback poll bounds the damage of a lost
one to a single poll interval.

# Contract

  - Raise is cheap and safe to call after every observer batch
  - Delivery is at-most-once per rewrite; bursts coalesce to one tick
  - A tick promises nothing beyond "the store may have changed"
  - Losing every signal only delays accounting, never corrupts it

Usage:

	n := signal.NewNotifier(dataDir)
	// ... commit facts to the store ...
	if err := n.Raise(); err != nil {
		// log and continue; the fallback poll covers us
	}

	w, err := signal.NewWatcher(dataDir)
	if err != nil {
		return err
	}
	defer w.Close()
	for {
		select {
		case <-w.C():
			drainStore()
		case <-ctx.Done():
			return nil
		}
	}
*/
package signal
