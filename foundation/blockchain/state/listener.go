package state

import "github.com/ardanlabs/hybridchain/foundation/blockchain/database"

// Listener is a set of callbacks for chain transitions. Callbacks run
// synchronously, in registration order, while the chain lock is held. They
// must not call back into the state. Any callback may be nil.
type Listener struct {
	BlockPushed func(b *database.Block)
	BlockPopped func(b *database.Block)
	RescanBegin func(height uint64)
	RescanEnd   func(tip *database.Block)
}

// AddListener registers a listener for chain transitions.
func (s *State) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)
}

// =============================================================================

func (s *State) notifyPushed(b *database.Block) {
	for _, l := range s.listeners {
		if l.BlockPushed != nil {
			l.BlockPushed(b)
		}
	}
}

func (s *State) notifyPopped(b *database.Block) {
	for _, l := range s.listeners {
		if l.BlockPopped != nil {
			l.BlockPopped(b)
		}
	}
}

func (s *State) notifyRescanBegin(height uint64) {
	for _, l := range s.listeners {
		if l.RescanBegin != nil {
			l.RescanBegin(height)
		}
	}
}

func (s *State) notifyRescanEnd(tip *database.Block) {
	for _, l := range s.listeners {
		if l.RescanEnd != nil {
			l.RescanEnd(tip)
		}
	}
}
