package shardvault

import (
	"context"
	"sync"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// MemoryDirectory is an in-process CardDirectory for single-instance
// deployments and tests.
type MemoryDirectory struct {
	mu     sync.RWMutex
	cards  map[string]*Card
	shares map[interfaces.OwnerRef][]interfaces.ShardID
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		cards:  make(map[string]*Card),
		shares: make(map[interfaces.OwnerRef][]interfaces.ShardID),
	}
}

// AddCard registers a card. Used at provisioning time and by tests.
func (d *MemoryDirectory) AddCard(card *Card) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *card
	d.cards[card.Ref] = &clone
}

// Card returns the card if it exists and belongs to owner.
func (d *MemoryDirectory) Card(ctx context.Context, cardRef string, owner interfaces.OwnerRef) (*Card, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	card, ok := d.cards[cardRef]
	if !ok || card.Owner != owner {
		return nil, interfaces.ErrCardNotFound
	}

	clone := *card
	return &clone, nil
}

// EnableSigning sets the signing-capable flag, reporting whether it was
// newly set.
func (d *MemoryDirectory) EnableSigning(ctx context.Context, cardRef string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	card, ok := d.cards[cardRef]
	if !ok {
		return false, interfaces.ErrCardNotFound
	}

	if card.SigningEnabled {
		return false, nil
	}
	card.SigningEnabled = true
	return true, nil
}

// AppendShareIndex appends a shard pointer to the owner's index list.
func (d *MemoryDirectory) AppendShareIndex(ctx context.Context, owner interfaces.OwnerRef, id interfaces.ShardID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shares[owner] = append(d.shares[owner], id)
	return nil
}

// ShareIndex returns the owner's shard pointer list.
func (d *MemoryDirectory) ShareIndex(owner interfaces.OwnerRef) []interfaces.ShardID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]interfaces.ShardID(nil), d.shares[owner]...)
}
