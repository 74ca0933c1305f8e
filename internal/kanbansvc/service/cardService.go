package service

import (
	"context"
	"sync"
	"time"

	"github.com/avvvet/kanban-services/internal/comm"
	"github.com/avvvet/kanban-services/internal/kanbansvc/models"
	"github.com/avvvet/kanban-services/internal/kanbansvc/store"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Notifier receives an event after each successful mutation.
type Notifier interface {
	Notify(event comm.CardEvent)
}

// CardService runs every read-modify-write on the collection under one
// lock, so concurrent mutations never drop each other's changes.
type CardService struct {
	store      store.CardStore
	instanceId string

	mu sync.Mutex // guards load-mutate-save

	nmu       sync.RWMutex
	notifiers []Notifier
}

func NewCardService(store store.CardStore, instanceId string) *CardService {
	return &CardService{store: store, instanceId: instanceId}
}

func (s *CardService) AddNotifier(n Notifier) {
	s.nmu.Lock()
	defer s.nmu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

func (s *CardService) List(ctx context.Context) (models.Collection, error) {
	return s.store.Load(ctx)
}

// Append stores card at the end of the collection. A card without an id
// gets a generated one.
func (s *CardService) Append(ctx context.Context, card models.Card) (models.Card, error) {
	if err := card.Validate(); err != nil {
		return nil, err
	}
	if !card.HasID() {
		card.SetID(uuid.NewString())
	}

	count, err := s.mutate(ctx, func(cards models.Collection) (models.Collection, error) {
		return append(cards, card), nil
	})
	if err != nil {
		return nil, err
	}

	id, _ := card.ID()
	s.notify(comm.CardEvent{Type: comm.EventCardCreated, CardID: id, Count: count, Matched: 1})
	return card, nil
}

// ReplaceAll overwrites the collection and returns the new card count.
func (s *CardService) ReplaceAll(ctx context.Context, cards models.Collection) (int, error) {
	if err := cards.Validate(); err != nil {
		return 0, err
	}
	cards = cards.Normalize()

	s.mu.Lock()
	err := s.store.Save(ctx, cards)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.notify(comm.CardEvent{Type: comm.EventCardsReplaced, Count: len(cards), Matched: len(cards)})
	return len(cards), nil
}

// ReplaceOne swaps the first card with the given id for card, keeping its
// position. When no card matches, the collection is saved unchanged and
// matched is false.
func (s *CardService) ReplaceOne(ctx context.Context, id string, card models.Card) (models.Card, bool, error) {
	if err := card.Validate(); err != nil {
		return nil, false, err
	}

	matched := false
	count, err := s.mutate(ctx, func(cards models.Collection) (models.Collection, error) {
		for i, c := range cards {
			if cid, ok := c.ID(); ok && cid == id {
				cards[i] = card
				matched = true
				break
			}
		}
		return cards, nil
	})
	if err != nil {
		return nil, false, err
	}

	if matched {
		s.notify(comm.CardEvent{Type: comm.EventCardUpdated, CardID: id, Count: count, Matched: 1})
	} else {
		log.Infof("update for unknown card id %q ignored", id)
	}
	return card, matched, nil
}

// Delete removes every card with the given id and returns how many were removed.
func (s *CardService) Delete(ctx context.Context, id string) (int, error) {
	removed := 0
	count, err := s.mutate(ctx, func(cards models.Collection) (models.Collection, error) {
		kept := make(models.Collection, 0, len(cards))
		for _, c := range cards {
			if cid, ok := c.ID(); ok && cid == id {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}

	s.notify(comm.CardEvent{Type: comm.EventCardDeleted, CardID: id, Count: count, Matched: removed})
	return removed, nil
}

// mutate loads, applies fn and saves while holding the write lock.
// It returns the size of the saved collection.
func (s *CardService) mutate(ctx context.Context, fn func(models.Collection) (models.Collection, error)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	cards, err = fn(cards)
	if err != nil {
		return 0, err
	}

	if err := s.store.Save(ctx, cards); err != nil {
		return 0, err
	}
	return len(cards), nil
}

func (s *CardService) notify(event comm.CardEvent) {
	event.Instance = s.instanceId
	event.Timestamp = time.Now().UTC()

	s.nmu.RLock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	s.nmu.RUnlock()

	for _, n := range notifiers {
		n.Notify(event)
	}
}
