// Package registry implements the subscription registry spec §4.5
// describes: a channel-id -> subscription map backed by the top-level
// "channelIDs" storage key, recovering persisted subscriptions on
// construction and keeping that key in sync as subscriptions come and
// go.
//
// Grounded on internal/opstate's namespaced persistence plus the
// teacher's map-with-mutex registries (mqtt.Publisher.dynamicSensors,
// connwatch.Manager.watchers): a mutex-guarded map indexed by a
// string key, rewritten to disk after every mutation.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cobalt-oss/autopush-client/internal/events"
	"github.com/cobalt-oss/autopush-client/internal/logging"
	"github.com/cobalt-oss/autopush-client/internal/storage"
	"github.com/cobalt-oss/autopush-client/internal/subscription"
)

const keyChannelIDs = "channelIDs"

// Registry holds every live subscription, indexed by channel-id.
type Registry struct {
	store   *storage.Store
	logger  *logging.Logger
	unsubCB subscription.UnsubscribeFunc

	mu            sync.Mutex
	subscriptions map[string]*subscription.Subscription
}

// New builds a registry over store's top-level "channelIDs" list,
// recovering each persisted subscription (spec §4.5). A subscription
// that fails to recover is logged and skipped, not fatal to
// construction — a single corrupted entry must not block every other
// one from coming back.
func New(store *storage.Store, logger *logging.Logger, unsubCB subscription.UnsubscribeFunc) (*Registry, error) {
	r := &Registry{
		store:         store,
		logger:        logger.With("registry"),
		unsubCB:       unsubCB,
		subscriptions: make(map[string]*subscription.Subscription),
	}

	ids, _, err := storage.Read[[]string](store, keyChannelIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		sub, err := subscription.Recover(id, store, unsubCB, logger)
		if err != nil {
			r.logger.Warn("failed to recover subscription, skipping", "channelID", id, "error", err)
			continue
		}
		r.subscriptions[id] = sub
	}
	return r, nil
}

// ChannelIDs returns the channel-ids of every currently registered
// subscription, for the hello frame's channelIDs field (spec §4.9.1).
func (r *Registry) ChannelIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotIDsLocked()
}

func (r *Registry) snapshotIDsLocked() []string {
	ids := make([]string, 0, len(r.subscriptions))
	for id := range r.subscriptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Add constructs a new subscription for channelID and records it
// (spec §4.5 "add").
func (r *Registry) Add(channelID, endpoint string, options subscription.Options, eventManager *events.Manager) (*subscription.Subscription, error) {
	sub, err := subscription.Create(channelID, r.store, endpoint, options, r.unsubCB, r.logger, eventManager)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.subscriptions[channelID] = sub
	r.mu.Unlock()

	if err := r.persistChannelIDs(); err != nil {
		return nil, err
	}
	return sub, nil
}

// Get returns the subscription for channelID, or nil if none exists
// (spec §4.5 "get").
func (r *Registry) Get(channelID string) *subscription.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptions[channelID]
}

// GetByApplicationServerKey scans for a subscription whose options
// carry the given VAPID key (spec §4.5 "get_by_application_server_key").
func (r *Registry) GetByApplicationServerKey(key string) *subscription.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subscriptions {
		if sub.Options().ApplicationServerKey == key {
			return sub
		}
	}
	return nil
}

// Remove destroys and forgets the subscription for channelID (spec
// §4.5 "remove"). Removing an unknown channel-id is not an error.
func (r *Registry) Remove(channelID string) error {
	r.mu.Lock()
	sub, ok := r.subscriptions[channelID]
	if ok {
		delete(r.subscriptions, channelID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := sub.Destroy(); err != nil {
		return fmt.Errorf("registry: remove %s: %w", channelID, err)
	}
	return r.persistChannelIDs()
}

// ReInitAll re-registers every currently held subscription against a
// fresh UAID (spec §4.5 "re_init_all"), used after a HelloHandler
// detects a UAID rotation. It iterates a snapshot so a subscription
// that fails to re-init does not block the rest; each success
// replaces the original in the map under its new channel-id and
// destroys the original's persisted state.
func (r *Registry) ReInitAll(mediator subscription.RegisterRequester) error {
	r.mu.Lock()
	snapshot := make([]*subscription.Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		snapshot = append(snapshot, sub)
	}
	r.mu.Unlock()

	for _, old := range snapshot {
		fresh, err := old.ReInit(mediator)
		if err != nil {
			r.logger.Warn("re-init failed, leaving prior subscription in place", "channelID", old.ChannelID(), "error", err)
			continue
		}

		r.mu.Lock()
		delete(r.subscriptions, old.ChannelID())
		r.subscriptions[fresh.ChannelID()] = fresh
		r.mu.Unlock()

		if err := old.Destroy(); err != nil {
			r.logger.Warn("failed destroying prior subscription after re-init", "channelID", old.ChannelID(), "error", err)
		}
	}

	return r.persistChannelIDs()
}

func (r *Registry) persistChannelIDs() error {
	r.mu.Lock()
	ids := r.snapshotIDsLocked()
	r.mu.Unlock()
	return storage.Write(r.store, keyChannelIDs, ids)
}
