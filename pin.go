// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cockroachdb/errors"
)

// pinRecord is the persisted form of a pin. Pins survive control plane
// restarts; liveness is wall-clock lease based so a crashed holder can
// never block reclamation past its lease.
type pinRecord struct {
	Holder    string     `json:"holder"`
	Epoch     base.Epoch `json:"epoch"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	// Retention is non-zero for subscription pins, whose epoch floor
	// follows current_epoch - retention instead of staying fixed.
	Retention time.Duration `json:"retention,omitempty"`
}

func (p *pinRecord) live(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// PinHandle is returned by Pin and identifies a live pin for renewal and
// release.
type PinHandle struct {
	Holder string
	Epoch  base.Epoch
}

// pinRegistry tracks the epoch lower bounds held by long-lived readers and
// subscriptions. Reads of the floor need only a consistent snapshot, not
// serialization with pinning writers: a slightly stale floor is safe because
// it is always conservative, provided pin creation is acknowledged before
// any GC cycle computes its floor (the GC reads pins after taking its
// safe-epoch snapshot).
type pinRegistry struct {
	logger   Logger
	store    metastore.Store
	listener *EventListener
	metrics  *Metrics
	lease    time.Duration

	// now is replaceable by tests.
	now func() time.Time

	mu struct {
		sync.Mutex
		pins map[string]*pinRecord
	}
}

func newPinRegistry(
	logger Logger, store metastore.Store, listener *EventListener,
	metrics *Metrics, lease time.Duration,
) *pinRegistry {
	r := &pinRegistry{
		logger:   logger,
		store:    store,
		listener: listener,
		metrics:  metrics,
		lease:    lease,
		now:      time.Now,
	}
	r.mu.pins = make(map[string]*pinRecord)
	return r
}

// load restores persisted pins after a control plane restart. Expired
// records are dropped.
func (r *pinRegistry) load(ctx context.Context) error {
	kvs, err := r.store.Scan(ctx, metastore.PinPrefix)
	if err != nil {
		return err
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kv := range kvs {
		rec := &pinRecord{}
		if err := json.Unmarshal(kv.Value, rec); err != nil {
			return errors.Wrapf(err, "cascade: decoding pin record %q", kv.Key)
		}
		if rec.live(now) {
			r.mu.pins[rec.Holder] = rec
		}
	}
	r.updateMetricsLocked()
	return nil
}

// pin registers holder as depending on epoch. It fails with ErrEpochTooOld
// if epoch is below safeFloor (the data may already be reclaimed).
func (r *pinRegistry) pin(
	ctx context.Context, holder string, epoch base.Epoch, safeFloor base.Epoch,
) (*PinHandle, error) {
	return r.pinInternal(ctx, holder, epoch, safeFloor, 0)
}

// pinSubscription registers a change-feed subscription with a retention
// window. Its floor starts at currentEpoch - retention and advances as the
// committed epoch does.
func (r *pinRegistry) pinSubscription(
	ctx context.Context, holder string, currentEpoch base.Epoch,
	retention time.Duration, safeFloor base.Epoch,
) (*PinHandle, error) {
	if retention <= 0 {
		return nil, errors.Mark(errors.New("cascade: subscription retention must be positive"),
			ErrInvalid)
	}
	epoch := retentionFloor(currentEpoch, retention)
	return r.pinInternal(ctx, holder, epoch, safeFloor, retention)
}

func (r *pinRegistry) pinInternal(
	ctx context.Context, holder string, epoch base.Epoch,
	safeFloor base.Epoch, retention time.Duration,
) (*PinHandle, error) {
	if epoch < safeFloor {
		return nil, errors.Mark(errors.Newf(
			"cascade: epoch %d is below the safe epoch %d", epoch, safeFloor),
			ErrEpochTooOld)
	}
	now := r.now()
	rec := &pinRecord{
		Holder:    holder,
		Epoch:     epoch,
		CreatedAt: now,
		ExpiresAt: now.Add(r.lease),
		Retention: retention,
	}
	// The pin is durable before it is acknowledged, so no GC floor computed
	// after this call can miss it.
	if err := r.persist(ctx, rec); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.mu.pins[holder] = rec
	r.updateMetricsLocked()
	r.mu.Unlock()
	return &PinHandle{Holder: holder, Epoch: epoch}, nil
}

// renew extends the holder's lease. Renewing an expired or released pin
// fails with ErrNotFound; the holder must re-pin, which re-checks the safe
// floor.
func (r *pinRegistry) renew(ctx context.Context, h *PinHandle) error {
	now := r.now()
	r.mu.Lock()
	rec, ok := r.mu.pins[h.Holder]
	if !ok || !rec.live(now) {
		r.mu.Unlock()
		return errors.Mark(errors.Newf("cascade: pin of holder %q", h.Holder), ErrNotFound)
	}
	renewed := *rec
	renewed.ExpiresAt = now.Add(r.lease)
	r.mu.Unlock()

	if err := r.persist(ctx, &renewed); err != nil {
		return err
	}
	r.mu.Lock()
	if cur, ok := r.mu.pins[h.Holder]; ok && cur == rec {
		r.mu.pins[h.Holder] = &renewed
	}
	r.mu.Unlock()
	return nil
}

// release removes the holder's pin. Releasing an unknown pin is a no-op:
// the lease may have expired and been swept concurrently.
func (r *pinRegistry) release(ctx context.Context, h *PinHandle) error {
	if err := metastore.DeleteBlind(ctx, r.store, metastore.PinKey(h.Holder)); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.mu.pins, h.Holder)
	r.updateMetricsLocked()
	r.mu.Unlock()
	return nil
}

// minPinnedEpoch returns the minimum epoch across live pins. The boolean is
// false when no live pin imposes a floor.
func (r *pinRegistry) minPinnedEpoch() (base.Epoch, bool) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	min := base.EpochMax
	found := false
	for _, rec := range r.mu.pins {
		if !rec.live(now) {
			continue
		}
		if rec.Epoch < min {
			min = rec.Epoch
		}
		found = true
	}
	return min, found
}

// listPins returns the live pins sorted by holder. Backs the
// list-pinned-snapshots surface.
func (r *pinRegistry) listPins() []PinHandle {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := make([]PinHandle, 0, len(r.mu.pins))
	for _, rec := range r.mu.pins {
		if rec.live(now) {
			handles = append(handles, PinHandle{Holder: rec.Holder, Epoch: rec.Epoch})
		}
	}
	return handles
}

// advanceEpoch recomputes the floors of subscription pins after the
// committed epoch moved. Fixed pins are untouched.
func (r *pinRegistry) advanceEpoch(ctx context.Context, committed base.Epoch) error {
	r.mu.Lock()
	var holders []string
	for holder, rec := range r.mu.pins {
		if rec.Retention != 0 && retentionFloor(committed, rec.Retention) > rec.Epoch {
			holders = append(holders, holder)
		}
	}
	r.mu.Unlock()

	for _, holder := range holders {
		if err := r.advancePin(ctx, holder, committed); err != nil {
			return err
		}
	}
	return nil
}

// advancePin moves one subscription pin's floor with a read-modify-write
// against the stored record. A blind write here could overwrite the fresh
// lease of a concurrent renewal with a stale snapshot, so the write compares
// on the record's revision and retries on conflict.
func (r *pinRegistry) advancePin(
	ctx context.Context, holder string, committed base.Epoch,
) error {
	key := metastore.PinKey(holder)
	for {
		kv, err := r.store.Get(ctx, key)
		if metastore.IsNotFound(err) {
			// Released or expired since the scan.
			return nil
		}
		if err != nil {
			return err
		}
		rec := &pinRecord{}
		if err := json.Unmarshal(kv.Value, rec); err != nil {
			return errors.Wrapf(err, "cascade: decoding pin record %q", key)
		}
		floor := retentionFloor(committed, rec.Retention)
		if rec.Retention == 0 || floor <= rec.Epoch {
			return nil
		}
		rec.Epoch = floor
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrapf(err, "cascade: encoding pin of holder %q", holder)
		}
		err = r.store.Commit(ctx, metastore.Txn{
			Compares: []metastore.Compare{{Key: key, Revision: kv.Revision}},
			Puts:     []metastore.Put{{Key: key, Value: data}},
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
		r.mu.Lock()
		if cur, ok := r.mu.pins[holder]; ok && cur.Retention != 0 && floor > cur.Epoch {
			moved := *cur
			moved.Epoch = floor
			r.mu.pins[holder] = &moved
		}
		r.mu.Unlock()
		return nil
	}
}

// expireStale sweeps pins whose lease has lapsed, removing their records so
// crashed readers cannot block reclamation indefinitely.
func (r *pinRegistry) expireStale(ctx context.Context) error {
	now := r.now()
	r.mu.Lock()
	var expired []*pinRecord
	for holder, rec := range r.mu.pins {
		if !rec.live(now) {
			expired = append(expired, rec)
			delete(r.mu.pins, holder)
		}
	}
	r.updateMetricsLocked()
	r.mu.Unlock()

	for _, rec := range expired {
		if err := metastore.DeleteBlind(ctx, r.store, metastore.PinKey(rec.Holder)); err != nil {
			return err
		}
		r.listener.PinExpired(PinExpiredInfo{Holder: rec.Holder, Epoch: rec.Epoch})
	}
	return nil
}

func (r *pinRegistry) persist(ctx context.Context, rec *pinRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(err, "cascade: encoding pin of holder %q", rec.Holder)
	}
	return metastore.PutBlind(ctx, r.store, metastore.PinKey(rec.Holder), data)
}

func (r *pinRegistry) updateMetricsLocked() {
	r.metrics.LivePins.Set(float64(len(r.mu.pins)))
	min := base.Epoch(0)
	for _, rec := range r.mu.pins {
		if min == 0 || rec.Epoch < min {
			min = rec.Epoch
		}
	}
	r.metrics.MinPinnedEpoch.Set(float64(min))
}

// retentionFloor computes current - retention in epoch space, saturating at
// zero. Epochs advance one per logical millisecond-equivalent unit; the
// control core treats the mapping as opaque and provided by configuration
// of the epoch source, so retention is converted via the epoch-per-second
// rate of the committer.
func retentionFloor(current base.Epoch, retention time.Duration) base.Epoch {
	units := base.Epoch(retention / time.Millisecond)
	if units >= current {
		return 0
	}
	return current - units
}
