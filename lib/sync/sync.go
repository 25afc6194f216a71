// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"log/slog"
	"time"

	"filippo.io/age"

	"github.com/deaddrop-io/deaddrop/lib/bundle"
	"github.com/deaddrop-io/deaddrop/lib/clock"
	"github.com/deaddrop-io/deaddrop/lib/content"
	"github.com/deaddrop-io/deaddrop/lib/fault"
	"github.com/deaddrop-io/deaddrop/lib/patchlog"
)

// Source is anywhere bundles can be pulled from: a remote drop server,
// a mirror directory, a sneakernet folder.
type Source interface {
	// Advertise lists the bundle ids the source currently offers.
	Advertise(ctx context.Context) ([]content.Hash, error)

	// Bundle returns the encoded bytes of one offered bundle.
	Bundle(ctx context.Context, id content.Hash) ([]byte, error)
}

// Options tune one sync pass. The zero value retries three times with
// a two second backoff on the real clock.
type Options struct {
	// Attempts is how many times a failing source call is tried
	// before the pass gives up on it. Zero means 3.
	Attempts int

	// Backoff is the base delay between retries; it doubles per
	// attempt. Zero means 2s.
	Backoff time.Duration

	// Clock drives the retry delays. Nil means the real clock.
	Clock clock.Clock

	// Identities open sealed bundles addressed to us.
	Identities []age.Identity

	// Logger reports per-bundle progress. Nil discards.
	Logger *slog.Logger
}

func (o Options) attempts() int {
	if o.Attempts > 0 {
		return o.Attempts
	}
	return 3
}

func (o Options) backoff() time.Duration {
	if o.Backoff > 0 {
		return o.Backoff
	}
	return 2 * time.Second
}

func (o Options) clock() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.Real()
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Report summarizes one sync pass.
type Report struct {
	// Fetched counts bundles downloaded into the local directory.
	Fetched int

	// Unpacked counts bundles whose records merged into the log,
	// fetched this pass or already on disk.
	Unpacked int

	// Records counts records actually appended.
	Records int

	// Opaque counts bundles that stayed sealed: stored and relayed,
	// never merged.
	Opaque int

	// NewRecords lists the ids of the appended records, in the
	// order they landed.
	NewRecords []content.Hash

	// NewTopics lists the topics first seen this pass, in
	// first-appearance order.
	NewTopics []patchlog.Topic
}

// Sync pulls a source's bundles into the local directory and merges
// them into the log. Bundles already on disk are not fetched again;
// bundles that cannot be merged yet because they reply into records
// carried by a sibling bundle are retried after the rest, so a batch
// of inter-dependent bundles lands regardless of advertisement order.
// Sealed bundles none of our identities open are kept on disk for
// relaying and counted as opaque.
//
// Transport failures are retried per Options; a bundle that fails
// verification is skipped with its fault reported in the returned
// error after the rest of the pass completes.
func Sync(ctx context.Context, log *patchlog.Log, dir *bundle.Dir, source Source, now time.Time, options Options) (Report, error) {
	logger := options.logger()
	var report Report

	knownTopics := make(map[patchlog.Topic]bool)
	for info := range log.Topics() {
		knownTopics[info.Topic] = true
	}

	offered, err := withRetry(ctx, options, func() ([]content.Hash, error) {
		return source.Advertise(ctx)
	})
	if err != nil {
		return report, fault.Transport("listing source bundles: %w", err)
	}

	// Fetch what we do not hold. Everything offered, held or fresh,
	// is a merge candidate: a bundle fetched in an earlier
	// interrupted pass may never have been unpacked.
	pending := make([]*bundle.Bundle, 0, len(offered))
	var firstBad error
	tried := make(map[string]bool)
	for _, id := range offered {
		data, held, err := fetchOne(ctx, dir, source, id, tried, options)
		if err != nil {
			logger.Warn("bundle fetch failed", "bundle", id.Short(), "error", err)
			if firstBad == nil {
				firstBad = err
			}
			continue
		}
		if !held {
			report.Fetched++
		}

		decoded, err := bundle.Decode(data, options.Identities...)
		if err != nil {
			logger.Warn("bundle rejected", "bundle", id.Short(), "error", err)
			if firstBad == nil {
				firstBad = err
			}
			continue
		}
		if decoded.Encrypted() && decoded.Objects == nil && len(decoded.Header.Objects) > 0 {
			report.Opaque++
			logger.Info("bundle sealed to someone else, kept for relay", "bundle", id.Short())
			continue
		}
		pending = append(pending, decoded)
	}

	// Merge until a full pass makes no progress. A bundle whose
	// records hang from a sibling bundle fails its first attempts
	// and succeeds once the sibling lands; unpacking is idempotent,
	// so retrying is safe.
	for len(pending) > 0 {
		var (
			stuck    []*bundle.Bundle
			progress bool
			lastErr  error
		)
		for _, decoded := range pending {
			appended, err := bundle.Unpack(ctx, log, decoded, now)
			if err != nil {
				stuck = append(stuck, decoded)
				lastErr = err
				continue
			}
			progress = true
			report.Unpacked++
			report.Records += len(appended)
			report.NewRecords = append(report.NewRecords, appended...)
			for _, id := range appended {
				logged, ok := log.Get(id)
				if !ok {
					continue
				}
				if !knownTopics[logged.Topic] {
					knownTopics[logged.Topic] = true
					report.NewTopics = append(report.NewTopics, logged.Topic)
				}
			}
			logger.Info("bundle merged", "bundle", decoded.ID.Short(), "records", len(appended))
		}
		if !progress {
			if firstBad == nil {
				firstBad = lastErr
			}
			for _, decoded := range stuck {
				logger.Warn("bundle could not be merged", "bundle", decoded.ID.Short())
			}
			break
		}
		pending = stuck
	}

	return report, firstBad
}

// LocationSource is optionally implemented by sources that publish
// bundle location lists. A fetch that fails at the source itself falls
// back to the merged locations, attempting a bounded number of untried
// mirrors.
type LocationSource interface {
	Locations(ctx context.Context, id content.Hash) ([]bundle.Location, error)
}

// fetchOne returns the bundle bytes, reading from disk when held and
// downloading (and storing) otherwise. tried accumulates mirror URIs
// attempted across the pass so no mirror is hit twice.
func fetchOne(ctx context.Context, dir *bundle.Dir, source Source, id content.Hash, tried map[string]bool, options Options) (data []byte, held bool, err error) {
	if dir.Has(id) {
		data, err := dir.Read(id)
		return data, true, err
	}
	data, err = withRetry(ctx, options, func() ([]byte, error) {
		return source.Bundle(ctx, id)
	})
	if err != nil {
		locator, ok := source.(LocationSource)
		if !ok {
			return nil, false, err
		}
		locations, listErr := locator.Locations(ctx, id)
		if listErr != nil || len(locations) == 0 {
			return nil, false, err
		}
		data, err = bundle.FetchFromLocations(ctx, locations, content.Hash{}, tried, bundle.FetchOptions{})
		if err != nil {
			return nil, false, err
		}
	}
	if !bundle.IsBundleData(data) {
		return nil, false, fault.Integrity("source returned a non-bundle for %s", id.Short())
	}
	if got := contentID(data, options); got != nil && *got != id {
		return nil, false, fault.Integrity("source returned bundle %s for %s", got.Short(), id.Short())
	}
	if err := dir.Write(id, data); err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// contentID decodes just far enough to learn the bundle's id. Returns
// nil when the bytes do not decode; the caller surfaces that through
// the normal decode path.
func contentID(data []byte, options Options) *content.Hash {
	decoded, err := bundle.Decode(data, options.Identities...)
	if err != nil {
		return nil
	}
	return &decoded.ID
}

// withRetry runs call up to Options.Attempts times, doubling the
// backoff between attempts. Context cancellation stops the retries
// immediately.
func withRetry[T any](ctx context.Context, options Options, call func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	delay := options.backoff()
	ticker := options.clock()
	for attempt := 0; attempt < options.attempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-ticker.After(delay):
				delay *= 2
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}
