// Package ledger records completed trips. A commit that cannot reach
// the durable store is staged in a local buffer and replayed on the
// next favorable connectivity signal; replays of an already-committed
// record are no-ops, so a trip is recorded exactly once.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/todahub/paradahan/internal/domain/geo"
	"github.com/todahub/paradahan/internal/domain/ride"
	"github.com/todahub/paradahan/pkg/apperrors"
	"github.com/todahub/paradahan/pkg/docstore"
	"github.com/todahub/paradahan/pkg/logger"
)

// Collection holds committed ride records, keyed by ride UUID.
const Collection = "ride_records"

// Buffer is the local durable cache collaborator used for offline
// staging of unconfirmed records.
type Buffer interface {
	Stage(ctx context.Context, key string, rec *ride.Record) error
	Drain(ctx context.Context) ([]*ride.Record, error)
	Clear(ctx context.Context, key string) error
}

// Ledger commits ride records to the durable store.
type Ledger struct {
	store  docstore.Store
	buffer Buffer
	log    *logger.Logger
}

// New creates a ledger.
func New(store docstore.Store, buffer Buffer, log *logger.Logger) *Ledger {
	return &Ledger{store: store, buffer: buffer, log: log}
}

// Commit durably records the trip. On store failure the candidate is
// staged locally and the commit reports success with Buffered set; the
// record will be replayed by Flush. Only a double failure (store and
// buffer both down) surfaces an error.
func (l *Ledger) Commit(ctx context.Context, rec *ride.Record) (buffered bool, err error) {
	committed, err := l.tryCommit(ctx, rec)
	if err == nil {
		if committed {
			l.log.Info("Ride record committed",
				logger.String("ride_id", rec.ID.String()),
				logger.String("driver_id", rec.DriverID),
				logger.Float64("fare", rec.Fare),
			)
		}
		return false, nil
	}

	l.log.Warn("Ride commit failed, staging locally",
		logger.Err(err),
		logger.String("ride_id", rec.ID.String()),
	)
	if stageErr := l.buffer.Stage(ctx, rec.ID.String(), rec); stageErr != nil {
		return false, apperrors.PersistenceWrite("ride record lost both store and buffer", stageErr)
	}
	return true, nil
}

// Flush replays every staged record. Called on favorable connectivity
// signals such as the next zone entry. Records that commit (or turn
// out to be already committed) are cleared; the rest stay staged.
func (l *Ledger) Flush(ctx context.Context) error {
	staged, err := l.buffer.Drain(ctx)
	if err != nil {
		return apperrors.PersistenceWrite("failed to drain ride buffer", err)
	}
	if len(staged) == 0 {
		return nil
	}

	l.log.Info("Replaying staged ride records", logger.Int("count", len(staged)))
	var lastErr error
	for _, rec := range staged {
		if _, err := l.tryCommit(ctx, rec); err != nil {
			lastErr = err
			continue
		}
		if err := l.buffer.Clear(ctx, rec.ID.String()); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return apperrors.PersistenceWrite("some staged records were not replayed", lastErr)
	}
	return nil
}

// Records returns committed records for one driver, newest first.
func (l *Ledger) Records(ctx context.Context, driverID string) ([]*ride.Record, error) {
	docs, err := l.store.List(ctx, Collection)
	if err != nil {
		return nil, apperrors.PersistenceWrite("failed to list ride records", err)
	}
	records := make([]*ride.Record, 0)
	for _, doc := range docs {
		rec, err := decodeRecord(doc)
		if err != nil {
			l.log.Warn("Skipping undecodable ride record",
				logger.String("key", doc.Key), logger.Err(err))
			continue
		}
		if rec.DriverID == driverID {
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

// tryCommit writes the record unless its key already exists; the key
// check makes replays idempotent.
func (l *Ledger) tryCommit(ctx context.Context, rec *ride.Record) (committed bool, err error) {
	key := rec.ID.String()
	if _, err := l.store.Get(ctx, Collection, key); err == nil {
		l.log.Debug("Ride record already committed", logger.String("ride_id", key))
		return false, nil
	} else if err != docstore.ErrNotFound {
		return false, err
	}

	if err := l.store.Put(ctx, Collection, key, encodeRecord(rec)); err != nil {
		return false, err
	}
	return true, nil
}

func sortRecords(records []*ride.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].EndedAt.After(records[j].EndedAt)
	})
}

// Document codec. Records travel as nested JSON so the store schema
// stays a flat keyed document.

func encodeRecord(rec *ride.Record) map[string]interface{} {
	return map[string]interface{}{
		"driver_id":           rec.DriverID,
		"started_at":          rec.StartedAt.UnixNano(),
		"ended_at":            rec.EndedAt.UnixNano(),
		"travel_time_minutes": rec.TravelTimeMinutes,
		"wait_time_minutes":   rec.WaitTimeMinutes,
		"pickup_lat":          rec.Pickup.Latitude,
		"pickup_lng":          rec.Pickup.Longitude,
		"dropoff_lat":         rec.Dropoff.Latitude,
		"dropoff_lng":         rec.Dropoff.Longitude,
		"destination":         rec.Destination,
		"fare":                rec.Fare,
		"rank_at_departure":   rec.RankAtDeparture,
	}
}

func decodeRecord(doc docstore.Document) (*ride.Record, error) {
	id, err := uuid.Parse(doc.Key)
	if err != nil {
		return nil, fmt.Errorf("record key is not a ride id: %w", err)
	}
	return &ride.Record{
		ID:                id,
		DriverID:          asString(doc.Fields["driver_id"]),
		StartedAt:         time.Unix(0, asInt64(doc.Fields["started_at"])).UTC(),
		EndedAt:           time.Unix(0, asInt64(doc.Fields["ended_at"])).UTC(),
		TravelTimeMinutes: int(asInt64(doc.Fields["travel_time_minutes"])),
		WaitTimeMinutes:   int(asInt64(doc.Fields["wait_time_minutes"])),
		Pickup:            geo.Point{Latitude: asFloat64(doc.Fields["pickup_lat"]), Longitude: asFloat64(doc.Fields["pickup_lng"])},
		Dropoff:           geo.Point{Latitude: asFloat64(doc.Fields["dropoff_lat"]), Longitude: asFloat64(doc.Fields["dropoff_lng"])},
		Destination:       asString(doc.Fields["destination"]),
		Fare:              asFloat64(doc.Fields["fare"]),
		RankAtDeparture:   int(asInt64(doc.Fields["rank_at_departure"])),
	}, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

func asFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
