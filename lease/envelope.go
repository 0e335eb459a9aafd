package lease

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the persisted form of a record in the NATS and S3 backends.
//
// Lease validity is decided by comparing ExpiresAt with the writer's clock, and
// every mutation is a conditional write against the revision the decision was
// based on, so two writers can never both turn the same revision into a lease.
type envelope struct {
	Holder     string    `json:"holder,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt,omitzero"`
	RenewedAt  time.Time `json:"renewedAt,omitzero"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
	Generation uint64    `json:"generation,omitempty"`
	Data       []byte    `json:"data,omitempty"`
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if len(raw) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("lease: decode record: %w", err)
	}

	return env, nil
}

func (e *envelope) encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("lease: encode record: %w", err)
	}

	return raw, nil
}

// acquire grants the lease to holder when it is free, expired or already held
// by holder. A change of holder starts a new generation.
func (e *envelope) acquire(holder string, now time.Time, ttl time.Duration) bool {
	if e.Holder != "" && e.Holder != holder && now.Before(e.ExpiresAt) {
		return false
	}
	if e.Holder != holder {
		e.Holder = holder
		e.AcquiredAt = now
		e.Generation++
	}
	e.RenewedAt = now
	e.ExpiresAt = now.Add(ttl)

	return true
}

// renew extends the lease if holder is still the recorded holder.
func (e *envelope) renew(holder string, now time.Time, ttl time.Duration) bool {
	if e.Holder != holder {
		return false
	}
	e.RenewedAt = now
	e.ExpiresAt = now.Add(ttl)

	return true
}

// heldBy reports whether holder has a valid lease at now.
func (e *envelope) heldBy(holder string, now time.Time) bool {
	return e.Holder == holder && now.Before(e.ExpiresAt)
}

func (e *envelope) record(key string, modified time.Time, version string) Record {
	return Record{
		Key:          key,
		Value:        e.Data,
		Holder:       e.Holder,
		ExpiresAt:    e.ExpiresAt,
		LastModified: modified,
		Version:      version,
	}
}
