package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TrafficCounter stores the last raw counter reading seen for a
// client. Raw readings are cumulative since interface start; the
// baseline turns them into attributable deltas.
type TrafficCounter struct {
	ClientID          uint  `gorm:"primaryKey"`
	LastBytesReceived int64 `gorm:"not null;default:0"`
	LastBytesSent     int64 `gorm:"not null;default:0"`
	UpdatedAt         time.Time
}

// RecordCounterSample folds one raw reading into the stored baseline
// and returns the delta to attribute to the client.
//
// The first reading for a client only seeds the baseline and yields
// (0, 0); traffic from before tracking began is unattributable. A
// reading below the baseline means the interface restarted, so the
// raw value itself is the delta. Both directions are handled
// independently. Re-submitting an identical reading yields (0, 0).
func (r *Registry) RecordCounterSample(ctx context.Context, clientID uint, bytesReceived, bytesSent int64) (deltaRx, deltaTx int64, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter TrafficCounter
		findErr := tx.Where("client_id = ?", clientID).First(&counter).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return tx.Create(&TrafficCounter{
				ClientID:          clientID,
				LastBytesReceived: bytesReceived,
				LastBytesSent:     bytesSent,
			}).Error
		}
		if findErr != nil {
			return findErr
		}

		deltaRx = counterDelta(counter.LastBytesReceived, bytesReceived)
		deltaTx = counterDelta(counter.LastBytesSent, bytesSent)
		counter.LastBytesReceived = bytesReceived
		counter.LastBytesSent = bytesSent
		return tx.Save(&counter).Error
	})
	if err != nil {
		return 0, 0, fmt.Errorf("record counter sample: %w", err)
	}
	return deltaRx, deltaTx, nil
}

func counterDelta(baseline, current int64) int64 {
	if current >= baseline {
		return current - baseline
	}
	// counter reset: everything seen since restart counts
	return current
}
