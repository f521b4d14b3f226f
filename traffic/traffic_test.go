package traffic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndTotals(t *testing.T) {
	db, err := New("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	now := time.Date(2026, time.August, 3, 10, 15, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		err := db.Insert(ctx, 1, int64(i), int64(i)*2, now)
		require.NoError(t, err)
	}
	require.NoError(t, db.Insert(ctx, 2, 10, 20, now))

	rx, tx, err := db.Total(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4950), rx)
	assert.Equal(t, int64(4950*2), tx)

	totals, err := db.TotalsByClient(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, ClientTotal{ClientID: 1, BytesReceived: 4950, BytesSent: 9900}, totals[0])
	assert.Equal(t, ClientTotal{ClientID: 2, BytesReceived: 10, BytesSent: 20}, totals[1])
}

func TestInsertDropsZeroDeltas(t *testing.T) {
	db, err := New("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.Insert(ctx, 1, 0, 0, time.Now()))

	totals, err := db.TotalsByClient(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestTotalEmpty(t *testing.T) {
	db, err := New("")
	require.NoError(t, err)
	defer db.Close()

	rx, tx, err := db.Total(context.Background(), 42)
	require.NoError(t, err)
	assert.Zero(t, rx)
	assert.Zero(t, tx)
}

func TestPurgeClient(t *testing.T) {
	db, err := New("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, db.Insert(ctx, 1, 100, 200, now))
	require.NoError(t, db.Insert(ctx, 2, 300, 400, now))

	require.NoError(t, db.PurgeClient(ctx, 1))

	totals, err := db.TotalsByClient(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, uint(2), totals[0].ClientID)
}

func TestSeries(t *testing.T) {
	db, err := New("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	day1 := time.Date(2026, time.August, 3, 10, 5, 0, 0, time.UTC)
	require.NoError(t, db.Insert(ctx, 1, 100, 10, day1))
	require.NoError(t, db.Insert(ctx, 1, 50, 5, day1.Add(20*time.Minute)))
	require.NoError(t, db.Insert(ctx, 1, 200, 20, day1.Add(time.Hour)))
	require.NoError(t, db.Insert(ctx, 2, 999, 999, day1)) // other client
	day2 := day1.Add(24 * time.Hour)
	require.NoError(t, db.Insert(ctx, 1, 300, 30, day2))

	since := day1.Add(-time.Hour)

	hourly, err := db.Series(ctx, 1, since, BucketHour)
	require.NoError(t, err)
	require.Len(t, hourly, 3)
	assert.Equal(t, int64(150), hourly[0].BytesReceived)
	assert.Equal(t, int64(15), hourly[0].BytesSent)
	assert.Equal(t, int64(200), hourly[1].BytesReceived)
	assert.Equal(t, int64(300), hourly[2].BytesReceived)
	assert.True(t, hourly[0].Start.Before(hourly[1].Start))

	daily, err := db.Series(ctx, 1, since, BucketDay)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, int64(350), daily[0].BytesReceived)
	assert.Equal(t, int64(300), daily[1].BytesReceived)

	// clientID zero folds all clients together
	all, err := db.Series(ctx, 0, since, BucketDay)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(350+999), all[0].BytesReceived)

	// window filter applies
	late, err := db.Series(ctx, 1, day2.Add(-time.Minute), BucketHour)
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, int64(300), late[0].BytesReceived)

	_, err = db.Series(ctx, 1, since, Bucket("fortnight"))
	assert.Error(t, err)
}

func TestHourlyProfile(t *testing.T) {
	db, err := New("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	base := time.Date(2026, time.August, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Insert(ctx, 1, 10, 1, base.Add(10*time.Hour)))
	require.NoError(t, db.Insert(ctx, 1, 20, 2, base.Add(10*time.Hour+30*time.Minute)))
	require.NoError(t, db.Insert(ctx, 1, 40, 4, base.Add(22*time.Hour)))
	require.NoError(t, db.Insert(ctx, 2, 5, 5, base.Add(3*time.Hour)))

	profile, err := db.HourlyProfile(ctx, 1)
	require.NoError(t, err)
	require.Len(t, profile, 2)
	assert.Equal(t, HourTotal{Hour: 10, TotalBytes: 33}, profile[0])
	assert.Equal(t, HourTotal{Hour: 22, TotalBytes: 44}, profile[1])

	all, err := db.HourlyProfile(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWeekdayProfile(t *testing.T) {
	db, err := New("")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mon := time.Date(2026, time.August, 3, 12, 0, 0, 0, time.UTC)
	wed := mon.Add(48 * time.Hour)
	require.NoError(t, db.Insert(ctx, 1, 10, 5, mon))
	require.NoError(t, db.Insert(ctx, 1, 20, 10, wed))

	profile, err := db.WeekdayProfile(ctx, 1)
	require.NoError(t, err)
	require.Len(t, profile, 2)
	assert.Equal(t, WeekdayTotal{Weekday: int(mon.Weekday()), TotalBytes: 15}, profile[0])
	assert.Equal(t, WeekdayTotal{Weekday: int(wed.Weekday()), TotalBytes: 30}, profile[1])
}
