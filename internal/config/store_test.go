package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRejectsInvalidInitial(t *testing.T) {
	t.Parallel()
	bad := DefaultCalibration()
	bad.PixelsPerMeter = 0
	_, err := NewStore(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStoreApplyKeepsLastValid(t *testing.T) {
	t.Parallel()

	s, err := NewStore(nil)
	require.NoError(t, err)

	next, err := s.Apply(&TuningConfig{SpeedLimitKmh: ptrFloat64(60)})
	require.NoError(t, err)
	assert.Equal(t, 60.0, next.SpeedLimitKmh)
	assert.Same(t, next, s.Load())

	_, err = s.Apply(&TuningConfig{PixelsPerMeter: ptrFloat64(-1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 60.0, s.Load().SpeedLimitKmh)
	assert.Equal(t, 8.8, s.Load().PixelsPerMeter)

	_, err = s.Apply(&TuningConfig{FrameRateHz: ptrFloat64(0)})
	require.Error(t, err)
	assert.Equal(t, 30.0, s.Load().FrameRateHz)
}

func TestStoreSnapshotsAreIndependent(t *testing.T) {
	t.Parallel()

	s, err := NewStore(nil)
	require.NoError(t, err)

	before := s.Load()
	_, err = s.Apply(&TuningConfig{SpeedLimitKmh: ptrFloat64(30)})
	require.NoError(t, err)

	// A reader holding the old snapshot keeps seeing the old values.
	assert.Equal(t, 80.0, before.SpeedLimitKmh)
	assert.Equal(t, 30.0, s.Load().SpeedLimitKmh)
}

func TestStoreReplaceNotifiesListeners(t *testing.T) {
	t.Parallel()

	s, err := NewStore(nil)
	require.NoError(t, err)

	var got []float64
	remove := s.OnChange(func(c *CalibrationConfig) { got = append(got, c.SpeedLimitKmh) })

	next := DefaultCalibration()
	next.SpeedLimitKmh = 45
	require.NoError(t, s.Replace(next))

	next.SpeedLimitKmh = 99 // caller mutation after publish has no effect
	assert.Equal(t, 45.0, s.Load().SpeedLimitKmh)

	bad := DefaultCalibration()
	bad.FrameRateHz = -1
	require.Error(t, s.Replace(bad))

	assert.Equal(t, []float64{45}, got)

	remove()
	next.SpeedLimitKmh = 50
	require.NoError(t, s.Replace(next))
	assert.Equal(t, []float64{45}, got, "removed listener is not called")
}

func TestStoreConcurrentReaders(t *testing.T) {
	t.Parallel()

	s, err := NewStore(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c := s.Load()
				// pixels_per_meter and speed_limit are always written together
				if c.PixelsPerMeter == 20 {
					assert.Equal(t, 100.0, c.SpeedLimitKmh)
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		_, err := s.Apply(&TuningConfig{PixelsPerMeter: ptrFloat64(20), SpeedLimitKmh: ptrFloat64(100)})
		require.NoError(t, err)
		_, err = s.Apply(&TuningConfig{PixelsPerMeter: ptrFloat64(10), SpeedLimitKmh: ptrFloat64(50)})
		require.NoError(t, err)
	}
	wg.Wait()
}
