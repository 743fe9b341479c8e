package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/observatory/internal/astro"
)

func testField(t *testing.T) *Field {
	t.Helper()
	f, err := NewField("wasp 33-b", astro.Equatorial{RA: 36.7, Dec: 37.55}, 100)
	require.NoError(t, err)
	return f
}

func TestNewField_Validation(t *testing.T) {
	_, err := NewField("", astro.Equatorial{}, 100)
	assert.ErrorIs(t, err, ErrInvalidObservation)

	_, err = NewField("M31", astro.Equatorial{}, 0)
	assert.ErrorIs(t, err, ErrInvalidObservation)

	f, err := NewField("M31", astro.Equatorial{RA: 10.68, Dec: 41.27}, 5)
	require.NoError(t, err)
	assert.Equal(t, "M31", f.Name())
	assert.Equal(t, 5.0, f.Priority())
}

func TestField_FieldName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"wasp 33-b", "Wasp33B"},
		{"M31", "M31"},
		{"ngc 1234", "Ngc1234"},
		{"HAT-P-7", "HatP7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fieldName(tt.name))
		})
	}
}

func TestNewObservation_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    ObservationParams
	}{
		{"zero exposure time", ObservationParams{ExposureTime: 0, MinExposures: 10, SetSize: 10, Priority: 1}},
		{"zero set size", ObservationParams{ExposureTime: time.Second, MinExposures: 10, SetSize: 0, Priority: 1}},
		{"negative min", ObservationParams{ExposureTime: time.Second, MinExposures: -10, SetSize: 10, Priority: 1}},
		{"min not multiple", ObservationParams{ExposureTime: time.Second, MinExposures: 15, SetSize: 10, Priority: 1}},
		{"max not multiple", ObservationParams{ExposureTime: time.Second, MinExposures: 10, MaxExposures: 25, SetSize: 10, Priority: 1}},
		{"zero priority", ObservationParams{ExposureTime: time.Second, MinExposures: 10, SetSize: 10, Priority: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewObservation(testField(t), tt.p)
			assert.True(t, errors.Is(err, ErrInvalidObservation), "got %v", err)
		})
	}
}

func TestNewObservation_MaxBelowMinLowersMin(t *testing.T) {
	obs, err := NewObservation(testField(t), ObservationParams{
		ExposureTime: 120 * time.Second,
		MinExposures: 60,
		MaxExposures: 30,
		SetSize:      10,
		Priority:     100,
	})
	require.NoError(t, err)
	assert.Equal(t, 30, obs.MinExposures())
	assert.Equal(t, 30, obs.MaxExposures())
}

func TestObservation_Durations(t *testing.T) {
	obs, err := NewObservation(testField(t), ObservationParams{
		ExposureTime: 120 * time.Second,
		MinExposures: 60,
		SetSize:      10,
		Priority:     100,
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, obs.MinimumDuration())
	assert.Equal(t, 20*time.Minute, obs.SetDuration())
}

func TestObservation_SetIsFinishedAndComplete(t *testing.T) {
	obs, err := NewObservation(testField(t), ObservationParams{
		ExposureTime: time.Second,
		MinExposures: 20,
		MaxExposures: 30,
		SetSize:      10,
		Priority:     1,
	})
	require.NoError(t, err)

	for i := 0; i < 19; i++ {
		obs.AddExposure("img.fits")
	}
	assert.False(t, obs.SetIsFinished())
	obs.AddExposure("img.fits")
	assert.True(t, obs.SetIsFinished())
	obs.AddExposure("img.fits")
	assert.False(t, obs.SetIsFinished(), "mid-set")
	assert.False(t, obs.IsComplete())

	for obs.ExposureCount() < 30 {
		obs.AddExposure("img.fits")
	}
	assert.True(t, obs.IsComplete())
	assert.Len(t, obs.Exposures(), 30)
}

func TestObservation_Reset(t *testing.T) {
	obs, err := NewObservation(testField(t), ObservationParams{
		ExposureTime: time.Second,
		MinExposures: 10,
		SetSize:      10,
		Priority:     1,
	})
	require.NoError(t, err)

	obs.startSequence(testTime, "seq_20260115T100000_0123abcd")
	obs.setMerit(101.5)
	obs.AddExposure("a.fits")
	obs.AddExposure("b.fits")

	obs.Reset()

	assert.Equal(t, 0, obs.ExposureCount())
	assert.Equal(t, 0.0, obs.Merit())
	_, started := obs.SequenceStart()
	assert.False(t, started)
	assert.Empty(t, obs.SequenceID())
	assert.Empty(t, obs.Exposures())
}

func TestObservation_Status(t *testing.T) {
	obs, err := NewObservation(testField(t), ObservationParams{
		ExposureTime: 90 * time.Second,
		MinExposures: 10,
		SetSize:      5,
		Priority:     7,
	})
	require.NoError(t, err)
	obs.startSequence(testTime, "seq_20260115T100000_0123abcd")
	obs.AddExposure("a.fits")

	st := obs.Status()
	assert.Equal(t, "wasp 33-b", st.Name)
	assert.Equal(t, "Wasp33B", st.FieldName)
	assert.Equal(t, 90.0, st.ExposureTime)
	assert.Equal(t, 1, st.ExposureCount)
	require.NotNil(t, st.SequenceStart)
	assert.True(t, st.SequenceStart.Equal(testTime))
}

func TestObservation_ExposureInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	field, err := NewField("prop", astro.Equatorial{RA: 10, Dec: 10}, 1)
	require.NoError(t, err)

	properties.Property("valid parameters normalize to consistent counts", prop.ForAll(
		func(setSize, minSets, maxSets int) bool {
			obs, err := NewObservation(field, ObservationParams{
				ExposureTime: time.Second,
				MinExposures: minSets * setSize,
				MaxExposures: maxSets * setSize,
				SetSize:      setSize,
				Priority:     1,
			})
			if err != nil {
				return false
			}
			if obs.MinExposures()%obs.SetSize() != 0 {
				return false
			}
			if obs.MaxExposures()%obs.SetSize() != 0 {
				return false
			}
			return obs.MaxExposures() == 0 || obs.MaxExposures() >= obs.MinExposures()
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
	))

	properties.Property("min off a set boundary is rejected", prop.ForAll(
		func(setSize, minSets, extra int) bool {
			_, err := NewObservation(field, ObservationParams{
				ExposureTime: time.Second,
				MinExposures: minSets*setSize + extra%setSize,
				SetSize:      setSize,
				Priority:     1,
			})
			if extra%setSize == 0 {
				return err == nil
			}
			return errors.Is(err, ErrInvalidObservation)
		},
		gen.IntRange(2, 20),
		gen.IntRange(0, 20),
		gen.IntRange(1, 19),
	))

	properties.TestingRun(t)
}
