package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	twins "twin-rules/internal/twins/domain"
)

const (
	ahuModel    = "dtmi:com:willowinc:AirHandlingUnit;1"
	sensorModel = "dtmi:com:willowinc:Sensor;1"
	tempModel   = "dtmi:com:willowinc:AirTemperatureSensor;1"
)

func seed(t *testing.T) *Directory {
	t.Helper()
	d := NewDirectory()
	d.Extend(tempModel, sensorModel)
	for _, twin := range []twins.Twin{
		{ID: "ahu-1", ModelID: ahuModel, TimeZone: "Australia/Sydney"},
		{ID: "temp-1", ModelID: tempModel, TrendID: "trend-1"},
		{ID: "temp-far", ModelID: tempModel, TrendID: "trend-2"},
		{ID: "vav-1", ModelID: "dtmi:com:willowinc:VAV;1"},
	} {
		require.NoError(t, d.Upsert(twin))
	}
	d.Relate("ahu-1", "temp-1")
	d.Relate("ahu-1", "vav-1")
	d.Relate("vav-1", "temp-far")
	return d
}

func TestFindRelatedNearestFirst(t *testing.T) {
	d := seed(t)
	ctx := context.Background()

	related, err := d.FindRelated(ctx, "ahu-1", sensorModel, 2)
	require.NoError(t, err)
	require.Len(t, related, 2)
	assert.Equal(t, "temp-1", related[0].ID)
	assert.Equal(t, "temp-far", related[1].ID)

	near, err := d.FindRelated(ctx, "ahu-1", tempModel, 1)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "temp-1", near[0].ID)
}

func TestResolveCandidateFollowsModelInheritance(t *testing.T) {
	d := seed(t)
	ctx := context.Background()

	twin, err := d.ResolveCandidate(ctx, sensorModel, "temp-1")
	require.NoError(t, err)
	assert.Equal(t, "trend-1", twin.TrendID)

	_, err = d.ResolveCandidate(ctx, ahuModel, "temp-1")
	assert.ErrorIs(t, err, twins.ErrNotFound)
}

func TestVersionChangesOnMutation(t *testing.T) {
	d := seed(t)
	ctx := context.Background()
	before, err := d.Version(ctx)
	require.NoError(t, err)

	d.Remove("temp-far")
	after, err := d.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before)

	list, err := d.ListByModel(ctx, sensorModel)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
