package main

import (
	"context"
	"testing"

	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	r, err := run(context.Background(), config{
		Objects:        200,
		Frames:         30,
		Queries:        10,
		UniverseExtent: 32,
		Threshold:      1,
		ObjectExtent:   0.25,
		QueryExtent:    4,
		MaxSpeed:       1.5,
		Seed:           7,
		Check:          true,
	})
	require.NoError(t, err)
	require.Equal(t, 30, r.Frames)
	require.Equal(t, 200*30, r.Updates)
	require.Equal(t, 200, r.Tree.Objects)
}

func TestRunInvalidConfig(t *testing.T) {
	_, err := run(context.Background(), config{})
	require.Error(t, err)

	_, err = run(context.Background(), config{Objects: 1, Frames: 1, UniverseExtent: 8})
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := run(ctx, config{
		Objects:        10,
		Frames:         100,
		UniverseExtent: 8,
		Threshold:      1,
		ObjectExtent:   0.1,
	})
	require.NoError(t, err)
	require.Zero(t, r.Frames)
}

func TestBodyMoveStaysInUniverse(t *testing.T) {
	universe := spatial.BoxAround(spatial.Vec3{}, 4)
	b := &body{
		position: spatial.Vec3{X: 3.5},
		velocity: spatial.Vec3{X: 1, Y: -9},
		extent:   0.25,
	}

	for i := 0; i < 50; i++ {
		b.move(universe)
		require.True(t, universe.Contains(b.Bounds()), "frame %d: %+v", i, b.position)
	}
}
