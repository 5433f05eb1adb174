package main

import (
	"context"
	"math/rand"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/hagall-spatial/spatial"
	"github.com/chewxy/math32"
	"github.com/segmentio/encoding/json"
)

var _ = reflect.TypeOf(config{})

type config struct {
	Objects        int     `cli:"" env:"SPATIAL_BENCH_OBJECTS"         help:"Number of moving objects."`
	Frames         int     `cli:"" env:"SPATIAL_BENCH_FRAMES"          help:"Number of simulated frames."`
	Queries        int     `cli:"" env:"SPATIAL_BENCH_QUERIES"         help:"Number of range queries per frame."`
	UniverseExtent float64 `cli:"" env:"SPATIAL_BENCH_UNIVERSE_EXTENT" help:"Half extent of the octree root cube."`
	Threshold      float64 `cli:"" env:"SPATIAL_BENCH_THRESHOLD"       help:"Half extent under which cells are not split."`
	ObjectExtent   float64 `cli:"" env:"SPATIAL_BENCH_OBJECT_EXTENT"   help:"Half extent of each object."`
	QueryExtent    float64 `cli:"" env:"SPATIAL_BENCH_QUERY_EXTENT"    help:"Half extent of each query box."`
	MaxSpeed       float64 `cli:"" env:"SPATIAL_BENCH_MAX_SPEED"       help:"Maximum distance an object travels per frame."`
	Seed           int64   `cli:"" env:"SPATIAL_BENCH_SEED"            help:"Random seed."`
	Check          bool    `cli:"" env:"SPATIAL_BENCH_CHECK"           help:"Compare every query with a linear scan and verify the tree each frame."`
	LogLevel       string  `cli:"" env:"SPATIAL_BENCH_LOG_LEVEL"       help:"Log level (debug|info|warning|error)."`
	Help           bool    `cli:"" env:"-"                             help:"Show help."`
}

type body struct {
	position spatial.Vec3
	velocity spatial.Vec3
	extent   float32
}

func (b *body) Bounds() spatial.Box[spatial.Vec3] {
	return spatial.BoxAround(b.position, b.extent)
}

// move advances the body by one frame and bounces it off the universe walls.
func (b *body) move(universe spatial.Box[spatial.Vec3]) {
	next := b.position.Add(b.velocity)
	for axis := 0; axis < next.Dims(); axis++ {
		lo := universe.Min.At(axis) + b.extent
		hi := universe.Max.At(axis) - b.extent
		v := next.At(axis)

		switch {
		case v < lo:
			next = next.With(axis, lo+(lo-v))
			b.velocity = b.velocity.With(axis, -b.velocity.At(axis))
		case v > hi:
			next = next.With(axis, hi-(v-hi))
			b.velocity = b.velocity.With(axis, -b.velocity.At(axis))
		}
		next = next.With(axis, math32.Max(lo, math32.Min(hi, next.At(axis))))
	}
	b.position = next
}

type frameStats struct {
	Frame       int           `json:"frame"`
	Relocations int           `json:"relocations"`
	Hits        int           `json:"hits"`
	UpdateTime  time.Duration `json:"update_time"`
	QueryTime   time.Duration `json:"query_time"`
}

type report struct {
	Frames          int           `json:"frames"`
	Objects         int           `json:"objects"`
	Updates         int           `json:"updates"`
	Relocations     int           `json:"relocations"`
	Queries         int           `json:"queries"`
	Hits            int           `json:"hits"`
	AvgUpdate       time.Duration `json:"avg_update"`
	AvgQuery        time.Duration `json:"avg_query"`
	Tree            spatial.Stats `json:"tree"`
	InsertDuration  time.Duration `json:"insert_duration"`
	ElapsedDuration time.Duration `json:"elapsed_duration"`
}

func main() {
	conf := config{
		Objects:        10000,
		Frames:         600,
		Queries:        100,
		UniverseExtent: 512,
		Threshold:      1,
		ObjectExtent:   0.5,
		QueryExtent:    16,
		MaxSpeed:       2,
		Seed:           42,
		LogLevel:       logs.InfoLevel.String(),
	}

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Moves objects through an octree every frame and reports the update and query cost.").
		Options(&conf)
	cli.Load()

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	errors.Encoder = json.Marshal

	r, err := run(ctx, conf)
	if err != nil {
		logs.Fatal(err)
	}

	logs.WithTag("report", r).Info("benchmark done")
}

func run(ctx context.Context, conf config) (report, error) {
	if conf.Objects <= 0 || conf.Frames <= 0 {
		return report{}, errors.New("objects and frames must be positive").
			WithTag("objects", conf.Objects).
			WithTag("frames", conf.Frames)
	}

	start := time.Now()
	universe := spatial.BoxAround(spatial.Vec3{}, float32(conf.UniverseExtent))

	tree, err := spatial.NewOctree[*body](universe, float32(conf.Threshold))
	if err != nil {
		return report{}, err
	}

	rnd := rand.New(rand.NewSource(conf.Seed))
	bodies := make([]*body, conf.Objects)
	for i := range bodies {
		bodies[i] = newBody(rnd, universe, float32(conf.ObjectExtent), float32(conf.MaxSpeed))
	}

	handles, err := tree.InsertAll(bodies...)
	if err != nil {
		return report{}, errors.New("inserting bodies failed").Wrap(err)
	}

	r := report{
		Objects:        conf.Objects,
		InsertDuration: time.Since(start),
	}

	for frame := 0; frame < conf.Frames; frame++ {
		if ctx.Err() != nil {
			break
		}

		stats, err := simulateFrame(tree, bodies, handles, universe, rnd, conf)
		if err != nil {
			return report{}, errors.New("simulating frame failed").
				WithTag("frame", frame).
				Wrap(err)
		}
		stats.Frame = frame

		logs.WithTag("frame", stats).Debug("frame simulated")

		r.Frames++
		r.Updates += len(bodies)
		r.Relocations += stats.Relocations
		r.Queries += conf.Queries
		r.Hits += stats.Hits
		r.AvgUpdate += stats.UpdateTime
		r.AvgQuery += stats.QueryTime
	}

	if r.Updates != 0 {
		r.AvgUpdate /= time.Duration(r.Updates)
	}
	if r.Queries != 0 {
		r.AvgQuery /= time.Duration(r.Queries)
	}

	if err := tree.Verify(); err != nil {
		return report{}, err
	}

	r.Tree = tree.Stats()
	r.ElapsedDuration = time.Since(start)
	return r, nil
}

func simulateFrame(
	tree *spatial.Tree[spatial.Vec3, *body],
	bodies []*body,
	handles []spatial.Handle,
	universe spatial.Box[spatial.Vec3],
	rnd *rand.Rand,
	conf config,
) (frameStats, error) {
	var stats frameStats

	updateStart := time.Now()
	for i, b := range bodies {
		b.move(universe)

		relocated, err := tree.Update(handles[i])
		if err != nil {
			return stats, err
		}
		if relocated {
			stats.Relocations++
		}
	}
	stats.UpdateTime = time.Since(updateStart)

	for q := 0; q < conf.Queries; q++ {
		volume := spatial.BoxAround(randomPoint(rnd, universe), float32(conf.QueryExtent))

		queryStart := time.Now()
		hits := 0
		tree.Query(volume, func(*body) bool {
			hits++
			return true
		})
		stats.QueryTime += time.Since(queryStart)
		stats.Hits += hits

		if conf.Check {
			if expected := linearScan(bodies, volume); expected != hits {
				return stats, errors.New("query result differs from linear scan").
					WithTag("volume", volume).
					WithTag("hits", hits).
					WithTag("expected", expected)
			}
		}
	}

	if conf.Check {
		if err := tree.Verify(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func linearScan(bodies []*body, volume spatial.Box[spatial.Vec3]) int {
	n := 0
	for _, b := range bodies {
		if volume.Intersects(b.Bounds()) {
			n++
		}
	}
	return n
}

func newBody(rnd *rand.Rand, universe spatial.Box[spatial.Vec3], extent, maxSpeed float32) *body {
	direction := spatial.Vec3{
		X: rnd.Float32()*2 - 1,
		Y: rnd.Float32()*2 - 1,
		Z: rnd.Float32()*2 - 1,
	}.Normalized()

	return &body{
		position: randomPoint(rnd, universe.Expand(-extent)),
		velocity: direction.Scale(rnd.Float32() * maxSpeed),
		extent:   extent,
	}
}

func randomPoint(rnd *rand.Rand, b spatial.Box[spatial.Vec3]) spatial.Vec3 {
	var p spatial.Vec3
	for axis := 0; axis < p.Dims(); axis++ {
		lo, hi := b.Min.At(axis), b.Max.At(axis)
		p = p.With(axis, lo+rnd.Float32()*(hi-lo))
	}
	return p
}
