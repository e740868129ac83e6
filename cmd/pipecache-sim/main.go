// pipecache-sim drives a synthetic pipeline workload against the cache and
// prints the resulting hit-rate report. Useful for eyeballing eviction
// behavior under different line counts and memory budgets.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/rastermill/pipecache"
)

func main() {
	lines := flag.Int("lines", 16, "Number of cache lines")
	limitMB := flag.Int64("limit-mb", 256, "Memory budget in MB (0 = unlimited)")
	passes := flag.Int("passes", 50, "Number of full pipeline evaluation passes")
	stages := flag.Int("stages", 12, "Number of pipeline stages")
	seed := flag.Int64("seed", 1, "Workload RNG seed")
	flag.Parse()

	if *lines < 2 || *stages < 1 || *passes < 1 {
		fmt.Fprintln(os.Stderr, "Error: --lines must be >= 2, --stages and --passes >= 1")
		flag.Usage()
		os.Exit(1)
	}

	cache, err := pipecache.New(*lines, pipecache.WithMemoryLimit(*limitMB<<20))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cache init failed: %v\n", err)
		os.Exit(1)
	}
	defer cache.Cleanup()

	rng := rand.New(rand.NewSource(*seed))
	chain := make([]*pipecache.Stage, *stages)
	for i := range chain {
		chain[i] = &pipecache.Stage{
			Name:       fmt.Sprintf("stage-%02d", i),
			Enabled:    true,
			ParamsHash: pipecache.HashParams(randParams(rng)),
		}
	}
	pipe := pipecache.NewPipeline(pipecache.RunFull, cache, chain...)

	const imageID = 1
	roi := pipecache.ROI{Width: 1920, Height: 1080, Scale: 1.0}

	for pass := 0; pass < *passes; pass++ {
		// An edit pass touches one stage's parameters; a zoom pass moves
		// the ROI. Both invalidate downstream lines through the hash chain.
		switch rng.Intn(4) {
		case 0:
			chain[rng.Intn(len(chain))].ParamsHash = pipecache.HashParams(randParams(rng))
		case 1:
			roi.X = int32(rng.Intn(512))
			roi.Y = int32(rng.Intn(512))
		}

		for i := range chain {
			size := int64(roi.Width) * int64(roi.Height) * 4 * 4
			dsc := pipecache.BufferDesc{
				Width: roi.Width, Height: roi.Height,
				Channels: 4, Format: pipecache.FormatFloat32,
			}
			basic, full := pipe.FullHash(imageID, roi, i+1)
			needsFill, buf, _ := pipe.Get(basic, full, size, dsc, chain[i].Name, i == len(chain)-1)
			if needsFill && buf != nil {
				// Stand-in for the stage kernel: touch the buffer.
				buf.Bytes()[0] = byte(pass)
				if rng.Intn(8) == 0 {
					pipe.Reweight(buf, size)
				}
			}
		}
		pipe.CheckMem()
	}

	fmt.Println(pipe.Report())
}

func randParams(rng *rand.Rand) []byte {
	var b [64]byte
	binary.LittleEndian.PutUint64(b[:], rng.Uint64())
	binary.LittleEndian.PutUint64(b[8:], rng.Uint64())
	return b[:]
}
