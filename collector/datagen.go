package collector

import (
	"fmt"
	"io"
	"math/rand"
	"time"
)

const totalRAMGB = 16.0

// WriteSyntheticCSV writes a replay-schema table: mostly quiet baseline rows
// with a sprinkle of random spikes, plus a few planted obvious anomalies so
// a fresh model has something unambiguous to find. Deterministic for a seed.
func WriteSyntheticCSV(w io.Writer, rows int, seed int64) error {
	if rows <= 0 {
		return fmt.Errorf("datagen: row count must be positive, got %d", rows)
	}
	rng := rand.New(rand.NewSource(seed))
	start := time.Now().Add(-time.Duration(rows) * time.Second)

	if _, err := fmt.Fprintln(w, "timestamp,cpu_percent,cpu_frequency,memory_percent,memory_available_gb,disk_read_mb,disk_write_mb,network_sent_mb,network_recv_mb"); err != nil {
		return err
	}

	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	for i := 0; i < rows; i++ {
		var cpu, mem, diskR, diskW, netS, netR float64
		switch {
		case rows > 100 && (i == rows/4 || i == rows/2 || i == 3*rows/4):
			// planted blatant anomalies: simultaneous bursts well beyond
			// anything the random spikes produce
			cpu = uniform(97, 100)
			mem = uniform(93, 99)
			diskR = uniform(400, 600)
			diskW = uniform(200, 400)
			netS = uniform(600, 1000)
			netR = uniform(100, 200)
		case rng.Float64() < 0.05:
			cpu = uniform(70, 95)
			mem = uniform(70, 90)
			diskR = uniform(50, 200)
			diskW = uniform(20, 100)
			netS = uniform(50, 300)
			netR = uniform(10, 50)
		default:
			cpu = uniform(5, 30)
			mem = uniform(20, 50)
			diskR = uniform(0, 5)
			diskW = uniform(0, 3)
			netS = uniform(0, 2)
			netR = uniform(0, 2)
		}

		ts := start.Add(time.Duration(i) * time.Second)
		availGB := totalRAMGB - (mem/100)*totalRAMGB
		_, err := fmt.Fprintf(w, "%s,%.2f,%.1f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f\n",
			ts.Format(time.RFC3339), cpu, 2400.0, mem, availGB, diskR, diskW, netS, netR)
		if err != nil {
			return err
		}
	}
	return nil
}
