// Project: Particle Filter Likelihood Estimation for Stochastic SIR Models
// Class: 02-613 at Carnegie Mellon University

package filter

import (
	"math/rand/v2"
	"runtime"
	"sync"

	"SIR_Particle_Filter_Project/internal/model"
)

// DefaultChunkSize is the number of particles that share one random stream.
const DefaultChunkSize = 1024

// Ensemble owns the particle states of a single filter run.
//
// Particles are split into fixed-size chunks and every chunk draws from its
// own PCG stream, seeded from (seed, chunk index + 1). A chunk always covers
// the same particle indices and walks them in ascending order, so the states
// after Advance depend only on the seed and the chunk size, never on how many
// workers advanced the chunks or in which order they were scheduled.
// Chunk streams never overlap the ids reserved in model.
type Ensemble struct {
	states  []model.State
	scratch []model.State

	chunkSize int
	streams   []*rand.PCG
	workers   int
}

// NewEnsemble creates n particles, all set to u0.
// chunkSize <= 0 selects DefaultChunkSize, workers <= 0 selects runtime.NumCPU().
func NewEnsemble(n int, u0 model.State, seed int64, chunkSize, workers int) *Ensemble {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	numChunks := (n + chunkSize - 1) / chunkSize
	if workers > numChunks {
		workers = numChunks
	}

	e := &Ensemble{
		states:    make([]model.State, n),
		scratch:   make([]model.State, n),
		chunkSize: chunkSize,
		streams:   make([]*rand.PCG, numChunks),
		workers:   workers,
	}
	for i := range e.states {
		e.states[i] = u0
	}
	for c := range e.streams {
		e.streams[c] = model.NewSource(seed, uint64(c)+1)
	}
	return e
}

// Len returns the number of particles.
func (e *Ensemble) Len() int { return len(e.states) }

// States returns the current particle states. The slice is owned by the
// ensemble and is overwritten by the next Advance or Reindex.
func (e *Ensemble) States() []model.State { return e.states }

// Advance moves every particle forward by one reporting interval.
func (e *Ensemble) Advance(p model.Params) {
	if e.workers <= 1 {
		for c := range e.streams {
			e.advanceChunk(c, p)
		}
		return
	}

	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(e.workers)

	for w := 0; w < e.workers; w++ {
		go func() {
			defer wg.Done()
			for c := range jobs {
				e.advanceChunk(c, p)
			}
		}()
	}

	for c := range e.streams {
		jobs <- c
	}
	close(jobs)

	wg.Wait()
}

// advanceChunk steps the particles of chunk c with the chunk's own stream.
func (e *Ensemble) advanceChunk(c int, p model.Params) {
	lo := c * e.chunkSize
	hi := lo + e.chunkSize
	if hi > len(e.states) {
		hi = len(e.states)
	}
	src := e.streams[c]
	for i := lo; i < hi; i++ {
		e.states[i] = model.Step(e.states[i], p, src)
	}
}

// Reindex replaces particle i with the state of particle idx[i].
// idx must have one entry per particle.
func (e *Ensemble) Reindex(idx []int) {
	for i, src := range idx {
		e.scratch[i] = e.states[src]
	}
	e.states, e.scratch = e.scratch, e.states
}
