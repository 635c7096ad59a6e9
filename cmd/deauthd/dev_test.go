package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevGeneratorInvertsPathLoss(t *testing.T) {
	g := newDevGenerator()
	for _, d := range []float64{0.5, 1, 2.5} {
		assert.InDelta(t, d, g.model.Distance(g.rssiAt(d)), 1e-9)
	}
}

func TestDevGeneratorCyclesSensors(t *testing.T) {
	g := newDevGenerator()
	pos := g.positions()
	require.Len(t, pos, 3)

	seen := map[string]int{}
	for range 6 {
		rec := g.next()
		assert.Equal(t, g.attacker, rec.Attacker)
		assert.Equal(t, int32(50), rec.FrameCount)
		assert.Contains(t, pos, rec.Sensor)
		seen[rec.Sensor.String()]++
	}
	for _, n := range seen {
		assert.Equal(t, 2, n)
	}
}
