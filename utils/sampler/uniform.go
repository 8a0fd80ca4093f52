// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sampler implements sampling without replacement.
package sampler

import (
	"errors"
	"math/rand"
)

var ErrNegativeCount = errors.New("negative count")

// Uniform samples distinct indices uniformly from [0, count).
type Uniform interface {
	Initialize(count int) error
	Sample(size int) ([]int, bool)
}

type uniform struct {
	count int
	rng   *rand.Rand
}

// NewUniform creates a new uniform sampler.
func NewUniform() Uniform {
	return &uniform{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// NewDeterministicUniform creates a seeded uniform sampler.
func NewDeterministicUniform(seed int64) Uniform {
	return &uniform{rng: rand.New(rand.NewSource(seed))}
}

func (u *uniform) Initialize(count int) error {
	if count < 0 {
		return ErrNegativeCount
	}
	u.count = count
	return nil
}

func (u *uniform) Sample(size int) ([]int, bool) {
	if size > u.count {
		return nil, false
	}

	indices := make([]int, size)
	selected := make(map[int]struct{}, size)
	for i := 0; i < size; i++ {
		for {
			index := u.rng.Intn(u.count)
			if _, ok := selected[index]; !ok {
				indices[i] = index
				selected[index] = struct{}{}
				break
			}
		}
	}
	return indices, true
}
