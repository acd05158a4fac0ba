// Copyright (c) 2025 The Basalt Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package rng implements the hash-mixed entropy pool (spec §4.3) that
// supplies salts and master keys: a single 320-byte buffer with a read
// cursor and a write cursor, seeded from the OS kernel CSPRNG and stirred
// by repeated hashing rather than handed out directly.
package rng

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/basalt-project/basalt/pkg/crypto"
)

// PoolSize is the fixed size, in bytes, of the entropy pool (spec §4.3).
const PoolSize = 320

// Pool is a hash-mixed entropy pool. The zero value is not valid; build one
// with New. A Pool is safe for concurrent use — every operation holds a
// single mutex, matching the "protected by one mutex" requirement in §4.3.
type Pool struct {
	mu    sync.Mutex
	buf   [PoolSize]byte
	wpos  int
	rpos  int
	algo  *crypto.HashAlgo
	fresh int // bytes added to the pool since the last hash_mix
}

// poolDefaultHash is the hash algorithm new pools use: SHA-512, the first
// entry AvailableHashes returns, per §4.3's "default first-available hash".
func poolDefaultHash() *crypto.HashAlgo { return crypto.AvailableHashes()[0] }

// fillKernelEntropy reads len(buf) bytes from the OS kernel CSPRNG.
func fillKernelEntropy(buf []byte) error {
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("basalt/rng: reading kernel CSPRNG: %w", err)
	}
	return nil
}

// New allocates a pool, selects the default hash algorithm, seeds it from
// the OS kernel CSPRNG, and self-tests it (§8). Self-test runs after
// seeding, never before, per §4.3's invariant.
func New() (*Pool, error) {
	p := &Pool{algo: poolDefaultHash()}

	seed := make([]byte, PoolSize)
	if err := fillKernelEntropy(seed); err != nil {
		return nil, err
	}
	p.addToPool(seed)
	crypto.Wipe(seed)

	if err := selfTest(); err != nil {
		return nil, err
	}
	return p, nil
}

// AddToPool XORs input into the pool at the write cursor, advancing with
// wraparound, and hash-mixes once a full pool's worth of new bytes has
// accumulated since the last mix.
func (p *Pool) AddToPool(input []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addToPool(input)
}

// addToPool is AddToPool without locking; callers must hold p.mu.
func (p *Pool) addToPool(input []byte) {
	for _, b := range input {
		p.buf[p.wpos] ^= b
		p.wpos = (p.wpos + 1) % PoolSize
		p.fresh++
		if p.fresh >= PoolSize {
			p.hashMix()
			p.fresh = 0
		}
	}
}

// hashMix re-initializes the hash state (never reused across calls, per the
// §4.3 invariant), computes the digest of the whole pool once, and XORs
// that digest into the pool repeatedly, starting at the write cursor and
// beginning each XOR where the previous one ended, until every pool byte
// has been covered. Callers must hold p.mu.
func (p *Pool) hashMix() {
	h := p.algo.New()
	h.Write(p.buf[:])
	digest := h.Sum(nil)

	covered := 0
	pos := p.wpos
	for covered < PoolSize {
		n := len(digest)
		if covered+n > PoolSize {
			n = PoolSize - covered
		}
		for i := 0; i < n; i++ {
			p.buf[(pos+i)%PoolSize] ^= digest[i]
		}
		pos = (pos + n) % PoolSize
		covered += n
	}
	crypto.Wipe(digest)
}

// GetData fills output with pool-derived entropy: polls additional system
// entropy, hash-mixes, XORs a pool pass into output advancing the read
// cursor, polls again, hash-mixes again, and XORs a second fresh pool pass
// into output to defeat state-exposure attacks (§4.3). output must be no
// longer than PoolSize; callers needing more loop.
func (p *Pool) GetData(output []byte) error {
	if len(output) > PoolSize {
		return fmt.Errorf("basalt/rng: GetData: requested %d bytes, max is %d per call", len(output), PoolSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for pass := 0; pass < 2; pass++ {
		if err := p.pollSystemEntropy(); err != nil {
			return err
		}
		p.hashMix()
		for i := range output {
			output[i] ^= p.buf[p.rpos]
			p.rpos = (p.rpos + 1) % PoolSize
		}
	}
	return nil
}

// pollSystemEntropy mixes a fresh block from the kernel CSPRNG into the
// pool without going through AddToPool's fresh-byte counter (GetData always
// hash-mixes explicitly afterward regardless of accumulated count).
func (p *Pool) pollSystemEntropy() error {
	poll := make([]byte, 32)
	if err := fillKernelEntropy(poll); err != nil {
		return err
	}
	for _, b := range poll {
		p.buf[p.wpos] ^= b
		p.wpos = (p.wpos + 1) % PoolSize
	}
	crypto.Wipe(poll)
	return nil
}

// Wipe deterministically clears the pool's internal buffer. The pool must
// not be used again afterward.
func (p *Pool) Wipe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	crypto.Wipe(p.buf[:])
}
