// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package checkpoint persists compressed projection snapshots in LevelDB so
// replays can start part way through the log.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when no checkpoint matches.
var ErrNotFound = errors.New("checkpoint not found")

const (
	livePrefix   = "cp/"
	shadowPrefix = "shadow/"
)

// Checkpoint is one projection snapshot. Job is set for the shadow
// checkpoints a reorg replay writes.
type Checkpoint struct {
	Seq      uint64          `json:"seq"`
	MaxBlock uint64          `json:"max_block"`
	Job      string          `json:"job,omitempty"`
	TakenAt  time.Time       `json:"taken_at"`
	State    json.RawMessage `json:"state"`
}

// Info describes a stored checkpoint without its state.
type Info struct {
	Seq      uint64 `json:"seq"`
	MaxBlock uint64 `json:"max_block"`
	Job      string `json:"job,omitempty"`
	Bytes    int    `json:"bytes"`
}

// Store is a LevelDB-backed checkpoint store.
type Store struct {
	mu   sync.Mutex
	db   *leveldb.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	keep int
}

// Open opens or creates a store at path. keep bounds the number of live
// checkpoints retained; zero keeps all.
func Open(path string, keep int) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	return newStore(db, keep)
}

// OpenMemory opens a store backed by memory, for tests and throwaway replays.
func OpenMemory(keep int) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newStore(db, keep)
}

func newStore(db *leveldb.DB, keep int) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, enc: enc, dec: dec, keep: keep}, nil
}

func liveKey(seq, maxBlock uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", livePrefix, seq, maxBlock))
}

func shadowKey(job string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", shadowPrefix, job, seq))
}

// Save writes cp. Saving a shadow checkpoint drops the job's older ones.
func (s *Store) Save(cp Checkpoint) error {
	if cp.TakenAt.IsZero() {
		cp.TakenAt = time.Now().UTC()
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	value := s.enc.EncodeAll(raw, nil)

	batch := new(leveldb.Batch)
	if cp.Job != "" {
		if err := s.deletePrefix(batch, []byte(shadowPrefix+cp.Job+"/")); err != nil {
			return err
		}
		batch.Put(shadowKey(cp.Job, cp.Seq), value)
	} else {
		batch.Put(liveKey(cp.Seq, cp.MaxBlock), value)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if cp.Job == "" {
		return s.prune()
	}
	return nil
}

func (s *Store) deletePrefix(batch *leveldb.Batch, prefix []byte) error {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	return it.Error()
}

func (s *Store) prune() error {
	if s.keep <= 0 {
		return nil
	}
	infos, err := s.scan(livePrefix)
	if err != nil {
		return err
	}
	if len(infos) <= s.keep {
		return nil
	}
	batch := new(leveldb.Batch)
	for _, info := range infos[:len(infos)-s.keep] {
		batch.Delete(liveKey(info.Seq, info.MaxBlock))
	}
	return s.db.Write(batch, nil)
}

// scan lists live checkpoints in ascending seq order.
func (s *Store) scan(prefix string) ([]Info, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	var out []Info
	for it.Next() {
		info, err := parseLiveKey(string(it.Key()))
		if err != nil {
			return nil, err
		}
		info.Bytes = len(it.Value())
		out = append(out, info)
	}
	return out, it.Error()
}

func parseLiveKey(key string) (Info, error) {
	parts := strings.Split(strings.TrimPrefix(key, livePrefix), "/")
	if len(parts) != 2 {
		return Info{}, fmt.Errorf("malformed checkpoint key %q", key)
	}
	seq, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("malformed checkpoint key %q: %w", key, err)
	}
	block, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("malformed checkpoint key %q: %w", key, err)
	}
	return Info{Seq: seq, MaxBlock: block}, nil
}

func (s *Store) load(key []byte) (*Checkpoint, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := s.dec.DecodeAll(value, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// List describes the live checkpoints, oldest first.
func (s *Store) List() ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scan(livePrefix)
}

// Latest returns the newest live checkpoint.
func (s *Store) Latest() (*Checkpoint, error) {
	return s.LatestBefore(^uint64(0))
}

// LatestBefore returns the newest live checkpoint whose MaxBlock is below
// fork, so it holds no action at or past the fork.
func (s *Store) LatestBefore(fork uint64) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos, err := s.scan(livePrefix)
	if err != nil {
		return nil, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		if infos[i].MaxBlock < fork {
			return s.load(liveKey(infos[i].Seq, infos[i].MaxBlock))
		}
	}
	return nil, ErrNotFound
}

// LatestShadow returns the job's shadow checkpoint.
func (s *Store) LatestShadow(job string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.db.NewIterator(util.BytesPrefix([]byte(shadowPrefix+job+"/")), nil)
	defer it.Release()
	if !it.Last() {
		if err := it.Error(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return s.load(append([]byte(nil), it.Key()...))
}

// DropShadows removes the job's shadow checkpoints.
func (s *Store) DropShadows(job string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := new(leveldb.Batch)
	if err := s.deletePrefix(batch, []byte(shadowPrefix+job+"/")); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// DropFrom removes live checkpoints that contain blocks at or past fork.
func (s *Store) DropFrom(fork uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos, err := s.scan(livePrefix)
	if err != nil {
		return 0, err
	}
	batch := new(leveldb.Batch)
	for _, info := range infos {
		if info.MaxBlock >= fork {
			batch.Delete(liveKey(info.Seq, info.MaxBlock))
		}
	}
	return batch.Len(), s.db.Write(batch, nil)
}

// Close releases the database and codecs.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
