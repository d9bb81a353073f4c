// Package archive implements the volume-sharded append-only log: the
// source-of-truth storage substrate. Every ingested fragment is preserved
// verbatim; random access by ordinal or id is O(1).
package archive

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kittclouds/memoryd/internal/kerrors"
	"github.com/kittclouds/memoryd/internal/record"
)

// DefaultVolumeCapacity is the default record count threshold per volume.
const DefaultVolumeCapacity = 100_000

// DefaultRecordsPerFile caps how many records live in one segment file
// inside a volume.
const DefaultRecordsPerFile = 5_000

// Archive is the volume-sharded append-only log for one scope subtree.
type Archive struct {
	root           string
	volumeCapacity int
	recordsPerFile int
	log            zerolog.Logger

	manifest *Manifest
	ids      *idIndex

	volMu   sync.Mutex
	volumes map[int]*volume

	nextOrdinal atomic.Int64
}

// Open opens (creating if absent) the archive rooted at dir.
func Open(dir string, volumeCapacity, recordsPerFile int, log zerolog.Logger) (*Archive, error) {
	if volumeCapacity <= 0 {
		volumeCapacity = DefaultVolumeCapacity
	}
	if recordsPerFile <= 0 {
		recordsPerFile = DefaultRecordsPerFile
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	manifest, err := loadOrCreateManifest(dir)
	if err != nil {
		return nil, kerrors.New(kerrors.Corruption, "archive.Open", err)
	}
	ids, err := openIDIndex(dir)
	if err != nil {
		return nil, kerrors.New(kerrors.Corruption, "archive.Open", err)
	}

	a := &Archive{
		root:           dir,
		volumeCapacity: volumeCapacity,
		recordsPerFile: recordsPerFile,
		log:            log,
		manifest:       manifest,
		ids:            ids,
		volumes:        make(map[int]*volume),
	}
	a.nextOrdinal.Store(manifest.snapshot().TotalRecords)
	return a, nil
}

func (a *Archive) volumeFor(number int) (*volume, error) {
	a.volMu.Lock()
	defer a.volMu.Unlock()
	if v, ok := a.volumes[number]; ok {
		return v, nil
	}
	v, err := openVolume(a.root, number, a.recordsPerFile)
	if err != nil {
		return nil, err
	}
	a.volumes[number] = v
	return v, nil
}

// Append durably writes rec and returns its global ordinal. Two concurrent
// Append calls receive strictly increasing ordinals.
func (a *Archive) Append(rec record.Record) (int64, error) {
	ordinal := a.nextOrdinal.Add(1) - 1
	volNumber := int(ordinal / int64(a.volumeCapacity))

	v, err := a.volumeFor(volNumber)
	if err != nil {
		return 0, kerrors.New(kerrors.Corruption, "archive.Append", err)
	}

	rec.Ordinal = ordinal
	if _, err := v.append(rec); err != nil {
		return 0, kerrors.New(kerrors.Corruption, "archive.Append", err)
	}

	if err := a.ids.put(rec.ID, ordinal); err != nil {
		a.log.Warn().Err(err).Str("id", rec.ID).Msg("archive: id index update failed, archive write is still durable")
	}

	if err := a.manifest.recordAppend(ordinal, volNumber); err != nil {
		a.log.Warn().Err(err).Msg("archive: manifest persist failed")
	}

	return ordinal, nil
}

// Get returns the record at the given global ordinal.
func (a *Archive) Get(ordinal int64) (record.Record, error) {
	if ordinal < 0 || ordinal >= a.manifest.snapshot().TotalRecords {
		return record.Record{}, kerrors.Newf(kerrors.NotFound, "archive.Get", "ordinal %d not found", ordinal)
	}
	volNumber := int(ordinal / int64(a.volumeCapacity))
	ordinalInVolume := int(ordinal % int64(a.volumeCapacity))

	v, err := a.volumeFor(volNumber)
	if err != nil {
		return record.Record{}, kerrors.New(kerrors.Corruption, "archive.Get", err)
	}
	rec, err := v.get(ordinalInVolume)
	if err != nil {
		return record.Record{}, kerrors.New(kerrors.Corruption, "archive.Get", err)
	}
	return rec, nil
}

// GetByID looks up a record by its opaque id via the secondary id index.
func (a *Archive) GetByID(id string) (record.Record, error) {
	ordinal, ok := a.ids.get(id)
	if !ok {
		return record.Record{}, kerrors.Newf(kerrors.NotFound, "archive.GetByID", "id %q not found", id)
	}
	return a.Get(ordinal)
}

// Delete unlinks id from the secondary index. The archive itself is
// append-only and keeps the underlying bytes; callers that need the
// "deleted" record excluded from reads must also unlink it from every
// index that names it.
func (a *Archive) Delete(id string) error {
	ordinal, ok := a.ids.get(id)
	if !ok {
		return kerrors.Newf(kerrors.NotFound, "archive.Delete", "id %q not found", id)
	}
	_ = ordinal
	a.ids.delete(id)
	return nil
}

// Iterator walks a contiguous ordinal range.
type Iterator struct {
	a     *Archive
	cur   int64
	end   int64 // exclusive
}

// Next advances and returns the next record, or ok=false at the end of
// range or on the first error encountered.
func (it *Iterator) Next() (rec record.Record, ok bool, err error) {
	if it.cur >= it.end {
		return record.Record{}, false, nil
	}
	rec, err = it.a.Get(it.cur)
	it.cur++
	if err != nil {
		return record.Record{}, false, err
	}
	return rec, true, nil
}

// Range returns an iterator over [start, end).
func (a *Archive) Range(start, end int64) (*Iterator, error) {
	total := a.manifest.snapshot().TotalRecords
	if start < 0 || end > total || start > end {
		return nil, kerrors.Newf(kerrors.InvalidArgument, "archive.Range", "invalid range [%d,%d) over %d records", start, end, total)
	}
	return &Iterator{a: a, cur: start, end: end}, nil
}

// PreloadRecent opens the most recent n volumes so their first access
// doesn't pay directory-creation/index-load latency.
func (a *Archive) PreloadRecent(nVolumes int) error {
	total := a.manifest.snapshot().TotalRecords
	if total == 0 {
		return nil
	}
	latest := int((total - 1) / int64(a.volumeCapacity))
	for n := latest; n >= 0 && n > latest-nVolumes; n-- {
		if _, err := a.volumeFor(n); err != nil {
			return err
		}
	}
	return nil
}

// TotalRecords reports how many records have been durably appended.
func (a *Archive) TotalRecords() int64 {
	return a.manifest.snapshot().TotalRecords
}

// Close releases open file handles.
func (a *Archive) Close() error {
	a.volMu.Lock()
	defer a.volMu.Unlock()
	var firstErr error
	for _, v := range a.volumes {
		if err := v.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.ids.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
