package archive

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kittclouds/memoryd/internal/record"
)

// volume is a contiguous range of memoryd records laid out as a sequence of
// append-only line-delimited JSON segment files plus a volume-level index
// of per-record byte offsets.
type volume struct {
	mu             sync.Mutex
	dir            string
	number         int
	recordsPerFile int

	count       int     // records written so far in this volume
	offsets     []int64 // per-record byte offset within its segment file
	openFile    *os.File
	openFileNum int
}

func openVolume(root string, number, recordsPerFile int) (*volume, error) {
	dir := filepath.Join(root, fmt.Sprintf("volume-%06d", number))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	v := &volume{dir: dir, number: number, recordsPerFile: recordsPerFile, openFileNum: -1}
	if err := v.loadIndex(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *volume) indexPath() string { return filepath.Join(v.dir, "volume.idx") }

func (v *volume) loadIndex() error {
	data, err := os.ReadFile(v.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data)%8 != 0 {
		// Truncated trailing entry from a crash mid-append; drop it.
		data = data[:len(data)-(len(data)%8)]
	}
	v.offsets = make([]int64, len(data)/8)
	for i := range v.offsets {
		v.offsets[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	v.count = len(v.offsets)
	return nil
}

func (v *volume) appendIndexEntry(offset int64) error {
	f, err := os.OpenFile(v.indexPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(offset))
	_, err = f.Write(buf[:])
	return err
}

func (v *volume) segmentPath(fileNum int) string {
	return filepath.Join(v.dir, fmt.Sprintf("seg-%06d.jsonl", fileNum))
}

// append writes rec to the volume and returns its ordinal within the
// volume (0-based). Appends within a single volume are serialized by v.mu.
func (v *volume) append(rec record.Record) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fileNum := v.count / v.recordsPerFile
	if v.openFile == nil || v.openFileNum != fileNum {
		if v.openFile != nil {
			v.openFile.Close()
		}
		f, err := os.OpenFile(v.segmentPath(fileNum), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, err
		}
		v.openFile = f
		v.openFileNum = fileNum
	}

	info, err := v.openFile.Stat()
	if err != nil {
		return 0, err
	}
	offset := info.Size()

	data, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	if _, err := v.openFile.Write(data); err != nil {
		return 0, err
	}
	if err := v.openFile.Sync(); err != nil {
		return 0, err
	}

	if err := v.appendIndexEntry(offset); err != nil {
		return 0, err
	}

	ordinalInVolume := v.count
	v.offsets = append(v.offsets, offset)
	v.count++
	return ordinalInVolume, nil
}

// get reads the record at the given in-volume ordinal. It holds v.mu only
// long enough to look up the record's offset, then opens its own file
// handle and reads without the lock, so readers never wait on the file
// I/O of an in-flight append.
func (v *volume) get(ordinalInVolume int) (record.Record, error) {
	v.mu.Lock()
	if ordinalInVolume < 0 || ordinalInVolume >= v.count {
		v.mu.Unlock()
		return record.Record{}, fmt.Errorf("archive: ordinal %d out of range for volume %d (count %d)", ordinalInVolume, v.number, v.count)
	}
	fileNum := ordinalInVolume / v.recordsPerFile
	offset := v.offsets[ordinalInVolume]
	v.mu.Unlock()

	f, err := os.Open(v.segmentPath(fileNum))
	if err != nil {
		return record.Record{}, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return record.Record{}, err
	}
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return record.Record{}, err
	}

	var rec record.Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return record.Record{}, fmt.Errorf("archive: corrupt record at volume %d offset %d: %w", v.number, offset, err)
	}
	return rec, nil
}

func (v *volume) close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.openFile != nil {
		return v.openFile.Close()
	}
	return nil
}
