package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"Tally/internal/address"
	"Tally/internal/ledger"
	"Tally/internal/record"
	"Tally/internal/types"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// checksumSize is the size of the blake3 checksum.
	checksumSize = 32
)

var (
	// ErrChecksum is returned when snapshot content does not match its checksum.
	ErrChecksum = errors.New("snapshot checksum mismatch")

	// ErrProgramMismatch is returned when a snapshot belongs to another program.
	ErrProgramMismatch = errors.New("snapshot program mismatch")

	// ErrNotEmpty is returned when restoring into a ledger that already holds records.
	ErrNotEmpty = errors.New("ledger is not empty")
)

// Snapshot is a decoded and verified snapshot.
type Snapshot struct {
	Version     uint32          // Version is the format version
	Program     address.Address // Program is the program the records belong to
	JournalHead uint64          // JournalHead is read before export; every event up to it is reflected
	Records     []ledger.Entry  // Records are the record slots, ordered by address
	Checksum    [32]byte        // Checksum covers every field above
}

// Create serializes every record slot of l.
func Create(l *ledger.Ledger, program address.Address, journalHead uint64) ([]byte, error) {
	entries, err := l.Export()
	if err != nil {
		return nil, fmt.Errorf("export records:\n%w", err)
	}

	return build(program, journalHead, entries), nil
}

// build creates the FlatBuffers snapshot with checksum.
func build(program address.Address, journalHead uint64, entries []ledger.Entry) []byte {
	checksum := computeChecksum(snapshotVersion, program, journalHead, entries)

	size := 256
	for _, e := range entries {
		size += len(e.Data) + address.Size + 16
	}

	builder := flatbuffers.NewBuilder(size)

	recordOffsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		addrOffset := builder.CreateByteVector(e.Address[:])
		dataOffset := builder.CreateByteVector(e.Data)

		types.SnapshotRecordStart(builder)
		types.SnapshotRecordAddAddress(builder, addrOffset)
		types.SnapshotRecordAddData(builder, dataOffset)
		recordOffsets[i] = types.SnapshotRecordEnd(builder)
	}

	types.SnapshotStartRecordsVector(builder, len(recordOffsets))
	for i := len(recordOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(recordOffsets[i])
	}
	recordsVector := builder.EndVector(len(recordOffsets))

	programOffset := builder.CreateByteVector(program[:])
	checksumOffset := builder.CreateByteVector(checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, snapshotVersion)
	types.SnapshotAddProgram(builder, programOffset)
	types.SnapshotAddJournalHead(builder, journalHead)
	types.SnapshotAddRecords(builder, recordsVector)
	types.SnapshotAddChecksum(builder, checksumOffset)
	offset := types.SnapshotEnd(builder)
	builder.Finish(offset)

	return builder.FinishedBytes()
}

// computeChecksum computes a blake3 checksum over canonical snapshot data.
// Format: version (4) + program (32) + journal head (8) + per record: address + len (4) + data
func computeChecksum(version uint32, program address.Address, journalHead uint64, entries []ledger.Entry) [32]byte {
	hasher := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], version)
	hasher.Write(buf[:4])

	hasher.Write(program[:])

	binary.BigEndian.PutUint64(buf[:], journalHead)
	hasher.Write(buf[:])

	for _, e := range entries {
		hasher.Write(e.Address[:])
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.Data)))
		hasher.Write(buf[:4])
		hasher.Write(e.Data)
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// Decode parses a snapshot and verifies its checksum and records.
func Decode(data []byte) (snap *Snapshot, retErr error) {
	// FlatBuffers panics on malformed data, recover gracefully
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			retErr = fmt.Errorf("malformed snapshot data")
		}
	}()

	if len(data) < 8 {
		return nil, fmt.Errorf("snapshot data too short")
	}

	fb := types.GetRootAsSnapshot(data, 0)

	if fb.Version() != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", fb.Version())
	}

	program, err := address.FromBytes(fb.ProgramBytes())
	if err != nil {
		return nil, fmt.Errorf("program:\n%w", err)
	}

	if len(fb.ChecksumBytes()) != checksumSize {
		return nil, fmt.Errorf("invalid checksum length: %d", len(fb.ChecksumBytes()))
	}

	snap = &Snapshot{
		Version:     fb.Version(),
		Program:     program,
		JournalHead: fb.JournalHead(),
		Records:     make([]ledger.Entry, fb.RecordsLength()),
	}
	copy(snap.Checksum[:], fb.ChecksumBytes())

	var rec types.SnapshotRecord

	for i := range snap.Records {
		if !fb.Records(&rec, i) {
			return nil, fmt.Errorf("read record %d", i)
		}

		addr, err := address.FromBytes(rec.AddressBytes())
		if err != nil {
			return nil, fmt.Errorf("record %d address:\n%w", i, err)
		}

		// Copy bytes, the FlatBuffers buffer belongs to the caller
		snap.Records[i] = ledger.Entry{
			Address: addr,
			Data:    append([]byte(nil), rec.DataBytes()...),
		}
	}

	computed := computeChecksum(snap.Version, snap.Program, snap.JournalHead, snap.Records)
	if !bytes.Equal(computed[:], snap.Checksum[:]) {
		return nil, ErrChecksum
	}

	if err := verifyRecords(snap.Records); err != nil {
		return nil, err
	}

	return snap, nil
}

// verifyRecords checks that every slot holds a decodable poll or vote record.
func verifyRecords(entries []ledger.Entry) error {
	for _, e := range entries {
		var err error

		switch record.Kind(e.Data) {
		case "poll":
			_, err = record.DecodePoll(e.Data)
		case "vote":
			_, err = record.DecodeVote(e.Data)
		default:
			err = record.ErrDiscriminator
		}

		if err != nil {
			return fmt.Errorf("record %s:\n%w", e.Address.Short(), err)
		}
	}

	return nil
}

// Restore verifies a snapshot and loads its records into an empty ledger.
func Restore(l *ledger.Ledger, program address.Address, data []byte) (*Snapshot, error) {
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot:\n%w", err)
	}

	if snap.Program != program {
		return nil, fmt.Errorf("%w: snapshot is for %s, node serves %s", ErrProgramMismatch, snap.Program, program)
	}

	empty, err := l.Empty()
	if err != nil {
		return nil, fmt.Errorf("check ledger:\n%w", err)
	}

	if !empty {
		return nil, ErrNotEmpty
	}

	if err := l.Import(snap.Records); err != nil {
		return nil, fmt.Errorf("import records:\n%w", err)
	}

	return snap, nil
}

// Compress compresses snapshot data using zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses zstd-compressed snapshot data.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
