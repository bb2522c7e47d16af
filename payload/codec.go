package payload

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"

	"github.com/lanternlang/lantern/errors"
)

// Trailer layout, all integers big-endian:
//
//	[host bytes][magic 8][version u32][length u64][body][crc32 u32]
//
// The crc covers version|length|body. The trailer is located by scanning
// backward from end-of-file for the magic, so arbitrary prefix content
// (the host executable) is untouched. A candidate sentinel is accepted
// only when its declared length plus the checksum lands exactly on
// end-of-file.

// Magic is the 8-byte sentinel that opens a payload block.
var Magic = [8]byte{'l', '4', 'n', 't', '3', 'r', 'n', '!'}

// TrailerVersion is the payload block format version written by this
// build. Any build sharing a version must recognize blocks written by
// any other build with that version.
const TrailerVersion uint32 = 1

const (
	headerSize   = 8 + 4 + 8 // magic + version + length
	checksumSize = 4
	minBlockSize = headerSize + checksumSize

	// MaxBodySize bounds the encoded body. Bodies beyond this do not fit
	// the trailer offset scheme and are rejected at encode time.
	MaxBodySize = uint64(1) << 32
)

// body is the CBOR wire form of a Unit inside a payload block.
type wireBody struct {
	Bytecode []byte            `cbor:"bytecode"`
	Files    map[string][]byte `cbor:"files,omitempty"`
	Source   string            `cbor:"source,omitempty"`
	Format   uint32            `cbor:"format"`
}

// Encode serializes u into a single self-delimiting payload block
// suitable for appending to a host file. Pure transform, no side
// effects.
func Encode(u *Unit) ([]byte, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	bodyBytes, err := cbor.Marshal(&wireBody{
		Format:   u.Format,
		Source:   u.Source,
		Bytecode: u.Bytecode,
		Files:    u.Files,
	})
	if err != nil {
		return nil, errors.InvalidData(errors.PhasePayload, "encode payload body", err)
	}
	if uint64(len(bodyBytes)) > MaxBodySize {
		return nil, errors.TooLarge(errors.PhasePayload, "payload body", uint64(len(bodyBytes)))
	}

	block := make([]byte, 0, minBlockSize+len(bodyBytes))
	block = append(block, Magic[:]...)
	block = binary.BigEndian.AppendUint32(block, TrailerVersion)
	block = binary.BigEndian.AppendUint64(block, uint64(len(bodyBytes)))
	block = append(block, bodyBytes...)

	sum := crc32.ChecksumIEEE(block[len(Magic):])
	block = binary.BigEndian.AppendUint32(block, sum)
	return block, nil
}

// Scan locates and decodes a payload block appended to image.
//
// Absence of a payload is a normal, expected case: Scan returns
// (nil, nil) when image ends in no payload block. The sentinel bytes
// alone prove nothing — the runtime's own binary embeds the Magic
// constant in its data section, so every unpatched build contains
// stray sentinels. A candidate counts as a payload block only when its
// declared length lands exactly on end-of-file; a terminal candidate
// that then fails validation (bad checksum, undecodable body,
// unsupported version) is a corrupt-payload error so the caller can
// report a clear diagnostic instead of attempting to run garbage.
func Scan(image []byte) (*Unit, error) {
	var reject error

	// Candidates nearest end-of-file are tried first. A magic sequence
	// inside a body fails the exact end-of-file bound and scanning
	// continues to the real trailer.
	for at := len(image) - minBlockSize; at >= 0; at-- {
		if image[at] != Magic[0] || !bytes.Equal(image[at:at+len(Magic)], Magic[:]) {
			continue
		}
		if !terminalBlock(image, at) {
			continue
		}

		u, err := decodeBlockAt(image, at)
		if err == nil {
			return u, nil
		}
		if reject == nil {
			reject = err
		}
	}

	if reject != nil {
		return nil, errors.CorruptPayload("payload trailer failed validation", reject)
	}
	return nil, nil
}

// terminalBlock reports whether the candidate block starting at offset
// at declares a length that bounds end-of-file exactly. Anything else
// is plain data that happens to contain the sentinel bytes.
func terminalBlock(image []byte, at int) bool {
	rest := image[at:]
	length := binary.BigEndian.Uint64(rest[12:20])
	return length <= MaxBodySize && uint64(len(rest)) == headerSize+length+checksumSize
}

// decodeBlockAt parses the terminal payload block whose magic starts
// at offset at. The caller has already checked the end-of-file bound.
func decodeBlockAt(image []byte, at int) (*Unit, error) {
	rest := image[at:]

	version := binary.BigEndian.Uint32(rest[8:12])
	length := binary.BigEndian.Uint64(rest[12:20])

	if version != TrailerVersion {
		return nil, errors.New(errors.PhasePayload, errors.KindCorruptPayload).
			Detail("unsupported trailer version %d", version).
			Value(version).
			Build()
	}

	bodyEnd := headerSize + int(length)
	want := binary.BigEndian.Uint32(rest[bodyEnd:])
	got := crc32.ChecksumIEEE(rest[len(Magic):bodyEnd])
	if got != want {
		return nil, errors.New(errors.PhasePayload, errors.KindCorruptPayload).
			Detail("checksum mismatch: computed %08x, stored %08x", got, want).
			Build()
	}

	var wb wireBody
	if err := cbor.Unmarshal(rest[headerSize:bodyEnd], &wb); err != nil {
		return nil, errors.CorruptPayload("undecodable payload body", err)
	}
	if !SupportedFormat(wb.Format) {
		return nil, errors.UnsupportedFormat(errors.PhasePayload, wb.Format)
	}

	return &Unit{
		Bytecode: wb.Bytecode,
		Files:    wb.Files,
		Source:   wb.Source,
		Format:   wb.Format,
	}, nil
}
