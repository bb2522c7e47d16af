// Package payload implements the standalone binary packaging format.
//
// A standalone lantern binary is the runtime executable with a single
// payload block appended at the tail:
//
//	[executable bytes][magic 8B][version u32][length u64][body][crc32]
//
// The body is a CBOR-encoded Unit: the compiled program's bytecode, its
// format tag, a diagnostic source label, and any embedded files. All
// trailer integers are big-endian.
//
// Encode and Scan are pure transforms over byte buffers. Scan locates the
// block by searching backward from end-of-file for the magic sentinel;
// the absence of a sentinel is a normal condition (a non-patched binary)
// and reported as (nil, nil), while a sentinel that fails validation is a
// corrupt-payload error. Patch appends a block to a copy of a reference
// image, refusing images that already carry one.
package payload
