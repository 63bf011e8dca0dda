package program

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"

	"sandkasten-go/internal/environments"
)

// ComputeID derives a program's content-addressed identity as the first
// 128 bits of SHA-256 over a canonical byte encoding of the environment's
// code-defining fields plus the request's content-defining fields, per
// spec.md §3's ProgramId. Identical requests produce identical ids;
// changing environment code, the main file, auxiliary files, or
// compile-time env vars changes it.
//
// The canonical encoding is length-prefixed fields concatenated in a
// fixed order, each length as a little-endian uint64 followed by the raw
// bytes — a deterministic compact binary encoding pinned here per
// spec.md's open question on canonicalization.
func ComputeID(env environments.Environment, mainFile MainFile, files []File, envVars []EnvVar) string {
	h := sha256.New()

	writeField := func(b []byte) {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
		h.Write(lenBuf[:])
		h.Write(b)
	}
	writeOptStr := func(s *string) {
		if s == nil {
			writeField([]byte{0})
			return
		}
		writeField([]byte{1})
		writeField([]byte(*s))
	}

	writeField([]byte(env.Name))
	writeField([]byte(env.Version))
	writeOptStr(env.CompileScript)
	writeField([]byte(env.RunScript))
	for _, c := range env.Closure {
		writeField([]byte(c))
	}
	writeField([]byte("\x00")) // closure terminator, distinguishes trailing-empty-entry ambiguity
	writeField([]byte(env.EngineVersion))

	writeOptStr(mainFile.Name)
	writeField([]byte(mainFile.Content))

	for _, f := range files {
		writeField([]byte(f.Name))
		writeField([]byte(f.Content))
	}
	writeField([]byte("\x00"))

	for _, e := range envVars {
		writeField([]byte(e.Name))
		writeField([]byte(e.Value))
	}

	sum := h.Sum(nil)

	var idBytes [16]byte
	copy(idBytes[:], sum[:16])
	// Render as a v4-shaped UUID string per spec.md §6, without claiming
	// RFC 4122 randomness — the bits are a hash digest, not random.
	id, _ := uuid.FromBytes(idBytes[:])
	return id.String()
}
