package doubleentry

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"
)

// ID is the engine's native 128-bit key.
type ID struct {
	Hi uint64
	Lo uint64
}

func (id ID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

// IDFromUUID maps a transfer UUID into the engine key space. The mapping is
// deterministic and reversible: the UUID's sixteen bytes become the big-endian
// hi/lo halves unchanged.
func IDFromUUID(u uuid.UUID) ID {
	return ID{
		Hi: binary.BigEndian.Uint64(u[0:8]),
		Lo: binary.BigEndian.Uint64(u[8:16]),
	}
}

// UUID is the inverse of IDFromUUID.
func (id ID) UUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[0:8], id.Hi)
	binary.BigEndian.PutUint64(u[8:16], id.Lo)
	return u
}

func (id ID) String() string {
	return id.UUID().String()
}

// DeriveID hashes an arbitrary reference string into the key space. Used for
// account keys and for the post/void operation ids derived from a transfer
// id. Stable within one backend version.
func DeriveID(parts ...string) ID {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	id := ID{
		Hi: binary.BigEndian.Uint64(sum[0:8]),
		Lo: binary.BigEndian.Uint64(sum[8:16]),
	}
	if id.IsZero() {
		id.Lo = 1
	}
	return id
}
