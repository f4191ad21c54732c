package utils

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// GenID returns a fresh random identifier string.
func GenID() string {
	return uuid.NewString()
}

// GenCorrelation returns a non-zero random correlation id for events.
func GenCorrelation() uint64 {
	u := uuid.New()
	v := binary.BigEndian.Uint64(u[:8])
	if v == 0 {
		v = 1
	}
	return v
}
