package ipc

import (
	"encoding/binary"
	"io"

	cerrors "netguardd/errors"
)

// readFrame reads one big-endian uint32 length prefix followed by that
// many bytes. If the prefix exceeds maxFrameBytes the connection is
// rejected before any payload buffer is allocated (P6): a corrupt or
// adversarial length prefix can never be used to force a large allocation.
func readFrame(r io.Reader, maxFrameBytes int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return []byte{}, nil
	}
	if int64(length) > int64(maxFrameBytes) {
		return nil, cerrors.ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes payload framed with a big-endian uint32 length prefix.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
