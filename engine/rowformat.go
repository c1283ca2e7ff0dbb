package engine

import (
	"encoding/binary"
	"fmt"
)

// A row version as stored at a page slot carries its creator transaction
// id and a roll pointer into the undo log, per spec §4.8's visibility
// predicate ("given a row version created by creator_txn...") and §4.5's
// "records are backward-linked, supporting MVCC version reconstruction."
// The slotted page format itself (storage/page) is row-format agnostic —
// it stores opaque payloads — so this header is an engine-layer concern,
// not a page-layer one.
const versionHeaderSize = 8 + 8 // creatorTxn uint64 + rollPtr int64

func encodeVersion(creatorTxn uint64, rollPtr int64, payload []byte) []byte {
	buf := make([]byte, versionHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[0:], creatorTxn)
	binary.LittleEndian.PutUint64(buf[8:], uint64(rollPtr))
	copy(buf[versionHeaderSize:], payload)
	return buf
}

func decodeVersion(b []byte) (creatorTxn uint64, rollPtr int64, payload []byte, err error) {
	if len(b) < versionHeaderSize {
		return 0, 0, nil, fmt.Errorf("engine: row version header truncated: %d bytes", len(b))
	}
	creatorTxn = binary.LittleEndian.Uint64(b[0:])
	rollPtr = int64(binary.LittleEndian.Uint64(b[8:]))
	payload = b[versionHeaderSize:]
	return creatorTxn, rollPtr, payload, nil
}
