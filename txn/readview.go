package txn

// ReadView is an MVCC snapshot (spec §3/§4.8): {creator_txn, up_limit,
// low_limit, active_set}. up_limit is the smallest active txn id at
// creation time, low_limit is the id the manager will hand out to the
// next transaction to begin, and active_set holds every other txn id that
// was active at creation.
//
// Grounded on the teacher's server/innodb/storage/store/mvcc.ReadView,
// generalized from int64 to uint64 ids and renamed to match spec §4.8's
// field names (minTrxID/maxTrxID -> UpLimit/LowLimit).
type ReadView struct {
	CreatorTxn uint64
	UpLimit    uint64
	LowLimit   uint64
	ActiveSet  map[uint64]struct{}
}

// Visible implements spec §4.8's visibility predicate for a row version
// created by creatorTxn, evaluated against this view.
func (v *ReadView) Visible(creatorTxn uint64) bool {
	if creatorTxn == v.CreatorTxn {
		return true
	}
	if creatorTxn < v.UpLimit {
		return true
	}
	if creatorTxn >= v.LowLimit {
		return false
	}
	_, active := v.ActiveSet[creatorTxn]
	return !active
}
