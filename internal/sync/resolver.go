package sync

import "github.com/officebridge/fieldsync/internal/types"

// Resolve is the whole-record last-writer-wins conflict policy applied
// during pull: accept the remote version iff there is no local record at
// all, or the remote's UpdatedAt is strictly later. Equal timestamps keep
// local. Tombstones carry their own UpdatedAt, so a remote delete can lose
// to a more recent local edit and vice versa.
func Resolve(local, remote *types.Record) bool {
	if remote == nil {
		return false
	}
	if local == nil {
		return true
	}
	return remote.UpdatedAt.After(local.UpdatedAt)
}
