/*
Package walletstore implements a versioned local object store for a wallet
application, on top of a key-value store (Bolt, or an in-memory backend for
tests).

We implement:

1. Entities, named record kinds with typed fields, defaults and an identity
(a primary key field, a store-assigned _id, or the singleton key).

2. Schema versions, immutable snapshots of all entity shapes, chained into a
registry in ascending order.

3. Sequential migration: on open, the store walks every version after the
persisted one, one committed transaction per step.

4. Transactions with change notifications delivered after commit.

# Technical Details

**Buckets.**
Each entity lives in its own bucket named "e.<entity>". The "_meta" bucket
holds the schema version marker.

**Version marker.**
The marker records the schema version number and a fingerprint of its entity
shapes. A marker newer than the latest known version, or a fingerprint that
does not match the registered version, means the store is corrupt. Entity
data without a marker is corrupt too; an empty file is initialized at the
latest version.

**Migration steps.**
A step snapshots the old records, reshapes them to the new version (declared
fields keep valid values, new fields take defaults, undeclared fields are
dropped), runs the version's migrate function and validates the result. The
marker only advances when the step commits, so a failed step leaves the store
at the last good version and the next open resumes from there.

## Binary encoding

**Key**: the record identity as raw bytes.

**Value**:
1. Format version (uvarint).
2. Schema version that wrote the record (uvarint).
3. msgpack map of non-null field values.
*/
package walletstore
