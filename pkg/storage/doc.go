/*
Package storage provides BoltDB-backed persistence for Control's
authoritative fleet state: machines, eggs, egg groups, boot images,
boot configs, deployment jobs, boot events, workers, agents,
enrollment keys, teams, resource assignments, shell session records,
and the internal CA material pkg/security issues from.

# Architecture

BoltStore implements the Store interface over a single BoltDB file,
one bucket per entity kind:

	┌──────────────────────── BoltStore ─────────────────────────┐
	│ File: <dataDir>/fleetboot.db                                │
	│ Buckets: machines, eggs, egg_groups, boot_images,           │
	│          boot_configs, jobs, boot_events, workers, agents,  │
	│          enrollment_keys, teams, assignments,               │
	│          shell_sessions, ca                                 │
	└──────────────────────────────────────────────────────────────┘

Reads never go through Raft; only the FSM calls the write methods, and
only after a command has committed through the Raft log (see
pkg/manager). The one exception is SaveCA, which pkg/manager calls
directly when a node first creates its certificate authority. This keeps BoltStore itself free of any consensus logic
— it is a plain embedded key/value store, and every manager node in a
cluster runs its own copy kept in sync by Raft.

# Conventions

Upsert pattern: Create and Update are the same bucket.Put under the
hood (UpdateMachine just calls CreateMachine); there is no separate
existence check.

Secondary lookups: GetMachineByMAC and GetEggByName scan the bucket
rather than maintain a second index, since both buckets are expected to
stay small enough that a full scan costs nothing worth indexing.

Idempotent deletes: Delete methods return no error when the key is
already absent.

Append-only log: AppendBootEvent and PruneBootEventsBefore treat
boot_events differently from every other bucket — events are never
updated in place, and pruning is the only bulk-delete operation in the
package. No component of Control calls PruneBootEventsBefore, so boot
events are kept until a caller prunes them.

# Usage

	store, err := storage.NewBoltStore("/var/lib/fleetboot/control-1")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.CreateMachine(&types.Machine{
		SystemID:   "machine-abc123",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Status:     types.MachineDiscovered,
	})

	machine, err := store.GetMachineByMAC("aa:bb:cc:dd:ee:ff")
	machines, err := store.ListMachines()

	machine.Status = types.MachineReady
	err = store.UpdateMachine(machine)

# Security

The database file is written with restrictive permissions and is not
itself encrypted; the CA's root key is the only payload encrypted
before it reaches a bucket, and operators are expected to rely on
disk-level encryption for anything beyond that. CA material saved via
SaveCA/GetCA is a JSON document holding the root certificate's DER
bytes and its AES-GCM encrypted private key, the root used to issue
the internal TLS certificates pkg/security hands out.
*/
package storage
