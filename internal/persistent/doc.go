// Package persistent implements named, schema-typed key/value stores that are
// backed by one JSON file each and shared between a single primary process and
// any number of secondary processes.
//
// Only the primary process touches the files. It loads and reconciles every
// registered store at startup (Registry.Init), applies writes, persists the
// whole store and broadcasts each committed change. Secondary processes keep a
// mirror of the stores they use and route every write through the primary via
// a remote call; the broadcast that follows is absorbed by the equality guard
// in SecondaryStore.Apply.
package persistent
