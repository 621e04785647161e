// Package opcua is the device endpoint adapter. It wraps gopcua behind the
// small set of operations the bridge needs: browse, batch read, single
// read/write, method invocation and change subscriptions.
//
// Data points and methods are addressed by string identifiers such as
// "Device 1/ProductionRate"; the adapter maps them to string NodeIDs in the
// configured namespace (ns=2;s=Device 1/ProductionRate).
//
// Subscriptions are two-phase: Add registers callbacks and Commit applies
// them on the server. Callbacks added after a commit stay inactive until the
// next Commit.
package opcua
