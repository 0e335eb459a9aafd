// Package stableid claims stable, human-readable worker IDs from a numbered pool.
//
// Stable IDs keep metrics labels and logs readable across restarts: a restarted
// worker usually gets its previous ID back once the old claim expires.
package stableid
