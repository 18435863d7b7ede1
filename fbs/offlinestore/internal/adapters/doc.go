// Package adapters bridges the offline store to concrete database client
// libraries. The store issues exactly two statements, so the clients expose
// exactly two operations instead of a general query surface.
package adapters
