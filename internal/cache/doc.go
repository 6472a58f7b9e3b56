// Package cache defines the generation-namespaced store that backs the offline
// cache. A Store hands out Generation handles (one durable namespace per
// generation identifier) and can list or delete whole generations; a
// Generation reads and writes individual Entry values keyed by normalized
// request locators. Three drivers are provided: fs (one file per entry under
// StoragePath/<generation>/), sqlite (a single database file) and memory.
// Lifecycle and strategy code depend only on the interfaces here, never on a
// concrete driver.
package cache
