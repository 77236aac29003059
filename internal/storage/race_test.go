//go:build race

package storage

// boltdb/bolt v1.3.1 trips checkptr under the race detector.
const raceEnabled = true
