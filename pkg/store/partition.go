package store

import "strings"

// Partition naming convention: a single version string is the source of
// truth, and partition names are that version suffixed with the partition
// kind. Bumping the version is the only supported way to force clients to
// discard old cached data.
const (
	staticSuffix  = "-static"
	dynamicSuffix = "-dynamic"
)

// StaticPartition returns the name of the static partition for a version.
// The static partition holds the application shell, pre-populated at
// install time and only replaced on a version bump.
func StaticPartition(version string) string {
	return version + staticSuffix
}

// DynamicPartition returns the name of the dynamic partition for a
// version. It is populated lazily at runtime as strategies execute.
func DynamicPartition(version string) string {
	return version + dynamicSuffix
}

// PartitionVersion extracts the version tag from a partition name.
// Returns the name unchanged if it carries no known suffix.
func PartitionVersion(name string) string {
	if v, ok := strings.CutSuffix(name, staticSuffix); ok {
		return v
	}
	if v, ok := strings.CutSuffix(name, dynamicSuffix); ok {
		return v
	}
	return name
}
