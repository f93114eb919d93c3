package models

const (
	// DefaultName is used when a card carries no usable name.
	DefaultName = "Unknown"
)

type ContainerKind string

const (
	ContainerPNG     ContainerKind = "png"
	ContainerJSON    ContainerKind = "json"
	ContainerUnknown ContainerKind = "unknown"
)
