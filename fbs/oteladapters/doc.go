// Package oteladapters provides OpenTelemetry adapters for the fbs
// observability interfaces, for plug-and-play observability without
// implementing the interfaces by hand.
package oteladapters
