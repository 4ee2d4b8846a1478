// Package filestore persists the processes' JSON documents on the local
// filesystem. Every write goes to a temporary file in the destination
// directory and is renamed into place, so readers only ever observe a
// complete document.
package filestore
