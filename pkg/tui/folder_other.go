//go:build !windows

package tui

// DefaultFolderPicker returns nil; paths are typed instead.
func DefaultFolderPicker() FolderPicker { return nil }
