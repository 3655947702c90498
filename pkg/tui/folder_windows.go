//go:build windows

package tui

import (
	"runtime"
	"syscall"
	"unsafe"

	"github.com/gonutz/w32"
	"golang.org/x/sys/windows"
)

const (
	bifReturnOnlyFSDirs = 0x00000001
	bifNewDialogStyle   = 0x00000040
)

// DefaultFolderPicker shows the shell's folder browser.
func DefaultFolderPicker() FolderPicker { return browseForFolder }

func browseForFolder(title string) (string, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := windows.CoInitializeEx(0, windows.COINIT_APARTMENTTHREADED); err == nil {
		defer windows.CoUninitialize()
	}

	titlePtr, err := syscall.UTF16PtrFromString(title)
	if err != nil {
		return "", err
	}
	display := make([]uint16, windows.MAX_PATH)
	bi := w32.BROWSEINFO{
		Title:       titlePtr,
		DisplayName: &display[0],
		Flags:       bifReturnOnlyFSDirs | bifNewDialogStyle,
	}
	pidl := w32.SHBrowseForFolder(&bi)
	if pidl == 0 {
		return "", nil
	}
	defer windows.CoTaskMemFree(unsafe.Pointer(pidl))
	return w32.SHGetPathFromIDList(pidl), nil
}
