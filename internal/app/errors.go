package app

import "errors"

var (
	// ErrLibraryNotConnected means the user has no spreadsheet yet; the
	// setup flow has to run first.
	ErrLibraryNotConnected = errors.New("library not connected")

	// ErrInvalidSpreadsheet means the spreadsheet exists but its tabs or
	// header rows do not look like a library.
	ErrInvalidSpreadsheet = errors.New("spreadsheet is not a valid library")

	ErrAssistantUnavailable = errors.New("assistant is not configured")
	ErrBackupUnavailable    = errors.New("backup storage is not configured")
	ErrPlanRequired         = errors.New("feature requires a paid plan")
	ErrRateLimited          = errors.New("rate limit exceeded")
)
