package tui

const (
	// Input Dimensions
	InputWidth = 50

	// Layout Offsets and Padding
	HeaderHeight      = 3
	FooterHeight      = 4
	DefaultPaddingX   = 1
	DefaultPaddingY   = 0
	ProgressBarOffset = 4

	// Column widths of the link table
	CheckWidth    = 3
	MimeWidth     = 22
	SizeWidth     = 18
	TimeLeftWidth = 9
	MinURLWidth   = 20

	// Settings overlay
	SettingsWidth  = 70
	SettingsHeight = 18
)
