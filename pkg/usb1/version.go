package usb1

import "fmt"

// Version identifies the native libusb library loaded into the process.
type Version struct {
	Major    uint16
	Minor    uint16
	Micro    uint16
	Nano     uint16
	RC       string
	Describe string
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d%s", v.Major, v.Minor, v.Micro, v.Nano, v.RC)
}

// GetVersion returns the version of the native library.
func GetVersion() (Version, error) {
	drv, err := loadDriver()
	if err != nil {
		return Version{}, err
	}
	return drv.version(), nil
}

// HasCapability reports whether the native library supports the given
// runtime capability on this platform.
func HasCapability(cap Capability) (bool, error) {
	drv, err := loadDriver()
	if err != nil {
		return false, err
	}
	return drv.hasCapability(cap), nil
}

// SetLocale selects the language of the native library's error strings.
func SetLocale(locale string) error {
	drv, err := loadDriver()
	if err != nil {
		return err
	}
	return drv.setLocale(locale)
}

// SetLogCallback routes the log output of every context, present and future,
// to cb.
func SetLogCallback(cb LogCallbackFunc) error {
	drv, err := loadDriver()
	if err != nil {
		return err
	}
	drv.setGlobalLogCallback(cb)
	return nil
}
