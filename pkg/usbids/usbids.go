// Package usbids resolves USB vendor and product ids to human-readable names
// using the usb.ids database shipped by most distributions.
package usbids

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/golang/glog"
)

// wellKnownPaths are tried after the XDG data directories.
var wellKnownPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/usr/share/misc/usb.ids",
	"/var/lib/usbutils/usb.ids",
}

// DB maps vendor and product ids to names.
type DB struct {
	vendors  map[uint16]string
	products map[uint32]string
}

// Load finds and parses the system usb.ids database. A missing database is
// not an error; the returned DB resolves nothing.
func Load() (*DB, error) {
	path, err := xdg.SearchDataFile("usb.ids")
	if err != nil {
		path = ""
		for _, p := range wellKnownPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		glog.V(1).Infof("No usb.ids database found")
		return &DB{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	db, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return db, nil
}

// Parse reads a usb.ids stream. Sections other than the vendor list (device
// classes, audio terminals, HID usages) are ignored.
func Parse(r io.Reader) (*DB, error) {
	db := &DB{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
	scanner := bufio.NewScanner(r)
	var vendor uint16
	var inVendorList bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "\t\t"):
			// Interface-level entries, unused.
		case strings.HasPrefix(line, "\t"):
			if !inVendorList {
				continue
			}
			id, name, ok := parseEntry(line[1:])
			if !ok {
				continue
			}
			db.products[uint32(vendor)<<16|uint32(id)] = name
		default:
			id, name, ok := parseEntry(line)
			if !ok {
				// First non-vendor toplevel entry ends the vendor list.
				inVendorList = false
				continue
			}
			vendor = id
			inVendorList = true
			db.vendors[id] = name
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

func parseEntry(line string) (uint16, string, bool) {
	id, name, found := strings.Cut(line, "  ")
	if !found || len(id) != 4 {
		return 0, "", false
	}
	n, err := strconv.ParseUint(id, 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(n), strings.TrimSpace(name), true
}

// Vendor returns the vendor name, or "" if unknown.
func (db *DB) Vendor(vendorID uint16) string {
	return db.vendors[vendorID]
}

// Product returns the product name, or "" if unknown.
func (db *DB) Product(vendorID, productID uint16) string {
	return db.products[uint32(vendorID)<<16|uint32(productID)]
}

// Describe formats "Vendor Product" with hex fallbacks for unknown ids.
func (db *DB) Describe(vendorID, productID uint16) string {
	vendor := db.Vendor(vendorID)
	if vendor == "" {
		vendor = fmt.Sprintf("[%04x]", vendorID)
	}
	product := db.Product(vendorID, productID)
	if product == "" {
		product = fmt.Sprintf("[%04x]", productID)
	}
	return vendor + " " + product
}
