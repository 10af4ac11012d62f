package usbid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
	"/usr/share/usb.ids",
}

type vendor struct {
	name     string
	products map[uint16]string
}

type class struct {
	name       string
	subclasses map[uint8]string
}

// Database holds the vendor and class sections of usb.ids.
type Database struct {
	paths   []string
	path    string // file actually loaded
	vendors map[uint16]*vendor
	classes map[uint8]*class
	once    sync.Once
	err     error
	mu      sync.RWMutex
}

// New returns a database that searches DefaultPaths.
func New() *Database {
	return NewWithPaths(DefaultPaths)
}

// NewWithPaths returns a database that searches paths in order.
func NewWithPaths(paths []string) *Database {
	return &Database{
		paths:   append([]string(nil), paths...),
		vendors: make(map[uint16]*vendor),
		classes: make(map[uint8]*class),
	}
}

// Load reads the first database found. Only the first call does any work;
// later calls return its result. A missing file yields an error wrapping
// fs.ErrNotExist.
func (db *Database) Load() error {
	db.once.Do(func() {
		db.err = db.load()
	})
	return db.err
}

func (db *Database) load() error {
	for _, path := range db.paths {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		defer f.Close()
		if err := db.Parse(f); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		db.mu.Lock()
		db.path = path
		db.mu.Unlock()
		return nil
	}
	return fmt.Errorf("usb.ids not found in %v: %w", db.paths, fs.ErrNotExist)
}

// Path returns the file Load read, or "" if none was.
func (db *Database) Path() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.path
}

// Parse merges usb.ids formatted text from r. Vendor lines are "vvvv  name"
// followed by tab-indented "pppp  name" product lines. Class lines are
// "C cc  name" followed by tab-indented "ss  name" subclass lines. Other
// sections (HID usages, languages, ...) and malformed lines are skipped.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var (
		curVendor *vendor
		curClass  *class
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		depth := 0
		for depth < len(line) && line[depth] == '\t' {
			depth++
		}
		id, name, ok := splitEntry(line[depth:])

		switch {
		case depth == 0 && strings.HasPrefix(line, "C "):
			curVendor = nil
			curClass = nil
			if id, name, ok = splitEntry(line[2:]); !ok {
				continue
			}
			code, err := strconv.ParseUint(id, 16, 8)
			if err != nil {
				continue
			}
			curClass = &class{name: name, subclasses: make(map[uint8]string)}
			db.classes[uint8(code)] = curClass

		case depth == 0:
			curVendor = nil
			curClass = nil
			if !ok || len(id) != 4 {
				continue
			}
			vid, err := strconv.ParseUint(id, 16, 16)
			if err != nil {
				continue
			}
			curVendor = &vendor{name: name, products: make(map[uint16]string)}
			db.vendors[uint16(vid)] = curVendor

		case depth == 1 && ok && curVendor != nil:
			if pid, err := strconv.ParseUint(id, 16, 16); err == nil {
				curVendor.products[uint16(pid)] = name
			}

		case depth == 1 && ok && curClass != nil:
			if sub, err := strconv.ParseUint(id, 16, 8); err == nil {
				curClass.subclasses[uint8(sub)] = name
			}
		}
	}
	return sc.Err()
}

// splitEntry splits "xxxx  name" at the first run of spaces.
func splitEntry(s string) (id, name string, ok bool) {
	i := strings.IndexByte(s, ' ')
	if i <= 0 {
		return "", "", false
	}
	name = strings.TrimLeft(s[i:], " ")
	if name == "" {
		return "", "", false
	}
	return s[:i], name, true
}

// Vendor returns the vendor name for vid.
func (db *Database) Vendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if v := db.vendors[vid]; v != nil {
		return v.name
	}
	return ""
}

// Product returns the product name for vid:pid.
func (db *Database) Product(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if v := db.vendors[vid]; v != nil {
		return v.products[pid]
	}
	return ""
}

// Names returns both the vendor and product names for vid:pid.
func (db *Database) Names(vid, pid uint16) (vendorName, productName string) {
	return db.Vendor(vid), db.Product(vid, pid)
}

// Class returns the name of a device or interface class.
func (db *Database) Class(code uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if c := db.classes[code]; c != nil {
		return c.name
	}
	return ""
}

// SubClass returns the name of a subclass within a class.
func (db *Database) SubClass(code, sub uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if c := db.classes[code]; c != nil {
		return c.subclasses[sub]
	}
	return ""
}

// Len returns the number of vendors and products loaded.
func (db *Database) Len() (vendors, products int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, v := range db.vendors {
		products += len(v.products)
	}
	return len(db.vendors), products
}
