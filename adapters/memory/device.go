package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/netbill/domain/router"
	"github.com/artpar/netbill/ports"
)

// ErrAuth is returned by Device.Dial on a credential mismatch.
var ErrAuth = errors.New("invalid user name or password")

// Device is an in-memory network device. Menus are tables of attribute
// rows keyed by ".id" values of the form "*N". It implements
// ports.DeviceDialer and backs the simulated router driver.
type Device struct {
	mu       sync.Mutex
	menus    map[string][]map[string]string
	nextID   int
	username string
	password string

	// DialDelay delays every Dial; DialErr fails it.
	DialDelay time.Duration
	DialErr   error

	failures map[string]error // "op menu" -> error

	dials  int
	closes int
}

// NewDevice creates a simulated device that accepts username/password.
// Empty credentials accept any login.
func NewDevice(identity, username, password string) *Device {
	d := &Device{
		menus:    make(map[string][]map[string]string),
		username: username,
		password: password,
		failures: make(map[string]error),
	}
	d.menus[router.MenuIdentity] = []map[string]string{{".id": "*0", "name": identity}}
	return d
}

// Dial opens a session. It honors ctx while DialDelay elapses.
func (d *Device) Dial(ctx context.Context, addr, username, password string) (ports.DeviceSession, error) {
	d.mu.Lock()
	delay, dialErr := d.DialDelay, d.DialErr
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}
	if d.username != "" && (username != d.username || password != d.password) {
		return nil, ErrAuth
	}

	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	return &deviceSession{d: d}, nil
}

// FailOn makes the next and all later op calls on menu fail with err.
// op is one of "print", "add", "set", "remove". A nil err clears the failure.
func (d *Device) FailOn(op, menu string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := op + " " + menu
	if err == nil {
		delete(d.failures, key)
		return
	}
	d.failures[key] = err
}

// Seed inserts a row directly and returns its id.
func (d *Device) Seed(menu string, attrs map[string]string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.add(menu, attrs)
}

// Rows returns a copy of the rows in menu.
func (d *Device) Rows(menu string) []map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyRows(d.menus[menu])
}

// Find returns the first row in menu matching where.
func (d *Device) Find(menu string, where map[string]string) (map[string]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows := d.match(menu, where)
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

// Sessions returns the number of sessions opened and closed.
func (d *Device) Sessions() (opened, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials, d.closes
}

func (d *Device) add(menu string, attrs map[string]string) string {
	d.nextID++
	id := "*" + strconv.Itoa(d.nextID)
	row := make(map[string]string, len(attrs)+1)
	for k, v := range attrs {
		row[k] = v
	}
	row[".id"] = id
	d.menus[menu] = append(d.menus[menu], row)
	return id
}

func (d *Device) match(menu string, where map[string]string) []map[string]string {
	var out []map[string]string
	for _, row := range d.menus[menu] {
		ok := true
		for k, v := range where {
			if row[k] != v {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return copyRows(out)
}

func (d *Device) fail(op, menu string) error {
	return d.failures[op+" "+menu]
}

func copyRows(rows []map[string]string) []map[string]string {
	out := make([]map[string]string, len(rows))
	for i, row := range rows {
		c := make(map[string]string, len(row))
		for k, v := range row {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

type deviceSession struct {
	d      *Device
	closed bool
}

func (s *deviceSession) Print(menu string, where map[string]string) ([]map[string]string, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.check("print", menu); err != nil {
		return nil, err
	}
	return s.d.match(menu, where), nil
}

func (s *deviceSession) Add(menu string, attrs map[string]string) (string, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.check("add", menu); err != nil {
		return "", err
	}
	return s.d.add(menu, attrs), nil
}

func (s *deviceSession) Set(menu, id string, attrs map[string]string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.check("set", menu); err != nil {
		return err
	}

	rows := s.d.menus[menu]
	if id == "" {
		if len(rows) == 0 {
			s.d.add(menu, attrs)
			return nil
		}
		id = rows[0][".id"]
	}
	for _, row := range rows {
		if row[".id"] == id {
			for k, v := range attrs {
				row[k] = v
			}
			return nil
		}
	}
	return fmt.Errorf("no such item (%s %s)", menu, id)
}

func (s *deviceSession) Remove(menu, id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err := s.check("remove", menu); err != nil {
		return err
	}

	rows := s.d.menus[menu]
	for i, row := range rows {
		if row[".id"] == id {
			s.d.menus[menu] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no such item (%s %s)", menu, id)
}

func (s *deviceSession) Close() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.d.closes++
	}
	return nil
}

func (s *deviceSession) check(op, menu string) error {
	if s.closed {
		return errors.New("session closed")
	}
	return s.d.fail(op, menu)
}

var _ ports.DeviceDialer = (*Device)(nil)
