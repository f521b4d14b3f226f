// Package registry is the persistent source of truth for clients,
// traffic counter baselines and connection sessions. The rendered
// config file and the live interface are both derived from it, never
// the other way around.
package registry

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("registry: not found")
	// ErrAlreadyExists is returned when an insert collides with a
	// unique column. The constraint, not a pre-check, is what closes
	// the concurrent-create race.
	ErrAlreadyExists = errors.New("registry: already exists")
	// ErrSubnetExhausted is returned when every host address in the
	// subnet is taken.
	ErrSubnetExhausted = errors.New("registry: no free addresses in subnet")
	// ErrSessionActive is returned when a second session would be
	// opened for a client.
	ErrSessionActive = errors.New("registry: client already has an active session")
)

// Registry wraps the sqlite database holding all durable peer state.
type Registry struct {
	db         *gorm.DB
	subnetBase string // first three octets, e.g. "10.8.0"
}

// Open opens (creating if needed) the registry database at path and
// runs migrations. The subnet must be an IPv4 /24; client addresses
// are allocated from its host range.
func Open(path, subnet string) (*Registry, error) {
	base, err := subnetBase(subnet)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if err := db.AutoMigrate(&Client{}, &TrafficCounter{}, &Session{}); err != nil {
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return &Registry{db: db, subnetBase: base}, nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func subnetBase(subnet string) (string, error) {
	ip, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return "", fmt.Errorf("registry: subnet: %w", err)
	}
	v4 := ip.To4()
	ones, bits := ipnet.Mask.Size()
	if v4 == nil || bits != 32 || ones != 24 {
		return "", fmt.Errorf("registry: subnet %s must be an IPv4 /24", subnet)
	}
	return fmt.Sprintf("%d.%d.%d", v4[0], v4[1], v4[2]), nil
}

// lastOctet extracts the host octet of an allocated address like
// "10.8.0.7/32". Addresses outside the registry's subnet return -1.
func (r *Registry) lastOctet(address string) int {
	addr, _, _ := strings.Cut(address, "/")
	rest, ok := strings.CutPrefix(addr, r.subnetBase+".")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return -1
	}
	return n
}
