package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Client is one provisioned peer. Name, public key and address are
// all unique; the address constraint is what makes concurrent
// allocation safe.
type Client struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null" json:"name"`
	PublicKey  string    `gorm:"uniqueIndex;not null" json:"public_key"`
	PrivateKey string    `gorm:"not null" json:"-"`
	Address    string    `gorm:"uniqueIndex;not null" json:"address"`
	Active     bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// AddClient inserts a new client. Collisions on any unique column
// surface as ErrAlreadyExists.
func (r *Registry) AddClient(ctx context.Context, name, publicKey, privateKey, address string) (*Client, error) {
	client := &Client{
		Name:       name,
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Address:    address,
		Active:     true,
	}
	if err := r.db.WithContext(ctx).Create(client).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("add client: %w", err)
	}
	return client, nil
}

// ClientByName looks a client up by its unique name.
func (r *Registry) ClientByName(ctx context.Context, name string) (*Client, error) {
	var client Client
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("client by name: %w", err)
	}
	return &client, nil
}

// ClientByPublicKey looks a client up by its public key. The
// reconciler uses this to map dump rows back to clients.
func (r *Registry) ClientByPublicKey(ctx context.Context, publicKey string) (*Client, error) {
	var client Client
	err := r.db.WithContext(ctx).Where("public_key = ?", publicKey).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("client by public key: %w", err)
	}
	return &client, nil
}

// ClientExists reports whether a client with the name exists.
func (r *Registry) ClientExists(ctx context.Context, name string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Client{}).Where("name = ?", name).Count(&n).Error; err != nil {
		return false, fmt.Errorf("client exists: %w", err)
	}
	return n > 0, nil
}

// AllClients returns clients ordered by creation. With activeOnly set,
// deactivated clients are filtered out; the config renderer always
// works from that filtered view.
func (r *Registry) AllClients(ctx context.Context, activeOnly bool) ([]Client, error) {
	tx := r.db.WithContext(ctx).Order("id")
	if activeOnly {
		tx = tx.Where("active = ?", true)
	}
	var clients []Client
	if err := tx.Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("all clients: %w", err)
	}
	return clients, nil
}

// SetClientActive flips the active flag. Inactive clients keep their
// history and address but are dropped from rendered configs.
func (r *Registry) SetClientActive(ctx context.Context, name string, active bool) (*Client, error) {
	var client *Client
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Client
		if err := tx.Where("name = ?", name).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&c).Update("active", active).Error; err != nil {
			return err
		}
		client = &c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("set client active: %w", err)
	}
	return client, nil
}

// DeleteClient removes a client and its counter and session rows in
// one transaction, freeing the name and address for reuse. The removed
// record is returned so callers can purge dependent stores.
func (r *Registry) DeleteClient(ctx context.Context, name string) (*Client, error) {
	var client *Client
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c Client
		if err := tx.Where("name = ?", name).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Where("client_id = ?", c.ID).Delete(&Session{}).Error; err != nil {
			return err
		}
		if err := tx.Where("client_id = ?", c.ID).Delete(&TrafficCounter{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&c).Error; err != nil {
			return err
		}
		client = &c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("delete client: %w", err)
	}
	return client, nil
}

// NextAvailableIP returns the lowest unused /32 in the subnet,
// filling gaps left by deleted clients before extending the range.
// Host octets 2 through 254 are usable; .1 is the server.
func (r *Registry) NextAvailableIP(ctx context.Context) (string, error) {
	var addresses []string
	if err := r.db.WithContext(ctx).Model(&Client{}).Pluck("address", &addresses).Error; err != nil {
		return "", fmt.Errorf("next available ip: %w", err)
	}

	used := make(map[int]bool, len(addresses))
	for _, addr := range addresses {
		if n := r.lastOctet(addr); n > 0 {
			used[n] = true
		}
	}
	for octet := 2; octet < 255; octet++ {
		if !used[octet] {
			return fmt.Sprintf("%s.%d/32", r.subnetBase, octet), nil
		}
	}
	return "", ErrSubnetExhausted
}
