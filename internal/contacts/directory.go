// Package contacts resolves sender addresses to display names.
//
// Lookup tries the raw address first, then phone-number equivalence (E.164)
// so "+1 555-123-4567" in an address book matches a sender "+15551234567".
// This only affects name lookup: the notifier still keys state on the raw
// sender string.
package contacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/emersion/go-vcard"
	"github.com/nyaruka/phonenumbers"
)

// Directory is the lookup the lifecycle coordinator depends on.
type Directory interface {
	DisplayName(address string) (string, bool)
}

// Config configures the address book.
type Config struct {
	// DefaultRegion is the ISO region used to parse numbers without a
	// country code (e.g. "US"). Empty disables phone-number matching.
	DefaultRegion string
	// Static maps addresses to display names.
	Static map[string]string
	// VCardPath is an optional .vcf file with one or more cards.
	VCardPath string
}

// Book is an in-memory Directory. Safe for concurrent use; Load swaps the
// whole table atomically.
type Book struct {
	mu     sync.RWMutex
	region string
	raw    map[string]string
	e164   map[string]string
}

func NewBook(region string) *Book {
	return &Book{region: strings.ToUpper(strings.TrimSpace(region)), raw: map[string]string{}, e164: map[string]string{}}
}

// Open builds a Book from cfg.
func Open(cfg Config) (*Book, error) {
	b := NewBook(cfg.DefaultRegion)
	if err := b.Load(cfg); err != nil {
		return nil, err
	}
	return b, nil
}

// Load replaces the book's contents from cfg.
func (b *Book) Load(cfg Config) error {
	next := NewBook(cfg.DefaultRegion)
	for addr, name := range cfg.Static {
		next.add(addr, name)
	}
	if p := strings.TrimSpace(cfg.VCardPath); p != "" {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open vcard file: %w", err)
		}
		defer f.Close()
		if err := next.ReadVCards(f); err != nil {
			return fmt.Errorf("read vcard file %s: %w", p, err)
		}
	}

	b.mu.Lock()
	b.region, b.raw, b.e164 = next.region, next.raw, next.e164
	b.mu.Unlock()
	return nil
}

// ReadVCards adds every card with a name and at least one telephone number.
func (b *Book) ReadVCards(r io.Reader) error {
	dec := vcard.NewDecoder(r)
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name := cardName(card)
		if name == "" {
			continue
		}
		for _, tel := range card.Values(vcard.FieldTelephone) {
			b.add(strings.TrimPrefix(tel, "tel:"), name)
		}
	}
}

func cardName(card vcard.Card) string {
	if fn := strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName)); fn != "" {
		return fn
	}
	if n := card.Name(); n != nil {
		return strings.TrimSpace(strings.Join([]string{n.GivenName, n.FamilyName}, " "))
	}
	return ""
}

func (b *Book) add(addr, name string) {
	addr = strings.TrimSpace(addr)
	name = strings.TrimSpace(name)
	if addr == "" || name == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw[addr] = name
	if key, ok := b.canonical(addr); ok {
		b.e164[key] = name
	}
}

// canonical returns the E.164 form of addr. Callers hold mu.
func (b *Book) canonical(addr string) (string, bool) {
	if b.region == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(addr, b.region)
	if err != nil {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

func (b *Book) DisplayName(address string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name, ok := b.raw[address]; ok {
		return name, true
	}
	if key, ok := b.canonical(address); ok {
		if name, ok := b.e164[key]; ok {
			return name, true
		}
	}
	return "", false
}

// Len returns the number of raw entries.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.raw)
}

var _ Directory = (*Book)(nil)
