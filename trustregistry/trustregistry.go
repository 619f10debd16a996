// Package trustregistry maintains trust registries: convener-governed
// directories stating, per credential schema, which issuers are recognized
// (and at what verification price) and which verifiers are accepted. Schema
// metadata is mutated through batched updates so one action can rewrite many
// schemas atomically.
package trustregistry

import (
	"encoding/hex"
	"io"
	"sort"

	"github.com/didledger/didledger/batch"
	"github.com/didledger/didledger/did"
	"golang.org/x/xerrors"
)

// Storage bounds, matching the published network limits.
const (
	MaxNameSize           = 50
	MaxGovFrameworkSize   = 1000
	MaxSchemasPerRegistry = 1000
	MaxIssuersPerSchema   = 100
	MaxVerifiersPerSchema = 2000
	MaxPriceCurrencies    = 25
	MaxCurrencySymbolSize = 10
)

var (
	// ErrNotConvener - only the convener of a registry may act on it.
	ErrNotConvener = xerrors.New("not the convener of this registry")
	// ErrTooLarge - a field exceeds its storage bound.
	ErrTooLarge = xerrors.New("value exceeds its size bound")
)

// ID names a trust registry.
type ID [32]byte

func (id ID) Bytes() []byte {
	return id[:]
}

// SchemaID names a credential schema within a registry.
type SchemaID [32]byte

func (id SchemaID) Bytes() []byte {
	return id[:]
}

func (id SchemaID) String() string {
	return hex.EncodeToString(id[:])
}

func (id SchemaID) EncodeTo(w io.Writer) error {
	_, err := w.Write(id[:])
	return err
}

// Prices maps a currency symbol to the issuer's verification price in that
// currency's smallest unit.
type Prices map[string]uint64

// SchemaMetadata is the per-schema trust statement: recognized issuers with
// their verification prices and the set of accepted verifiers. Issuers and
// verifiers are identity strings.
type SchemaMetadata struct {
	Issuers   map[string]Prices
	Verifiers map[string]struct{}
}

// Validate checks the bounds and that every participant parses as an
// identity.
func (md SchemaMetadata) Validate() error {
	if len(md.Issuers) > MaxIssuersPerSchema {
		return xerrors.Errorf("issuers: %w", ErrTooLarge)
	}
	if len(md.Verifiers) > MaxVerifiersPerSchema {
		return xerrors.Errorf("verifiers: %w", ErrTooLarge)
	}
	for issuer, prices := range md.Issuers {
		if _, err := did.ParseIdentity(issuer); err != nil {
			return xerrors.Errorf("issuer %s: %v", issuer, err)
		}
		if len(prices) > MaxPriceCurrencies {
			return xerrors.Errorf("issuer %s prices: %w", issuer, ErrTooLarge)
		}
		for sym := range prices {
			if len(sym) == 0 || len(sym) > MaxCurrencySymbolSize {
				return xerrors.Errorf("issuer %s currency %q: %w", issuer, sym, ErrTooLarge)
			}
		}
	}
	for verifier := range md.Verifiers {
		if _, err := did.ParseIdentity(verifier); err != nil {
			return xerrors.Errorf("verifier %s: %v", verifier, err)
		}
	}
	return nil
}

// EncodeTo writes the deterministic byte form of the metadata: issuers and
// verifiers in sorted order.
func (md SchemaMetadata) EncodeTo(w io.Writer) error {
	issuers := make([]string, 0, len(md.Issuers))
	for issuer := range md.Issuers {
		issuers = append(issuers, issuer)
	}
	sort.Strings(issuers)
	if err := batch.EncodeValue(w, uint32(len(issuers))); err != nil {
		return err
	}
	for _, issuer := range issuers {
		if err := batch.EncodeValue(w, issuer); err != nil {
			return err
		}
		prices := md.Issuers[issuer]
		syms := make([]string, 0, len(prices))
		for sym := range prices {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
		if err := batch.EncodeValue(w, uint32(len(syms))); err != nil {
			return err
		}
		for _, sym := range syms {
			if err := batch.EncodeValue(w, sym); err != nil {
				return err
			}
			if err := batch.EncodeValue(w, prices[sym]); err != nil {
				return err
			}
		}
	}

	verifiers := make([]string, 0, len(md.Verifiers))
	for verifier := range md.Verifiers {
		verifiers = append(verifiers, verifier)
	}
	sort.Strings(verifiers)
	if err := batch.EncodeValue(w, uint32(len(verifiers))); err != nil {
		return err
	}
	for _, verifier := range verifiers {
		if err := batch.EncodeValue(w, verifier); err != nil {
			return err
		}
	}
	return nil
}

func (md SchemaMetadata) clone() SchemaMetadata {
	next := SchemaMetadata{
		Issuers:   make(map[string]Prices, len(md.Issuers)),
		Verifiers: make(map[string]struct{}, len(md.Verifiers)),
	}
	for issuer, prices := range md.Issuers {
		p := make(Prices, len(prices))
		for sym, amount := range prices {
			p[sym] = amount
		}
		next.Issuers[issuer] = p
	}
	for verifier := range md.Verifiers {
		next.Verifiers[verifier] = struct{}{}
	}
	return next
}

// Registry is the domain state of one trust registry.
type Registry struct {
	Convener     did.Identity
	Name         string
	GovFramework []byte
	Schemas      map[SchemaID]SchemaMetadata
}

func (r Registry) validateInfo() error {
	if len(r.Name) == 0 {
		return xerrors.New("registry name must not be empty")
	}
	if len(r.Name) > MaxNameSize {
		return xerrors.Errorf("name: %w", ErrTooLarge)
	}
	if len(r.GovFramework) > MaxGovFrameworkSize {
		return xerrors.Errorf("gov framework: %w", ErrTooLarge)
	}
	return nil
}

func (r Registry) clone() Registry {
	next := Registry{
		Convener:     r.Convener,
		Name:         r.Name,
		GovFramework: r.GovFramework,
		Schemas:      make(map[SchemaID]SchemaMetadata, len(r.Schemas)),
	}
	for id, md := range r.Schemas {
		next.Schemas[id] = md.clone()
	}
	return next
}
